package actor

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// stateKey is the single durable key the whole actor state lives under
// (spec.md §6: "Persisted state layout: a single key `data`"). Grounded on
// marmos91-dittofs's pkg/metadata/store/badger package — same
// db.Update/db.View + txn.Set/txn.Get shape, narrowed here to one key
// instead of badger's per-entity keyspace because spec.md deliberately
// collapses all actor state into a single serialized blob.
var stateKey = []byte("data")

// badgerStore is the durable write-through side of the State Actor.
type badgerStore struct {
	db *badger.DB
}

func openBadgerStore(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state db at %q: %w", dir, err)
	}
	return &badgerStore{db: db}, nil
}

func (b *badgerStore) Close() error { return b.db.Close() }

// load reads the persisted state, returning a fresh empty state if none has
// been written yet (first boot).
func (b *badgerStore) load() (*persistedState, error) {
	out := newPersistedState()
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load actor state: %w", err)
	}
	return out, nil
}

// save persists state atomically under stateKey inside a single badger
// transaction — this is the "ends by persisting the full state atomically"
// step spec.md §4.1 requires of every actor op.
func (b *badgerStore) save(state *persistedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode actor state: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, payload)
	})
}
