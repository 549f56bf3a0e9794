// Package actor implements the relay's State Actor: the single serialized
// owner of token metadata, the filename index, the FIFO pending queue,
// per-IP rate-limit timestamps, and the durable health counter described in
// spec.md §3/§4.1. Every exported method takes the actor's single mutex for
// its whole duration — "no two operations observe each other mid-flight"
// (spec.md §5) — and persists the full state to badger before releasing it.
package actor

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/oneshot/internal/sanitize"
)

// stuckReservedGraceSeconds is the §4.1.6 "10-minute grace" window after
// which a reservation with no matching commit is garbage collected.
const stuckReservedGraceSeconds = 600

// Config holds the admission-control knobs from spec.md §6's environment
// variable surface. A zero value for RateLimitSec/MaxPending/TTLSec disables
// the corresponding check, per spec.
type Config struct {
	APIKey       string
	RateLimitSec int64
	MaxPending   int
	TTLSec       int64
}

// Actor is the relay's State Actor.
type Actor struct {
	mu    sync.Mutex
	state *persistedState
	db    *badgerStore
	cfg   Config

	// now is overridable in tests; defaults to wall-clock seconds.
	now func() int64
}

// Open opens (or creates) the badger-backed state database at dir, loads any
// previously persisted state, and runs one cleanup pass before returning —
// this is what makes metrics.hcCount and the token set durable across
// restarts (spec.md §3 invariant 6).
func Open(dir string, cfg Config) (*Actor, error) {
	db, err := openBadgerStore(dir)
	if err != nil {
		return nil, err
	}
	state, err := db.load()
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	a := &Actor{
		state: state,
		db:    db,
		cfg:   cfg,
		now:   func() int64 { return time.Now().Unix() },
	}

	if _, err := a.Cleanup(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("initial cleanup: %w", err)
	}
	return a, nil
}

// Close releases the underlying database.
func (a *Actor) Close() error { return a.db.Close() }

// ReserveResult is returned by a successful Reserve.
type ReserveResult struct {
	Token     string
	ObjectKey string
	Evicted   []string // objectKeys scheduled for Blob Store deletion
}

// ClaimResult is returned by a successful Claim.
type ClaimResult struct {
	ObjectKey   string
	Filename    string
	ContentType string
}

// HCResult is returned by HC.
type HCResult struct {
	HCCount       int64
	PendingTokens int
	PendingBytes  int64
}

// runOp is the actor's single critical section: clone the durable state,
// run cleanupLocked, run fn, persist the result, and only then swap it in as
// the live state. If persistence fails the clone is discarded and a.state
// is untouched — spec.md §4.1's "the actor's state is never left mutated if
// persistence fails". A business-level failure from fn (one of the sentinel
// errors) does NOT prevent persistence: cleanup's own removals (and any
// partial bookkeeping fn performed before detecting the failure) are still
// legitimate garbage collection and must survive the op.
func (a *Actor) runOp(fn func(s *persistedState, now int64) (evictions []string, err error)) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	working := a.state.clone()
	now := a.now()

	cleanupEv := cleanupLocked(working, now, a.cfg)
	opEv, opErr := fn(working, now)
	allEv := append(cleanupEv, opEv...)

	if err := a.db.save(working); err != nil {
		return nil, fmt.Errorf("persist actor state: %w", err)
	}
	a.state = working
	return allEv, opErr
}

// Reserve implements spec.md §4.1.1.
func (a *Actor) Reserve(ip, apiKey, filename string, size int64, contentType string) (ReserveResult, []string, error) {
	var result ReserveResult
	evictions, err := a.runOp(func(s *persistedState, now int64) ([]string, error) {
		if a.cfg.APIKey != "" && apiKey != a.cfg.APIKey {
			return nil, ErrUnauthorized
		}
		if a.cfg.RateLimitSec > 0 {
			if last, ok := s.LastUpload[ip]; ok && now-last < a.cfg.RateLimitSec {
				return nil, ErrTooManyRequest
			}
		}

		clean := sanitize.Filename(filename)
		if clean == "" {
			return nil, ErrNotFound
		}

		token, err := newToken()
		if err != nil {
			return nil, err
		}
		objectKey := "obj/" + token + sanitize.Ext(clean)

		var evicted []string
		if prior, ok := s.ByName[clean]; ok {
			if pm, ok2 := s.Tokens[prior]; ok2 {
				evicted = append(evicted, pm.ObjectKey)
				delete(s.Tokens, prior)
				s.Queue = removeFromQueue(s.Queue, prior)
			}
			delete(s.ByName, clean)
		}

		s.Tokens[token] = &TokenMeta{
			Token:       token,
			ObjectKey:   objectKey,
			Filename:    clean,
			ContentType: truncateContentType(contentType),
			Size:        size,
			CreatedAt:   now,
			ExpiresAt:   expiresAt(now, a.cfg.TTLSec),
			Status:      StatusReserved,
			UploaderIP:  ip,
		}
		s.ByName[clean] = token
		s.Queue = append(s.Queue, token)
		if a.cfg.RateLimitSec > 0 {
			s.LastUpload[ip] = now
		}

		evicted = append(evicted, enforceCap(s, a.cfg.MaxPending)...)

		result = ReserveResult{Token: token, ObjectKey: objectKey, Evicted: evicted}
		return evicted, nil
	})
	return result, evictions, err
}

// Commit implements spec.md §4.1.2.
func (a *Actor) Commit(token string) ([]string, error) {
	return a.runOp(func(s *persistedState, now int64) ([]string, error) {
		tm, ok := s.Tokens[token]
		if !ok {
			return nil, ErrNotFound
		}
		if tm.Status != StatusReserved {
			return nil, nil // idempotent
		}
		tm.Status = StatusReady
		return enforceCap(s, a.cfg.MaxPending), nil
	})
}

// Abort implements spec.md §4.1.3.
func (a *Actor) Abort(token string) ([]string, error) {
	return a.runOp(func(s *persistedState, now int64) ([]string, error) {
		return removeToken(s, token), nil
	})
}

// Claim implements spec.md §4.1.4 — the one-shot linearization point.
func (a *Actor) Claim(token, filename, ip string) (ClaimResult, []string, error) {
	var result ClaimResult
	evictions, err := a.runOp(func(s *persistedState, now int64) ([]string, error) {
		tm, ok := s.Tokens[token]
		if !ok || tm.Status != StatusReady || tm.Filename != filename {
			return nil, ErrNotFound
		}
		if tm.ExpiresAt > 0 && tm.ExpiresAt <= now {
			return removeToken(s, token), ErrNotFound
		}

		tm.Status = StatusClaimed
		result = ClaimResult{ObjectKey: tm.ObjectKey, Filename: tm.Filename, ContentType: tm.ContentType}
		return nil, nil
	})
	return result, evictions, err
}

// Finalize implements spec.md §4.1.5.
func (a *Actor) Finalize(token string) ([]string, error) {
	return a.runOp(func(s *persistedState, now int64) ([]string, error) {
		return removeToken(s, token), nil
	})
}

// Cleanup runs cleanupLocked standalone — spec.md §4.1.6's "also callable
// standalone via cleanup and via scheduled tick". cleanupLocked already ran
// as part of runOp, so fn here is a no-op.
func (a *Actor) Cleanup() ([]string, error) {
	return a.runOp(func(_ *persistedState, _ int64) ([]string, error) {
		return nil, nil
	})
}

// HC implements spec.md §4.1.7.
func (a *Actor) HC() (HCResult, error) {
	var result HCResult
	_, err := a.runOp(func(s *persistedState, _ int64) ([]string, error) {
		s.Metrics.HCCount++

		var pendingTokens int
		var pendingBytes int64
		for _, tm := range s.Tokens {
			if tm.Status != StatusClaimed {
				pendingTokens++
				pendingBytes += tm.Size
			}
		}
		result = HCResult{HCCount: s.Metrics.HCCount, PendingTokens: pendingTokens, PendingBytes: pendingBytes}
		return nil, nil
	})
	return result, err
}

// removeToken deletes token (any status) from all indices and returns its
// objectKey as a single-element eviction slice, or nil if token did not
// exist — the shared shape behind Abort, Finalize, and cleanup removals.
func removeToken(s *persistedState, token string) []string {
	tm, ok := s.Tokens[token]
	if !ok {
		return nil
	}
	delete(s.Tokens, token)
	s.Queue = removeFromQueue(s.Queue, token)
	if s.ByName[tm.Filename] == token {
		delete(s.ByName, tm.Filename)
	}
	return []string{tm.ObjectKey}
}

// cleanupLocked implements spec.md §4.1.6. It runs against a state already
// owned exclusively by the caller (runOp holds the mutex and is operating on
// a private clone), hence no locking here.
func cleanupLocked(s *persistedState, now int64, cfg Config) []string {
	var evicted []string

	for token, tm := range s.Tokens {
		if tm.ExpiresAt > 0 && tm.ExpiresAt < now {
			evicted = append(evicted, removeToken(s, token)...)
		}
	}
	for token, tm := range s.Tokens {
		if tm.Status == StatusReserved && now-tm.CreatedAt > stuckReservedGraceSeconds {
			evicted = append(evicted, removeToken(s, token)...)
		}
	}

	evicted = append(evicted, enforceCap(s, cfg.MaxPending)...)

	cutoff := int64(86400)
	if cfg.RateLimitSec > cutoff {
		cutoff = cfg.RateLimitSec
	}
	for ip, t := range s.LastUpload {
		if now-t > cutoff {
			delete(s.LastUpload, ip)
		}
	}

	return evicted
}

// enforceCap evicts the oldest ready tokens (FIFO over queue order) until at
// most maxPending ready tokens remain. maxPending<=0 disables the cap.
func enforceCap(s *persistedState, maxPending int) []string {
	if maxPending <= 0 {
		return nil
	}

	var evicted []string
	for {
		var oldestReady string
		readyCount := 0
		for _, token := range s.Queue {
			tm, ok := s.Tokens[token]
			if !ok || tm.Status != StatusReady {
				continue
			}
			readyCount++
			if oldestReady == "" {
				oldestReady = token
			}
		}
		if readyCount <= maxPending {
			return evicted
		}
		evicted = append(evicted, removeToken(s, oldestReady)...)
	}
}

func expiresAt(now, ttlSec int64) int64 {
	if ttlSec <= 0 {
		return 0
	}
	return now + ttlSec
}

// truncateContentType bounds contentType to the 200-byte limit spec.md §3 names.
func truncateContentType(contentType string) string {
	if len(contentType) <= 200 {
		return contentType
	}
	return contentType[:200]
}

// newToken generates an opaque, URL-safe token with >=128 bits of entropy
// (spec.md §3). uuid.NewRandom's 16 raw bytes are base64url-encoded rather than
// surfaced as a formatted UUID string, keeping the token short and avoiding
// baking the UUID's dashes/version nibble into a value callers must treat as
// a meaningless opaque handle anyway.
func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}
