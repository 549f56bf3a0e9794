// Package store implements the relay's Blob Store: an opaque, keyed bytes
// store with put/get/delete/list, generalized from the teacher's
// store.Backend (path-based local disk writer) and store.CAS (content
// addressing, per-key locking) into the narrower contract spec.md §2/§4.1
// actually needs.
package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when key does not exist. Delete does not
// return it: deleting a missing key succeeds.
var ErrNotFound = errors.New("store: object not found")

// Meta is the small metadata sidecar spec.md §6 requires to be stored
// alongside every object: "stored metadata includes filename and
// uploaded_at (epoch seconds as string)".
type Meta struct {
	Filename    string
	ContentType string
	UploadedAt  int64 // unix seconds
}

// Object is what List returns for each key under a prefix.
type Object struct {
	Key  string
	Size int64
}

// Blob is the relay's object store contract. Both the local-disk and S3
// implementations satisfy it; the relay's state machine never knows which
// one is in use — per spec.md §1's "the choice of object store
// implementation" being out of the state machine's concern.
type Blob interface {
	// Put streams r to key, storing meta alongside it. Implementations must
	// not leave a partial object behind on error.
	Put(ctx context.Context, key string, r io.Reader, meta Meta) (size int64, err error)

	// Get opens key for streaming. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, key string) (rc io.ReadCloser, meta Meta, size int64, err error)

	// Delete removes key. Succeeds silently if key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key has the given prefix. Only used by
	// the health endpoint (spec.md §6: "list(prefix="obj/") is used only by
	// the health endpoint").
	List(ctx context.Context, prefix string) ([]Object, error)
}
