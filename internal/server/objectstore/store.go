// Package objectstore is a thin adapter over bucket-style key/object
// backends. It knows nothing about the documents it stores, never retries,
// and reports misses and failed write preconditions through sentinel errors.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cosauth/internal/common"
)

var (
	// ErrNotFound matches common.ErrorNotFound.
	ErrNotFound = fmt.Errorf("object %w", common.ErrorNotFound)

	// ErrPreconditionFailed is returned by Put when IfMatch or IfNoneMatch
	// does not hold.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ContentTypeJSON is used for every document the directory writes.
const ContentTypeJSON = "application/json"

// Object is a fetched blob together with its version stamp.
type Object struct {
	Key         string
	Data        []byte
	ETag        string
	ContentType string
}

// PutOptions controls a write. IfMatch and IfNoneMatch make the write
// conditional; leave both empty for last-write-wins.
type PutOptions struct {
	ContentType string
	// IfMatch succeeds only when the stored ETag equals this value.
	IfMatch string
	// IfNoneMatch succeeds only when no object exists under the key.
	IfNoneMatch bool
}

// ListPage is one page of a prefix listing. An empty NextMarker means there
// are no further pages.
type ListPage struct {
	Keys       []string
	NextMarker string
}

// Store is the contract every backend satisfies. All methods are network
// calls and may fail with transient errors.
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (etag string, err error)
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns keys with the given prefix strictly after marker, in
	// lexicographic order, at most limit of them.
	List(ctx context.Context, prefix string, limit int, marker string) (*ListPage, error)
	// EnsureContainer creates the bucket (or table) when absent.
	EnsureContainer(ctx context.Context) error
	Ping(ctx context.Context) error
}

// storageError wraps backend failures so callers can match common.ErrStorage
// while keeping the cause.
func storageError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", common.ErrStorage, op, key, err)
}
