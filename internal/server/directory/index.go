package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
)

// IndexKey is the well-known location of the identifier index.
const IndexKey = "indices/username-email-index.json"

// Index maps a lowercased username or email to a user ID. Usernames and
// emails share one key space.
type Index map[string]string

// NormalizeKey turns a username or email into its index key.
func NormalizeKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Lookup resolves a username or email in any case.
func (idx Index) Lookup(identifier string) (string, bool) {
	id, ok := idx[NormalizeKey(identifier)]
	return id, ok
}

// Owner returns the ID the key points to, or "".
func (idx Index) Owner(key string) string {
	return idx[key]
}

func (idx Index) Set(key, id string) {
	idx[key] = id
}

// Remove deletes key only while it still points to id.
func (idx Index) Remove(key, id string) bool {
	if owner, ok := idx[key]; ok && owner == id {
		delete(idx, key)
		return true
	}
	return false
}

func (idx Index) Clone() Index {
	c := make(Index, len(idx))
	for k, v := range idx {
		c[k] = v
	}
	return c
}

// IndexStore reads and writes the index blob.
//
// The index is a single object rewritten in full on every change, so two
// writers that load the same version both win locally and the later save
// silently drops the earlier one's entries. With conditional writes enabled
// Save sends the loaded ETag as a precondition and the loser gets
// objectstore.ErrPreconditionFailed instead; without them the store keeps
// last-write-wins semantics.
type IndexStore struct {
	store       objectstore.Store
	conditional bool
}

func NewIndexStore(store objectstore.Store, conditional bool) *IndexStore {
	return &IndexStore{store: store, conditional: conditional}
}

// Load returns the index and its version. A missing index object is the
// first-run state: an empty index with an empty version.
func (s *IndexStore) Load(ctx context.Context) (Index, string, error) {
	o, err := s.store.Get(ctx, IndexKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Index{}, "", nil
		}
		return nil, "", err
	}

	idx := Index{}
	if len(o.Data) > 0 {
		if err := json.Unmarshal(o.Data, &idx); err != nil {
			return nil, "", fmt.Errorf("%w: malformed index: %w", common.ErrStorage, err)
		}
	}
	return idx, o.ETag, nil
}

// Save overwrites the index. version is the value Load returned; it is only
// consulted when conditional writes are enabled.
func (s *IndexStore) Save(ctx context.Context, idx Index, version string) (string, error) {
	data, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}

	opts := objectstore.PutOptions{ContentType: objectstore.ContentTypeJSON}
	if s.conditional {
		if version == "" {
			opts.IfNoneMatch = true
		} else {
			opts.IfMatch = version
		}
	}
	return s.store.Put(ctx, IndexKey, data, opts)
}
