package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
)

const (
	UsersPrefix = "users/"
	recordExt   = ".json"
)

func recordKey(id string) string {
	return UsersPrefix + id + recordExt
}

func idFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, UsersPrefix)
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, recordExt)
	return id, ok && id != ""
}

// RecordStore keeps one JSON document per user.
type RecordStore struct {
	store objectstore.Store
}

func NewRecordStore(store objectstore.Store) *RecordStore {
	return &RecordStore{store: store}
}

// Get returns objectstore.ErrNotFound when the user does not exist.
func (r *RecordStore) Get(ctx context.Context, id string) (*models.User, error) {
	o, err := r.store.Get(ctx, recordKey(id))
	if err != nil {
		return nil, err
	}
	u := &models.User{}
	if err := json.Unmarshal(o.Data, u); err != nil {
		return nil, fmt.Errorf("%w: malformed user %s: %w", common.ErrStorage, id, err)
	}
	return u, nil
}

func (r *RecordStore) Put(ctx context.Context, u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = r.store.Put(ctx, recordKey(u.ID), data, objectstore.PutOptions{ContentType: objectstore.ContentTypeJSON})
	return err
}

func (r *RecordStore) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, recordKey(id))
}

// ListIDs pages through user IDs in the store's key order. The marker is the
// last key of the previous page and is opaque to callers.
func (r *RecordStore) ListIDs(ctx context.Context, limit int, marker string) ([]string, string, error) {
	page, err := r.store.List(ctx, UsersPrefix, limit, marker)
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(page.Keys))
	for _, k := range page.Keys {
		if id, ok := idFromKey(k); ok {
			ids = append(ids, id)
		}
	}
	return ids, page.NextMarker, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, objectstore.ErrNotFound)
}
