package objectstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type memoryObject struct {
	data        []byte
	etag        string
	contentType string
}

// MemoryStore keeps objects in process memory. It honours the same
// conditional-write semantics as the network backends.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Key:         key,
		Data:        append([]byte(nil), o.data...),
		ETag:        o.etag,
		ContentType: o.contentType,
	}, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[key]
	if opts.IfNoneMatch && exists {
		return "", ErrPreconditionFailed
	}
	if opts.IfMatch != "" && (!exists || current.etag != opts.IfMatch) {
		return "", ErrPreconditionFailed
	}

	m.seq++
	etag := `"` + strconv.FormatInt(m.seq, 10) + `"`
	m.objects[key] = memoryObject{
		data:        append([]byte(nil), data...),
		etag:        etag,
		contentType: opts.ContentType,
	}
	return etag, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string, limit int, marker string) (*ListPage, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > marker {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	page := &ListPage{Keys: keys}
	if limit > 0 && len(keys) > limit {
		page.Keys = keys[:limit]
		page.NextMarker = keys[limit-1]
	}
	return page, nil
}

func (m *MemoryStore) EnsureContainer(ctx context.Context) error { return nil }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
