package storage

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
)

type memoryObject struct {
	contentType string
	data        []byte
}

// MemoryStore keeps objects in process memory. Presigned URLs use the
// memory:// scheme and carry the expiry as a query parameter.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", common.ErrorNotFound
	}
	u := url.URL{Scheme: "memory", Path: "/" + key}
	u.RawQuery = url.Values{"expires": {time.Now().Add(ttl).UTC().Format(time.RFC3339)}}.Encode()
	return u.String(), nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) (data []byte, contentType string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return append([]byte(nil), o.data...), o.contentType, ok
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
