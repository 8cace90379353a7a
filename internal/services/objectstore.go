package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Lllllllleong/invoicesession/internal/gcp"
)

// ObjectStore persists document bytes and metadata under string keys.
// gcp.GCSObjectStore is the production implementation.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Create(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DocumentKey is where an uploaded file is stored. The document id keeps two
// uploads with the same file name apart.
func DocumentKey(sessionID, documentID, filename string) string {
	return fmt.Sprintf("sessions/%s/documents/%s/%s", sessionID, documentID, path.Base(filename))
}

// MetadataKey is where a document's extracted record is stored.
func MetadataKey(sessionID, documentID string) string {
	return fmt.Sprintf("sessions/%s/metadata/%s.json", sessionID, documentID)
}

// ParseUploadKey splits sessions/<sid>/uploads/<filename> into its parts.
func ParseUploadKey(key string) (sessionID, filename string, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[0] != "sessions" || parts[2] != "uploads" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" || strings.HasSuffix(parts[3], "/") {
		return "", "", false
	}
	return parts[1], parts[3], true
}

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryObjectStore is an in-process ObjectStore used when no bucket is configured.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryObjectStore returns an empty store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: map[string]memoryObject{}}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// Create leaves an existing object untouched.
func (m *MemoryObjectStore) Create(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return nil
	}
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gcp.ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

// Keys lists stored keys with the given prefix.
func (m *MemoryObjectStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
