package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/surgeworks/stampede/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and local dry runs
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func key(namespace, name string) string {
	return namespace + "\x00" + name
}

func (s *MemoryStore) Put(ctx context.Context, namespace, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key(namespace, name)] = cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrBlobNotFound, namespace, name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	nsPrefix := namespace + "\x00"
	for k := range s.objects {
		if !strings.HasPrefix(k, nsPrefix) {
			continue
		}
		name := strings.TrimPrefix(k, nsPrefix)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Exists(ctx context.Context, namespace, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key(namespace, name)]
	return ok, nil
}
