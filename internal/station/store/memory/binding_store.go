package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type BindingStore struct {
	mu       sync.RWMutex
	bindings map[types.Role]types.DeviceBinding
}

func NewBindingStore(seed ...types.DeviceBinding) *BindingStore {
	s := &BindingStore{bindings: make(map[types.Role]types.DeviceBinding)}
	for _, b := range seed {
		s.bindings[b.Role] = b
	}
	return s
}

func (s *BindingStore) ReadBinding(_ context.Context, role types.Role) (*types.DeviceBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[role]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *BindingStore) WriteBinding(_ context.Context, b types.DeviceBinding) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.Role] = b
	return nil
}
