package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/progress"
)

// ProgressStore keeps encoded snapshots in process memory. It stores bytes
// rather than structs so it exercises the same codec as the durable stores.
type ProgressStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{items: make(map[string][]byte)}
}

func (s *ProgressStore) Save(_ context.Context, key string, snap progress.Snapshot) error {
	data, err := progress.Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = data
	s.mu.Unlock()
	return nil
}

func (s *ProgressStore) Load(_ context.Context, key string) (progress.Snapshot, bool, error) {
	s.mu.RLock()
	data, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return progress.Snapshot{}, false, nil
	}
	snap, err := progress.Decode(data)
	if err != nil {
		return progress.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *ProgressStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Put stores raw bytes under key; tests use it to plant legacy or corrupt data.
func (s *ProgressStore) Put(key string, data []byte) {
	s.mu.Lock()
	s.items[key] = data
	s.mu.Unlock()
}
