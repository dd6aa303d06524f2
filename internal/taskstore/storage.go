package taskstore

import (
	"context"
	"sync"
)

// Persisted keys. Each holds a JSON document.
const (
	KeyTasks         = "tasks"
	KeyRewardTiers   = "rewardTiers"
	KeyMonthlyTarget = "monthlyTarget"
	KeyUserPoints    = "userPoints"
	KeyPointsResetAt = "pointsResetAt"
)

// Storage is the durable key/value port the store persists through.
// Get reports ok=false for a key that was never set.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStorage is a Storage held in process memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
