package db

import (
	"context"
	"sync"
)

// MemoryStore 进程内 Store，DB_DRIVER=memory 和测试使用
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[namespace][key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.records[namespace]
	if ns == nil {
		ns = make(map[string]string)
		m.records[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, namespace)
	return nil
}

// Len 返回 namespace 下的记录数
func (m *MemoryStore) Len(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[namespace])
}
