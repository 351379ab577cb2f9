package storage

import (
	"sort"
	"sync"
)

// MemoryStore keeps sections in process memory.
type MemoryStore struct {
	lock     sync.RWMutex
	sections map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sections: make(map[string]map[string]string)}
}

func (m *MemoryStore) Section(name string) (map[string]string, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	kv, ok := m.sections[name]
	if !ok {
		return nil, false, nil
	}
	return copySection(kv), true, nil
}

func (m *MemoryStore) SetSection(name string, kv map[string]string) error {
	if name == "" {
		return ErrEmptySection
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	m.sections[name] = copySection(kv)
	return nil
}

func (m *MemoryStore) RemoveSection(name string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.sections, name)
	return nil
}

func (m *MemoryStore) SectionNames() ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	out := make([]string, 0, len(m.sections))
	for k := range m.sections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
