package settings

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// MemoryStore keeps settings in memory. The Err fields make the matching call
// fail, which is how tests exercise the fallback paths.
type MemoryStore struct {
	mu sync.Mutex
	s  Settings

	LoadErr error
	SaveErr error
	Saves   int
}

// NewMemoryStore returns a store holding the defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{s: Defaults()}
}

func (m *MemoryStore) Load(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return Settings{}, m.LoadErr
	}
	return m.s, nil
}

func (m *MemoryStore) SaveOffset(_ context.Context, offset r3.Vec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.s.Offset = offset
	return nil
}

func (m *MemoryStore) SavePreferences(_ context.Context, prefs Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.s.Preferences = prefs
	return nil
}

func (m *MemoryStore) Close() error { return nil }
