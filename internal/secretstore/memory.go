package secretstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and local development. It
// is strongly consistent and always connected unless failure injection
// is armed.
type Memory struct {
	mu      sync.RWMutex
	name    string
	values  map[string][]byte
	failErr error
	failN   int
}

// NewMemory creates an empty in-memory store.
func NewMemory(name string) *Memory {
	return &Memory{
		name:   name,
		values: make(map[string][]byte),
	}
}

// Name implements Store.
func (m *Memory) Name() string {
	return m.name
}

// Authenticate implements Store. Always succeeds unless failure
// injection is armed.
func (m *Memory) Authenticate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.injectedErr()
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injectedErr(); err != nil {
		return nil, err
	}
	value, ok := m.values[path]
	if !ok {
		return nil, &NotFoundError{Store: m.name, Path: path}
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injectedErr(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[path] = stored
	return nil
}

// Delete implements Store. Deleting a missing path is not an error.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injectedErr(); err != nil {
		return err
	}
	delete(m.values, path)
	return nil
}

// Connected implements Store.
func (m *Memory) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr == nil && m.failN == 0
}

// injectedErr consumes one armed failure. Callers must hold the write
// lock.
func (m *Memory) injectedErr() error {
	if m.failErr == nil {
		return nil
	}
	if m.failN > 0 {
		m.failN--
		err := m.failErr
		if m.failN == 0 {
			m.failErr = nil
		}
		return err
	}
	return m.failErr
}

// Fail arms failure injection: every subsequent operation returns err.
// Pass nil to disarm.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failN = 0
}

// FailNext arms failure injection for the next n operations only, then
// the store recovers on its own.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failN = n
}

// Len reports the number of stored values. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
