package gateway

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// keyedMutex serializes token minting per client so a cache miss under
// load results in one mint instead of a thundering herd.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	maxWait time.Duration
}

type keyedEntry struct {
	ch   chan struct{} // capacity 1, holds the lock token
	refs int
}

func newKeyedMutex(maxWait time.Duration) *keyedMutex {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &keyedMutex{
		entries: make(map[string]*keyedEntry),
		maxWait: maxWait,
	}
}

// Lock acquires the per-key lock, waiting at most maxWait or until ctx
// is done. The returned unlock must be called on every exit path.
func (m *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()

	select {
	case <-e.ch:
		return func() { m.unlock(key, e) }, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "waiting for mint lock", ctx.Err())
	case <-timer.C:
		m.release(key, e)
		return nil, apperrors.Newf(apperrors.KindDependencyUnavailable, "mint lock wait exceeded %s", m.maxWait)
	}
}

func (m *keyedMutex) unlock(key string, e *keyedEntry) {
	e.ch <- struct{}{}
	m.release(key, e)
}

func (m *keyedMutex) release(key string, e *keyedEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}
