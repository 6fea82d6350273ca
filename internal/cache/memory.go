package cache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxEntries = 16384

// entry is a sealed value with its expiry deadline.
type entry struct {
	sealed   []byte
	deadline time.Time
}

// Memory is an in-process Cache: LRU bounded, per-entry TTL, values
// sealed with AES-GCM when a seal key is configured. Entries past their
// deadline behave as misses and are swept periodically.
type Memory struct {
	mu   sync.Mutex
	lru  *lru.Cache[string, entry]
	aead cipher.AEAD
	now  func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a cache. sealKey must be 16, 24, or 32 bytes for
// AES-GCM sealing, or nil to store values unsealed (tests only; the
// composition root always passes the store-provided seal key).
func NewMemory(maxEntries int, sealKey []byte, opts ...MemoryOption) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	cache, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating LRU: %w", err)
	}

	m := &Memory{lru: cache, now: time.Now}

	if len(sealKey) > 0 {
		block, err := aes.NewCipher(sealKey)
		if err != nil {
			return nil, fmt.Errorf("creating seal cipher: %w", err)
		}
		m.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating seal AEAD: %w", err)
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	e, ok := m.lru.Get(key)
	if ok && m.now().After(e.deadline) {
		m.lru.Remove(key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	value, err := m.unseal(key, e.sealed)
	if err != nil {
		// A value that fails to unseal is treated as a miss; the caller
		// falls through to the source of truth.
		return nil, false, nil
	}
	return value, true, nil
}

// SetWithTTL implements Cache.
func (m *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // already expired, nothing to store
	}
	sealed, err := m.seal(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, entry{sealed: sealed, deadline: m.now().Add(ttl)})
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}

// ScanPrefix implements Cache.
func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for _, key := range m.lru.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := m.lru.Peek(key); ok && now.Before(e.deadline) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// InvalidatePrefix implements Cache.
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes expired entries. The composition root runs this on a
// ticker so expired sealed material does not linger in memory.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for _, key := range m.lru.Keys() {
		if e, ok := m.lru.Peek(key); ok && now.After(e.deadline) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries, including not-yet-swept expired
// ones.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// seal encrypts value with AES-GCM, binding the key name as additional
// data so a sealed value cannot be replayed under another cache key.
func (m *Memory) seal(key string, value []byte) ([]byte, error) {
	if m.aead == nil {
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return m.aead.Seal(nonce, nonce, value, []byte(key)), nil
}

func (m *Memory) unseal(key string, sealed []byte) ([]byte, error) {
	if m.aead == nil {
		out := make([]byte, len(sealed))
		copy(out, sealed)
		return out, nil
	}
	if len(sealed) < m.aead.NonceSize() {
		return nil, fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := sealed[:m.aead.NonceSize()], sealed[m.aead.NonceSize():]
	return m.aead.Open(nil, nonce, ciphertext, []byte(key))
}
