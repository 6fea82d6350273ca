package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer holds sensitive bytes in a memguard enclave. The enclave keeps
// the data encrypted (XSalsa20Poly1305) whenever it is not open and
// attempts to mlock backing pages. Destroy is idempotent; after Destroy,
// Open returns an empty locked buffer.
type Buffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewBuffer copies data into a protected memory region. The caller keeps
// ownership of the input slice and should zero it after the call.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer when done:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	key := locked.Bytes()
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed || b.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// With opens the buffer, invokes fn with the plaintext, and wipes the
// plaintext before returning. The slice passed to fn is only valid for
// the duration of the call.
func (b *Buffer) With(fn func(data []byte) error) error {
	locked, err := b.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy marks the buffer destroyed and drops the enclave reference.
// The encrypted payload is safe even without explicit destruction; for
// complete cleanup of all memguard data at exit call memguard.Purge().
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}
