// Package token mints and verifies the signed tokens that carry vendor
// identity across the internal service fabric. Tokens are HS256 JWTs;
// the signing key lives in the secret store and is held in memguard
// buffers in process. Key rotation keeps the previous key verifiable so
// tokens minted just before a swap stay valid.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
	"github.com/authrelay/authrelay/internal/secure"
)

// keyMaterial is the stored form at keys/token-signing.
type keyMaterial struct {
	KID          string `json:"kid"`
	Key          string `json:"key"` // base64
	PreviousKID  string `json:"previous_kid,omitempty"`
	PreviousKey  string `json:"previous_key,omitempty"` // base64
	CacheSealKey string `json:"cache_seal_key,omitempty"`
}

// keySet is an immutable snapshot of the signing keys. Readers take the
// snapshot without locks; refresh swaps the whole set copy-on-write.
type keySet struct {
	currentKID  string
	current     *secure.Buffer
	previousKID string
	previous    *secure.Buffer
}

// Keyring holds the signing keys and refreshes them from the secret
// store. Safe for concurrent use.
type Keyring struct {
	store  secretstore.Store
	logger *logging.Logger
	keys   atomic.Pointer[keySet]
}

// NewKeyring creates an empty keyring; call Load before first use.
func NewKeyring(store secretstore.Store, logger *logging.Logger) *Keyring {
	return &Keyring{store: store, logger: logger.WithComponent("token.keyring")}
}

// Load reads the signing key material from the store and swaps it in.
// Also used for periodic refresh.
func (k *Keyring) Load(ctx context.Context) error {
	data, err := k.store.Get(ctx, secretstore.SigningKeyPath())
	if err != nil {
		return fmt.Errorf("reading signing key: %w", err)
	}
	var material keyMaterial
	if err := json.Unmarshal(data, &material); err != nil {
		return fmt.Errorf("decoding signing key material: %w", err)
	}
	if material.KID == "" || material.Key == "" {
		return fmt.Errorf("signing key material incomplete")
	}
	current, err := base64.StdEncoding.DecodeString(material.Key)
	if err != nil {
		return fmt.Errorf("decoding signing key: %w", err)
	}

	set := &keySet{
		currentKID: material.KID,
		current:    secure.NewBuffer(current),
	}
	zero(current)

	if material.PreviousKey != "" {
		previous, err := base64.StdEncoding.DecodeString(material.PreviousKey)
		if err != nil {
			return fmt.Errorf("decoding previous signing key: %w", err)
		}
		set.previousKID = material.PreviousKID
		set.previous = secure.NewBuffer(previous)
		zero(previous)
	}

	old := k.keys.Swap(set)
	if old != nil {
		old.destroy()
	}
	k.logger.Debug("signing keys loaded, kid=%s previous=%s", set.currentKID, set.previousKID)
	return nil
}

// RunRefresh refreshes the keyring on the given interval until the
// context is cancelled. Refresh failures are logged and retried at the
// next tick; the last good key set stays in service.
func (k *Keyring) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.Load(ctx); err != nil {
				k.logger.Warn("signing key refresh failed, keeping previous keys: %v", err)
			}
		}
	}
}

// CurrentKID returns the active signing key identifier.
func (k *Keyring) CurrentKID() string {
	set := k.keys.Load()
	if set == nil {
		return ""
	}
	return set.currentKID
}

// withCurrent invokes fn with the current signing key plaintext.
func (k *Keyring) withCurrent(fn func(kid string, key []byte) error) error {
	set := k.keys.Load()
	if set == nil {
		return fmt.Errorf("keyring not loaded")
	}
	return set.current.With(func(key []byte) error {
		return fn(set.currentKID, key)
	})
}

// lookup returns the key bytes for a kid, preferring the current key.
// The returned copy must be zeroed by the caller.
func (k *Keyring) lookup(kid string) ([]byte, error) {
	set := k.keys.Load()
	if set == nil {
		return nil, fmt.Errorf("keyring not loaded")
	}

	read := func(buf *secure.Buffer) ([]byte, error) {
		var out []byte
		err := buf.With(func(key []byte) error {
			out = append([]byte(nil), key...)
			return nil
		})
		return out, err
	}

	switch kid {
	case set.currentKID:
		return read(set.current)
	case set.previousKID:
		if set.previous == nil {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return read(set.previous)
	default:
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
}

func (s *keySet) destroy() {
	if s.current != nil {
		s.current.Destroy()
	}
	if s.previous != nil {
		s.previous.Destroy()
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// EncodeKeyMaterial builds the stored form for provisioning and tests.
// cacheSealKey may be nil.
func EncodeKeyMaterial(kid string, key []byte, previousKID string, previousKey, cacheSealKey []byte) ([]byte, error) {
	material := keyMaterial{
		KID: kid,
		Key: base64.StdEncoding.EncodeToString(key),
	}
	if len(previousKey) > 0 {
		material.PreviousKID = previousKID
		material.PreviousKey = base64.StdEncoding.EncodeToString(previousKey)
	}
	if len(cacheSealKey) > 0 {
		material.CacheSealKey = base64.StdEncoding.EncodeToString(cacheSealKey)
	}
	data, err := json.Marshal(material)
	if err != nil {
		return nil, fmt.Errorf("encoding key material: %w", err)
	}
	return data, nil
}

// DecodeCacheSealKey extracts the cache seal key from stored material.
func DecodeCacheSealKey(data []byte) ([]byte, error) {
	var material keyMaterial
	if err := json.Unmarshal(data, &material); err != nil {
		return nil, fmt.Errorf("decoding key material: %w", err)
	}
	if material.CacheSealKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(material.CacheSealKey)
	if err != nil {
		return nil, fmt.Errorf("decoding cache seal key: %w", err)
	}
	return key, nil
}
