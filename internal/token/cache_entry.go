package token

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheEntry is the compact token-metadata record the gateway stores in
// the cache, keyed by token:{client_id}:{jti}. The entry's TTL matches
// exp-now, so it evicts with the token.
type CacheEntry struct {
	Token     string    `json:"token"`
	JTI       string    `json:"jti"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Degraded  bool      `json:"degraded,omitempty"`
	Version   string    `json:"version,omitempty"` // credential version the mint validated against
}

// Encode serializes the entry for the cache.
func (e *CacheEntry) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding token cache entry: %w", err)
	}
	return data, nil
}

// DecodeCacheEntry parses a cached token entry.
func DecodeCacheEntry(data []byte) (*CacheEntry, error) {
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding token cache entry: %w", err)
	}
	return &e, nil
}

// Live reports whether the entry is still usable at now with the given
// clock skew allowance.
func (e *CacheEntry) Live(now time.Time, skew time.Duration) bool {
	return now.Add(skew).Before(e.ExpiresAt)
}
