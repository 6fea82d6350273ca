package token

import (
	"sync"
	"time"
)

// Revocations is the in-process revocation set. Entries expire with the
// token they revoke, so the set stays bounded by the number of tokens
// revoked within one lifetime.
type Revocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewRevocations creates an empty revocation set.
func NewRevocations() *Revocations {
	return &Revocations{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks a jti revoked until the token's natural expiry.
func (r *Revocations) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = expiresAt
}

// IsRevoked reports whether a jti is in the revocation set.
func (r *Revocations) IsRevoked(jti string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiry, ok := r.revoked[jti]
	if !ok {
		return false
	}
	return r.now().Before(expiry)
}

// Sweep drops entries whose tokens have expired anyway.
func (r *Revocations) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for jti, expiry := range r.revoked {
		if now.After(expiry) {
			delete(r.revoked, jti)
			removed++
		}
	}
	return removed
}
