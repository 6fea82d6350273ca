// Package cache defines the distributed key-value cache the gateway
// uses for tokens and credential metadata. The cache is best-effort: a
// miss is never an error, only a signal to fall through to the secret
// store.
//
// Key conventions:
//
//	token:{client_id}:{jti}   token metadata per minted token
//	token:{client_id}:latest  pointer to the most recent live jti
//	cred_meta:{client_id}     credential metadata for degraded mode
//	trans:{client_id}         micro-cached transition record
//	rotation-lock:{client_id} rotation driver lease
package cache

import (
	"context"
	"time"
)

// Cache is the capability set the core depends on. Values are opaque
// serialized bytes; implementations must encrypt values at rest when
// they hold cryptographic material.
type Cache interface {
	// Get returns (value, true, nil) on a hit and (nil, false, nil) on a
	// miss. Errors are reserved for infrastructure failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key, evicted after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns the live keys sharing the prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// InvalidatePrefix removes every key sharing the prefix and returns
	// the number removed.
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// TokenKey is the cache key for a minted token.
func TokenKey(clientID, jti string) string {
	return "token:" + clientID + ":" + jti
}

// TokenLatestKey points at the most recently minted live jti for a
// client, so the gateway can find a token by client alone.
func TokenLatestKey(clientID string) string {
	return "token:" + clientID + ":latest"
}

// TokenPrefix covers every token entry for a client.
func TokenPrefix(clientID string) string {
	return "token:" + clientID + ":"
}

// CredMetaKey is the cache key for degraded-mode credential metadata.
func CredMetaKey(clientID string) string {
	return "cred_meta:" + clientID
}

// TransitionKey is the micro-cache key for the live transition record.
func TransitionKey(clientID string) string {
	return "trans:" + clientID
}

// RotationLockKey is the rotation driver's lease key.
func RotationLockKey(clientID string) string {
	return "rotation-lock:" + clientID
}
