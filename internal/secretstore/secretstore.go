// Package secretstore defines the abstraction over the central secret
// store that owns the authoritative copies of client credentials, the
// token signing keys, and the live transition records.
//
// Stores are addressed by namespaced paths:
//
//	creds/{client_id}            default live credential record
//	creds/{client_id}/{version}  per-version credential record
//	transitions/{client_id}      live transition record (at most one)
//	rotations/{client_id}        process-level rotation record
//	keys/token-signing           signing key material
//
// Values pass through the store as opaque byte sequences; decoding to
// JSON is a concern of the caller. Implementations must distinguish
// connection failures (recoverable, retried), authentication failures of
// the store client itself (fatal for the request, alerting), and
// not-found (recoverable, never retried).
package secretstore

import (
	"context"
	"fmt"
)

// Store is the capability set the core depends on. Implementations own a
// long-lived authenticated session and transparently re-authenticate on
// session expiry.
type Store interface {
	// Name identifies the store instance for logs and metrics.
	Name() string

	// Authenticate establishes or refreshes the store session.
	Authenticate(ctx context.Context) error

	// Get retrieves the value at path. Returns a *NotFoundError when the
	// path has no value.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put writes the value at path, overwriting any existing value.
	Put(ctx context.Context, path string, value []byte) error

	// Delete removes the value at path. Deleting a missing path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Connected reports whether the store believes its session is live.
	// A false result is advisory; operations may still be attempted.
	Connected() bool
}

// Path helpers keep the namespace conventions in one place.

// CredentialPath is the default live record for a client.
func CredentialPath(clientID string) string {
	return "creds/" + clientID
}

// CredentialVersionPath is the per-version record for a client.
func CredentialVersionPath(clientID, version string) string {
	return fmt.Sprintf("creds/%s/%s", clientID, version)
}

// TransitionPath is the live transition record for a client.
func TransitionPath(clientID string) string {
	return "transitions/" + clientID
}

// RotationPath is the process-level rotation record for a client.
func RotationPath(clientID string) string {
	return "rotations/" + clientID
}

// SigningKeyPath holds the token signing key material.
func SigningKeyPath() string {
	return "keys/token-signing"
}

// NotFoundError reports a path with no value. Recoverable; never retried.
type NotFoundError struct {
	Store string
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret not found in %s: %s", e.Store, e.Path)
}

// AuthError reports that the store rejected the adapter's own
// credentials. Fatal for the request; never retried automatically; must
// alert.
type AuthError struct {
	Store string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s authentication failed: %v", e.Store, e.Err)
	}
	return fmt.Sprintf("store %s authentication failed", e.Store)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a network or timeout failure talking to the
// store. Recoverable; retried with backoff.
type ConnectionError struct {
	Store string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s unreachable: %v", e.Store, e.Err)
	}
	return fmt.Sprintf("store %s unreachable", e.Store)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
