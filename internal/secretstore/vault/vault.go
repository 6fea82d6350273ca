// Package vault implements the secret store on HashiCorp Vault's KV v2
// engine. The adapter owns a renewable session and re-authenticates
// transparently when Vault reports the session expired.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"

	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
)

// Config holds Vault connection settings.
type Config struct {
	// Address is the Vault server address, e.g. https://vault:8200.
	Address string

	// AuthMethod is "token" or "approle".
	AuthMethod string

	// Token for token auth.
	Token string

	// RoleID and SecretID for approle auth.
	RoleID   string
	SecretID string

	// Namespace for Vault Enterprise.
	Namespace string

	// Mount is the KV v2 mount path. Defaults to "secret".
	Mount string

	// ConnectTimeout and ReadTimeout bound each HTTP exchange.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// RetryCount is the number of attempts for connection failures.
	// Defaults to 3. Authentication failures are never retried.
	RetryCount int

	// RetryBackoffBase is the initial backoff. Defaults to 500ms with a
	// 1.5 multiplier.
	RetryBackoffBase time.Duration

	// TLSSkipVerify disables certificate verification. Dev only.
	TLSSkipVerify bool
}

func (c *Config) withDefaults() {
	if c.Mount == "" {
		c.Mount = "secret"
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
}

// Store is the Vault-backed secret store.
type Store struct {
	name   string
	client *vaultapi.Client
	config Config
	logger *logging.Logger

	mu            sync.RWMutex
	authenticated bool
	tokenExpiry   time.Time
}

// New creates a Vault store. The session is not established until the
// first Authenticate call.
func New(name string, cfg Config, logger *logging.Logger) (*Store, error) {
	cfg.withDefaults()

	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	apiConfig.Timeout = cfg.ReadTimeout
	// The adapter owns retries so that auth failures are never replayed.
	apiConfig.MaxRetries = 0

	if cfg.TLSSkipVerify {
		if err := apiConfig.ConfigureTLS(&vaultapi.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("configuring TLS: %w", err)
		}
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &Store{
		name:   name,
		client: client,
		config: cfg,
		logger: logger.WithComponent("secretstore.vault"),
	}, nil
}

// Name implements secretstore.Store.
func (s *Store) Name() string {
	return s.name
}

// Authenticate implements secretstore.Store. Establishes a session using
// the configured method and records its expiry for transparent renewal.
func (s *Store) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticateLocked(ctx)
}

func (s *Store) authenticateLocked(ctx context.Context) error {
	switch s.config.AuthMethod {
	case "", "token":
		if s.config.Token == "" {
			return &secretstore.AuthError{Store: s.name, Err: errors.New("no vault token configured")}
		}
		s.client.SetToken(s.config.Token)
		// Static tokens are assumed long-lived; probe validity lazily.
		s.authenticated = true
		s.tokenExpiry = time.Time{}
		return nil

	case "approle":
		auth, err := approle.NewAppRoleAuth(
			s.config.RoleID,
			&approle.SecretID{FromString: s.config.SecretID},
		)
		if err != nil {
			return &secretstore.AuthError{Store: s.name, Err: err}
		}
		secret, err := s.client.Auth().Login(ctx, auth)
		if err != nil {
			return s.classify("login", err)
		}
		if secret == nil || secret.Auth == nil {
			return &secretstore.AuthError{Store: s.name, Err: errors.New("approle login returned no auth data")}
		}
		ttl, err := secret.TokenTTL()
		if err != nil || ttl <= 0 {
			ttl = time.Hour
		}
		s.authenticated = true
		// Renew at 80% of the lease to stay ahead of expiry.
		s.tokenExpiry = time.Now().Add(ttl * 8 / 10)
		s.logger.Debug("vault approle session established, renews in %s", ttl*8/10)
		return nil

	default:
		return &secretstore.AuthError{Store: s.name, Err: fmt.Errorf("unsupported auth method %q", s.config.AuthMethod)}
	}
}

// ensureSession re-authenticates when the session lease is past its
// renewal point. Called before every operation.
func (s *Store) ensureSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticated && (s.tokenExpiry.IsZero() || time.Now().Before(s.tokenExpiry)) {
		return nil
	}
	return s.authenticateLocked(ctx)
}

// Get implements secretstore.Store.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.withRetry(ctx, "get", func() error {
		if err := s.ensureSession(ctx); err != nil {
			return err
		}
		secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(path))
		if err != nil {
			return s.classify("get", err)
		}
		if secret == nil || secret.Data == nil {
			return &secretstore.NotFoundError{Store: s.name, Path: path}
		}
		data, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			// KV v2 returns nested data; a deleted version has nil data.
			return &secretstore.NotFoundError{Store: s.name, Path: path}
		}
		encoded, ok := data["value"].(string)
		if !ok {
			return fmt.Errorf("secret at %s has no value field", path)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decoding secret at %s: %w", path, err)
		}
		value = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put implements secretstore.Store.
func (s *Store) Put(ctx context.Context, path string, value []byte) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"value": base64.StdEncoding.EncodeToString(value),
		},
	}
	return s.withRetry(ctx, "put", func() error {
		if err := s.ensureSession(ctx); err != nil {
			return err
		}
		if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(path), payload); err != nil {
			return s.classify("put", err)
		}
		return nil
	})
}

// Delete implements secretstore.Store. Issues a metadata delete so all
// KV v2 versions of the path are removed.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.withRetry(ctx, "delete", func() error {
		if err := s.ensureSession(ctx); err != nil {
			return err
		}
		if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(path)); err != nil {
			classified := s.classify("delete", err)
			if secretstore.IsNotFound(classified) {
				return nil
			}
			return classified
		}
		return nil
	})
}

// Connected implements secretstore.Store.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && (s.tokenExpiry.IsZero() || time.Now().Before(s.tokenExpiry))
}

// withRetry runs op with exponential backoff on connection failures.
// Authentication failures and not-found pass through immediately.
func (s *Store) withRetry(ctx context.Context, opName string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.RetryBackoffBase
	policy.Multiplier = 1.5
	policy.RandomizationFactor = 0.2

	attempts := uint64(s.config.RetryCount)
	if attempts > 0 {
		attempts--
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if secretstore.IsConnectionError(err) {
			// Vault client errors can echo request detail; scrub the
			// session material before the text reaches the log.
			s.logger.Warn("vault %s failed, will retry: %s", opName,
				logging.Redact(err.Error(), []string{s.config.Token, s.config.SecretID}))
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// classify maps Vault API errors onto the store error taxonomy.
func (s *Store) classify(op string, err error) error {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return &secretstore.NotFoundError{Store: s.name, Path: op}
		case 401, 403:
			s.mu.Lock()
			s.authenticated = false
			s.mu.Unlock()
			return &secretstore.AuthError{Store: s.name, Err: err}
		default:
			return fmt.Errorf("vault %s: %w", op, err)
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return &secretstore.ConnectionError{Store: s.name, Err: err}
	}
	// The vault client wraps transport errors in plain strings at times.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "EOF") {
		return &secretstore.ConnectionError{Store: s.name, Err: err}
	}
	return fmt.Errorf("vault %s: %w", op, err)
}

func (s *Store) dataPath(path string) string {
	return fmt.Sprintf("%s/data/%s", s.config.Mount, path)
}

func (s *Store) metadataPath(path string) string {
	return fmt.Sprintf("%s/metadata/%s", s.config.Mount, path)
}
