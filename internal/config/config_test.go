package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

const validYAML = `
gateway:
  listen_addr: ":8080"
  backend_url: "http://payments.internal:9000"
backend:
  listen_addr: ":8081"
  gateway_url: "http://gateway.internal:8080"
token:
  issuer: "payments-gateway"
  audience: "payments-backend"
  lifetime_seconds: 1800
  renewal_grace_seconds: 120
cache:
  cred_meta_ttl_seconds: 600
vault:
  type: vault
  address: "https://vault.internal:8200"
  mount: secret
  retry_count: 5
rotation:
  check_interval_ms: 30000
  default_transition_minutes: 30
  accept_deprecated: true
events:
  type: postgres
  dsn: "postgres://authrelay:pw@db/authrelay?sslmode=disable"
logging:
  level: debug
  json: false
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "payments-gateway", cfg.Token.Issuer)
	assert.Equal(t, 30*time.Minute, cfg.Token.Lifetime())
	assert.Equal(t, 2*time.Minute, cfg.Token.RenewalGrace())
	assert.True(t, cfg.Token.RenewalEnabled, "renewal defaults on when unset")
	assert.Equal(t, 10*time.Minute, cfg.Cache.CredMetaTTL())
	assert.Equal(t, 30*time.Second, cfg.Rotation.CheckInterval())
	assert.True(t, cfg.Rotation.AcceptDeprecated)
	assert.True(t, cfg.DegradedMode.Enabled, "degraded mode defaults on")
	assert.Equal(t, "postgres", cfg.Events.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("token:\n  issuer: gw\n  audience: be\n"))
	require.NoError(t, err)

	assert.Equal(t, 3600, cfg.Token.LifetimeSeconds)
	assert.Equal(t, 300, cfg.Token.RenewalGraceSeconds)
	assert.Equal(t, 900, cfg.Cache.CredMetaTTLSeconds)
	assert.Equal(t, 60000, cfg.Rotation.CheckIntervalMs)
	assert.Equal(t, 60, cfg.Rotation.DefaultTransitionMinutes)
	assert.False(t, cfg.Rotation.AcceptDeprecated)
	assert.Equal(t, "vault", cfg.Vault.Type)
	assert.Equal(t, "memory", cfg.Events.Type)
}

func TestParseTokenTTLFollowsLifetime(t *testing.T) {
	cfg, err := Parse([]byte("token:\n  issuer: gw\n  audience: be\n  lifetime_seconds: 120\n"))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Cache.TokenTTLSeconds)
}

func TestParseExplicitTokenTTLWins(t *testing.T) {
	cfg, err := Parse([]byte("token:\n  issuer: gw\n  audience: be\n  lifetime_seconds: 120\ncache:\n  token_ttl_seconds: 60\n"))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Cache.TokenTTLSeconds)
}

func TestParseClampsTransitionMinimum(t *testing.T) {
	cfg, err := Parse([]byte(`
token:
  issuer: gw
  audience: be
rotation:
  default_transition_minutes: 2
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Rotation.DefaultTransitionMinutes)
}

func TestParseRejectsUnknownSection(t *testing.T) {
	_, err := Parse([]byte("tokken:\n  issuer: gw\n"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestParseRejectsWrongType(t *testing.T) {
	_, err := Parse([]byte(`
token:
  issuer: gw
  audience: be
  lifetime_seconds: "soon"
`))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestParseRejectsSQLSinkWithoutDSN(t *testing.T) {
	_, err := Parse([]byte(`
token:
  issuer: gw
  audience: be
events:
  type: mysql
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.dsn")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://vault.internal:8200", cfg.Vault.FactorySettings()["address"])
	assert.Equal(t, 5, cfg.Vault.FactorySettings()["retry_count"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTHRELAY_TOKEN_LIFETIME_SECONDS", "600")
	t.Setenv("AUTHRELAY_VAULT_TOKEN", "s.test-override")
	t.Setenv("AUTHRELAY_ROTATION_ACCEPT_DEPRECATED", "true")
	t.Setenv("AUTHRELAY_DEGRADED_MODE_ENABLED", "false")

	cfg, err := Parse([]byte("token:\n  issuer: gw\n  audience: be\n"))
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.Token.LifetimeSeconds)
	assert.Equal(t, "s.test-override", cfg.Vault.FactorySettings()["token"])
	assert.True(t, cfg.Rotation.AcceptDeprecated)
	assert.False(t, cfg.DegradedMode.Enabled)
}
