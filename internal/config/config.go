// Package config loads and validates the authrelay.yaml runtime
// configuration, with environment variable overrides layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// Config is the full runtime configuration for both gateway and
// backend processes.
type Config struct {
	Gateway      GatewayConfig  `yaml:"gateway" json:"gateway"`
	Backend      BackendConfig  `yaml:"backend" json:"backend"`
	Token        TokenConfig    `yaml:"token" json:"token"`
	Cache        CacheConfig    `yaml:"cache" json:"cache"`
	Vault        VaultConfig    `yaml:"vault" json:"vault"`
	Rotation     RotationConfig `yaml:"rotation" json:"rotation"`
	DegradedMode DegradedConfig `yaml:"degraded_mode" json:"degraded_mode"`
	Events       EventsConfig   `yaml:"events" json:"events"`
	Metrics      MetricsConfig  `yaml:"metrics" json:"metrics"`
	Logging      LoggingConfig  `yaml:"logging" json:"logging"`
}

// GatewayConfig configures the externally facing gateway process.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// BackendURL is the internal fabric target that authenticated
	// requests are forwarded to.
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// ForwardTimeoutMs bounds a forwarded backend call.
	ForwardTimeoutMs int `yaml:"forward_timeout_ms" json:"forward_timeout_ms"`
}

// BackendConfig configures the internal verifier process.
type BackendConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// GatewayURL is where the backend delegates token renewal.
	GatewayURL string `yaml:"gateway_url" json:"gateway_url"`
}

// TokenConfig configures token minting and verification.
type TokenConfig struct {
	Issuer              string `yaml:"issuer" json:"issuer"`
	Audience            string `yaml:"audience" json:"audience"`
	LifetimeSeconds     int    `yaml:"lifetime_seconds" json:"lifetime_seconds"`
	RenewalEnabled      bool   `yaml:"renewal_enabled" json:"renewal_enabled"`
	RenewalGraceSeconds int    `yaml:"renewal_grace_seconds" json:"renewal_grace_seconds"`

	// KeyRefreshSeconds is how often the signing keyring is re-read
	// from the secret store.
	KeyRefreshSeconds int `yaml:"key_refresh_seconds" json:"key_refresh_seconds"`
}

// Lifetime returns the configured token lifetime.
func (c TokenConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeSeconds) * time.Second
}

// RenewalGrace returns the post-expiry window in which renewal is allowed.
func (c TokenConfig) RenewalGrace() time.Duration {
	return time.Duration(c.RenewalGraceSeconds) * time.Second
}

// CacheConfig configures the in-process token and metadata cache.
type CacheConfig struct {
	TokenTTLSeconds    int `yaml:"token_ttl_seconds" json:"token_ttl_seconds"`
	CredMetaTTLSeconds int `yaml:"cred_meta_ttl_seconds" json:"cred_meta_ttl_seconds"`
	MaxEntries         int `yaml:"max_entries" json:"max_entries"`
}

// TokenTTL returns the token cache entry lifetime.
func (c CacheConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// CredMetaTTL returns the credential metadata cache entry lifetime.
func (c CacheConfig) CredMetaTTL() time.Duration {
	return time.Duration(c.CredMetaTTLSeconds) * time.Second
}

// VaultConfig configures the secret store. Type selects the adapter;
// adapter-specific settings are carried inline and handed to the
// store factory untouched.
type VaultConfig struct {
	Type                   string                 `yaml:"type" json:"type"`
	ConnectTimeoutMs       int                    `yaml:"connect_timeout_ms" json:"connect_timeout_ms"`
	ReadTimeoutMs          int                    `yaml:"read_timeout_ms" json:"read_timeout_ms"`
	RetryCount             int                    `yaml:"retry_count" json:"retry_count"`
	RetryBackoffMultiplier float64                `yaml:"retry_backoff_multiplier" json:"retry_backoff_multiplier"`
	Settings               map[string]interface{} `yaml:",inline" json:"settings,omitempty"`
}

// FactorySettings merges the connection tuning into the adapter
// settings map consumed by secretstore factories.
func (c VaultConfig) FactorySettings() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Settings)+4)
	for k, v := range c.Settings {
		out[k] = v
	}
	if c.ConnectTimeoutMs > 0 {
		out["connect_timeout_ms"] = c.ConnectTimeoutMs
	}
	if c.ReadTimeoutMs > 0 {
		out["read_timeout_ms"] = c.ReadTimeoutMs
	}
	if c.RetryCount > 0 {
		out["retry_count"] = c.RetryCount
	}
	if c.RetryBackoffMultiplier > 0 {
		out["retry_backoff_multiplier"] = c.RetryBackoffMultiplier
	}
	return out
}

// RotationConfig configures the credential rotation driver.
type RotationConfig struct {
	CheckIntervalMs          int  `yaml:"check_interval_ms" json:"check_interval_ms"`
	DefaultTransitionMinutes int  `yaml:"default_transition_minutes" json:"default_transition_minutes"`
	AcceptDeprecated         bool `yaml:"accept_deprecated" json:"accept_deprecated"`
}

// CheckInterval returns how often the driver scans for due transitions.
func (c RotationConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// DefaultTransition returns the default dual-active window length.
func (c RotationConfig) DefaultTransition() time.Duration {
	return time.Duration(c.DefaultTransitionMinutes) * time.Minute
}

// DegradedConfig controls vault-outage fallback behavior.
type DegradedConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// EventsConfig configures the security event sink. Type "memory"
// keeps events in-process; "postgres" and "mysql" write to a table.
type EventsConfig struct {
	Type string `yaml:"type" json:"type"`
	DSN  string `yaml:"dsn" json:"dsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Default returns the configuration used when a setting is absent
// from the file and environment.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:       ":8080",
			ForwardTimeoutMs: 10000,
		},
		Backend: BackendConfig{
			ListenAddr: ":8081",
		},
		Token: TokenConfig{
			Issuer:              "authrelay-gateway",
			Audience:            "authrelay-backend",
			LifetimeSeconds:     3600,
			RenewalEnabled:      true,
			RenewalGraceSeconds: 300,
			KeyRefreshSeconds:   300,
		},
		Cache: CacheConfig{
			// TokenTTLSeconds stays zero here; normalize derives it
			// from the token lifetime after file and env overlays.
			CredMetaTTLSeconds: 900,
			MaxEntries:         16384,
		},
		Vault: VaultConfig{
			Type:                   "vault",
			ConnectTimeoutMs:       5000,
			ReadTimeoutMs:          10000,
			RetryCount:             3,
			RetryBackoffMultiplier: 1.5,
		},
		Rotation: RotationConfig{
			CheckIntervalMs:          60000,
			DefaultTransitionMinutes: 60,
			AcceptDeprecated:         false,
		},
		DegradedMode: DegradedConfig{Enabled: true},
		Events:       EventsConfig{Type: "memory"},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load reads path, validates the document against the embedded
// schema, unmarshals it over the defaults, applies environment
// overrides, and normalizes the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.KindValidation, "configuration file not found: %s", path)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "reading configuration file", err)
	}
	return Parse(data)
}

// Parse validates and decodes a raw YAML document. Defaults fill
// anything the document omits.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "invalid YAML in configuration file", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize clamps out-of-range values and rejects contradictions.
func (c *Config) normalize() error {
	if c.Token.Issuer == "" || c.Token.Audience == "" {
		return apperrors.New(apperrors.KindValidation, "token.issuer and token.audience must be set")
	}
	if c.Token.LifetimeSeconds <= 0 {
		c.Token.LifetimeSeconds = 3600
	}
	if c.Cache.TokenTTLSeconds <= 0 {
		c.Cache.TokenTTLSeconds = c.Token.LifetimeSeconds
	}
	if c.Cache.CredMetaTTLSeconds <= 0 {
		c.Cache.CredMetaTTLSeconds = 900
	}
	if c.Rotation.CheckIntervalMs <= 0 {
		c.Rotation.CheckIntervalMs = 60000
	}
	// Transition windows below five minutes do not give consumers a
	// realistic cutover window.
	if c.Rotation.DefaultTransitionMinutes < 5 {
		c.Rotation.DefaultTransitionMinutes = 5
	}
	if c.Vault.Type == "" {
		c.Vault.Type = "vault"
	}
	switch strings.ToLower(c.Events.Type) {
	case "", "memory", "none":
	case "postgres", "postgresql", "mysql", "mariadb":
		if c.Events.DSN == "" {
			return apperrors.Newf(apperrors.KindValidation, "events.dsn is required for events.type %q", c.Events.Type)
		}
	default:
		return apperrors.Newf(apperrors.KindValidation, "unsupported events.type %q", c.Events.Type)
	}
	return nil
}

// validateSchema checks the raw document against the embedded JSON
// schema before decoding, so type errors carry field paths.
func validateSchema(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "invalid YAML in configuration file", err)
	}
	if doc == nil {
		return nil
	}

	jsonDoc, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "converting configuration for validation", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "schema validation", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return apperrors.Newf(apperrors.KindValidation, "configuration invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// normalizeYAML converts yaml.v3 interface maps into the
// string-keyed form json.Marshal accepts.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
