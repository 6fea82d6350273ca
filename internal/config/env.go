package config

import (
	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// envOptions are the supported environment variable overrides,
// prefixed with AUTHRELAY. Field names split on camel case:
// TokenLifetimeSeconds = AUTHRELAY_TOKEN_LIFETIME_SECONDS. Pointer
// fields distinguish "unset" from a zero value.
type envOptions struct {
	GatewayListenAddr *string `split_words:"true"`
	GatewayBackendURL *string `envconfig:"gateway_backend_url"`
	BackendListenAddr *string `split_words:"true"`
	BackendGatewayURL *string `envconfig:"backend_gateway_url"`

	TokenIssuer              *string `split_words:"true"`
	TokenAudience            *string `split_words:"true"`
	TokenLifetimeSeconds     *int    `split_words:"true"`
	TokenRenewalEnabled      *bool   `split_words:"true"`
	TokenRenewalGraceSeconds *int    `split_words:"true"`

	VaultType    *string `split_words:"true"`
	VaultAddress *string `split_words:"true"`
	VaultToken   *string `split_words:"true"`

	RotationAcceptDeprecated *bool `split_words:"true"`
	DegradedModeEnabled      *bool `split_words:"true"`

	EventsDSN *string `envconfig:"events_dsn"`

	LogLevel *string `split_words:"true"`
}

// applyEnv overlays AUTHRELAY_* environment variables onto cfg.
// Credentials such as the vault token and the events DSN are expected
// to arrive this way rather than through the file.
func applyEnv(cfg *Config) error {
	var opts envOptions
	if err := envconfig.Process("authrelay", &opts); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "parsing environment overrides", err)
	}

	if opts.GatewayListenAddr != nil {
		cfg.Gateway.ListenAddr = *opts.GatewayListenAddr
	}
	if opts.GatewayBackendURL != nil {
		cfg.Gateway.BackendURL = *opts.GatewayBackendURL
	}
	if opts.BackendListenAddr != nil {
		cfg.Backend.ListenAddr = *opts.BackendListenAddr
	}
	if opts.BackendGatewayURL != nil {
		cfg.Backend.GatewayURL = *opts.BackendGatewayURL
	}
	if opts.TokenIssuer != nil {
		cfg.Token.Issuer = *opts.TokenIssuer
	}
	if opts.TokenAudience != nil {
		cfg.Token.Audience = *opts.TokenAudience
	}
	if opts.TokenLifetimeSeconds != nil {
		cfg.Token.LifetimeSeconds = *opts.TokenLifetimeSeconds
	}
	if opts.TokenRenewalEnabled != nil {
		cfg.Token.RenewalEnabled = *opts.TokenRenewalEnabled
	}
	if opts.TokenRenewalGraceSeconds != nil {
		cfg.Token.RenewalGraceSeconds = *opts.TokenRenewalGraceSeconds
	}
	if opts.VaultType != nil {
		cfg.Vault.Type = *opts.VaultType
	}
	if opts.VaultAddress != nil {
		cfg.Vault.Settings = cloneSettings(cfg.Vault.Settings)
		cfg.Vault.Settings["address"] = *opts.VaultAddress
	}
	if opts.VaultToken != nil {
		cfg.Vault.Settings = cloneSettings(cfg.Vault.Settings)
		cfg.Vault.Settings["token"] = *opts.VaultToken
	}
	if opts.RotationAcceptDeprecated != nil {
		cfg.Rotation.AcceptDeprecated = *opts.RotationAcceptDeprecated
	}
	if opts.DegradedModeEnabled != nil {
		cfg.DegradedMode.Enabled = *opts.DegradedModeEnabled
	}
	if opts.EventsDSN != nil {
		cfg.Events.DSN = *opts.EventsDSN
	}
	if opts.LogLevel != nil {
		cfg.Logging.Level = *opts.LogLevel
	}
	return nil
}

func cloneSettings(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
