package vault

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
)

// Factory returns a secretstore.Factory for Vault-backed stores. The
// config block matches the keys under secret_store.config in
// authrelay.yaml.
func Factory(logger *logging.Logger) secretstore.Factory {
	return func(_ context.Context, name string, config map[string]interface{}) (secretstore.Store, error) {
		cfg := Config{
			Address:       stringValue(config, "address"),
			AuthMethod:    stringValue(config, "auth_method"),
			Token:         stringValue(config, "token"),
			RoleID:        stringValue(config, "role_id"),
			SecretID:      stringValue(config, "secret_id"),
			Namespace:     stringValue(config, "namespace"),
			Mount:         stringValue(config, "mount"),
			TLSSkipVerify: boolValue(config, "tls_skip_verify"),
		}
		if ms := intValue(config, "connect_timeout_ms"); ms > 0 {
			cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
		if ms := intValue(config, "read_timeout_ms"); ms > 0 {
			cfg.ReadTimeout = time.Duration(ms) * time.Millisecond
		}
		if n := intValue(config, "retry_count"); n > 0 {
			cfg.RetryCount = n
		}
		return New(name, cfg, logger)
	}
}

func stringValue(config map[string]interface{}, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func boolValue(config map[string]interface{}, key string) bool {
	v, _ := config[key].(bool)
	return v
}

func intValue(config map[string]interface{}, key string) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
