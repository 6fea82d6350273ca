package commands

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authrelay/authrelay/internal/cache"
	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/internal/events"
	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
	"github.com/authrelay/authrelay/internal/secretstore/awssm"
	"github.com/authrelay/authrelay/internal/secretstore/vault"
	"github.com/authrelay/authrelay/internal/token"
)

// runtime is the shared dependency graph behind every subcommand.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   secretstore.Store
	cache   *cache.Memory
	keyring *token.Keyring
	codec   *token.Codec
	events  events.Recorder

	closers []func()
}

// buildRuntime loads configuration and connects the store, cache,
// keyring, and event sink.
func buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		JSONOutput: cfg.Logging.JSON,
		Output:     os.Stderr,
	})

	registry := secretstore.NewRegistry()
	_ = registry.Register("vault", vault.Factory(logger))
	_ = registry.Register("awssm", awssm.Factory(logger))
	_ = registry.Register("memory", func(_ context.Context, name string, _ map[string]interface{}) (secretstore.Store, error) {
		return secretstore.NewMemory(name), nil
	})

	store, err := registry.Create(ctx, cfg.Vault.Type, "secret-store", cfg.Vault.FactorySettings())
	if err != nil {
		return nil, fmt.Errorf("building secret store: %w", err)
	}
	if err := store.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticating to secret store: %w", err)
	}

	material, err := ensureSigningKey(ctx, store)
	if err != nil {
		return nil, err
	}
	sealKey, err := token.DecodeCacheSealKey(material)
	if err != nil {
		return nil, fmt.Errorf("reading cache seal key: %w", err)
	}

	c, err := cache.NewMemory(cfg.Cache.MaxEntries, sealKey)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	keyring := token.NewKeyring(store, logger)
	if err := keyring.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading signing keyring: %w", err)
	}

	codec := token.NewCodec(keyring, cfg.Token.Issuer, cfg.Token.Audience, cfg.Token.Lifetime(), token.NewRevocations())

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cache:   c,
		keyring: keyring,
		codec:   codec,
	}

	switch cfg.Events.Type {
	case "postgres", "postgresql", "mysql", "mariadb":
		sink, err := events.NewSQLSink(cfg.Events.Type, cfg.Events.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening event sink: %w", err)
		}
		rt.events = sink
		rt.closers = append(rt.closers, func() { _ = sink.Close() })
	case "none":
		rt.events = events.Nop{}
	default:
		rt.events = events.NewMemory()
	}

	return rt, nil
}

// serveMetrics exposes the Prometheus registry on its own listener
// when one is configured, in addition to the /metrics route each
// server already mounts.
func (rt *runtime) serveMetrics(ctx context.Context) {
	if !rt.cfg.Metrics.Enabled || rt.cfg.Metrics.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: rt.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.logger.Error("metrics listener failed: %v", err)
		}
	}()
}

func (rt *runtime) close() {
	for _, fn := range rt.closers {
		fn()
	}
}

// ensureSigningKey bootstraps the token signing material on first run
// and returns the stored material either way.
func ensureSigningKey(ctx context.Context, store secretstore.Store) ([]byte, error) {
	material, err := store.Get(ctx, secretstore.SigningKeyPath())
	if err == nil {
		return material, nil
	}
	if !secretstore.IsNotFound(err) {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	sealKey := make([]byte, 32)
	if _, err := rand.Read(sealKey); err != nil {
		return nil, fmt.Errorf("generating cache seal key: %w", err)
	}

	material, err = token.EncodeKeyMaterial(uuid.NewString(), signingKey, "", nil, sealKey)
	if err != nil {
		return nil, fmt.Errorf("encoding signing key material: %w", err)
	}
	if err := store.Put(ctx, secretstore.SigningKeyPath(), material); err != nil {
		return nil, fmt.Errorf("storing signing key: %w", err)
	}
	return material, nil
}
