package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authrelay/authrelay/internal/gateway"
	"github.com/authrelay/authrelay/internal/metrics"
	"github.com/authrelay/authrelay/internal/rotation"
)

// NewGatewayCmd creates the gateway serve command.
func NewGatewayCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the vendor-facing authentication gateway",
		Long: `Start the gateway process: accepts legacy X-Client-ID and
X-Client-Secret headers, exchanges them for signed internal tokens,
and forwards authenticated requests to the backend. Also runs the
rotation driver that advances due credential transitions.`,
		Example: `  # Run with the default config file
  authrelay gateway

  # Run with an explicit config
  authrelay gateway --config /etc/authrelay/authrelay.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.cfg.Metrics.Enabled {
				metrics.Init()
				rt.serveMetrics(ctx)
			}

			svc := gateway.NewService(rt.store, rt.cache, rt.codec, rt.events, rt.logger, gateway.Options{
				TokenLifetime:    rt.cfg.Token.Lifetime(),
				TokenCacheTTL:    rt.cfg.Cache.TokenTTL(),
				CredMetaTTL:      rt.cfg.Cache.CredMetaTTL(),
				RenewalEnabled:   rt.cfg.Token.RenewalEnabled,
				RenewalGrace:     rt.cfg.Token.RenewalGrace(),
				AcceptDeprecated: rt.cfg.Rotation.AcceptDeprecated,
				DegradedEnabled:  rt.cfg.DegradedMode.Enabled,
				Issuer:           rt.cfg.Token.Issuer,
				Audience:         rt.cfg.Token.Audience,
			})

			machine := rotation.NewMachine(rt.store, rt.cache, rt.events, rt.logger, rt.cfg.Rotation.DefaultTransition())
			driver := rotation.NewDriver(machine, rotation.NewLease(rt.cache), rt.cfg.Rotation.CheckInterval(), rt.logger)
			go driver.Run(ctx)

			refresh := time.Duration(rt.cfg.Token.KeyRefreshSeconds) * time.Second
			if refresh > 0 {
				go rt.keyring.RunRefresh(ctx, refresh)
			}

			forwarder := gateway.NewForwarder(rt.cfg.Gateway.BackendURL,
				time.Duration(rt.cfg.Gateway.ForwardTimeoutMs)*time.Millisecond, rt.logger)

			server := gateway.NewServer(svc, forwarder, rt.logger)
			rt.logger.Info("starting gateway on %s", rt.cfg.Gateway.ListenAddr)
			return server.Start(ctx, rt.cfg.Gateway.ListenAddr)
		},
	}
}
