package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authrelay/authrelay/internal/backend"
	"github.com/authrelay/authrelay/internal/metrics"
)

// NewBackendCmd creates the backend verifier serve command.
func NewBackendCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Run the internal token verifier",
		Long: `Start the backend process: verifies signed tokens presented by
internal services, checks permissions, and delegates renewal of
expired tokens to the gateway.`,
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

			refresh := time.Duration(rt.cfg.Token.KeyRefreshSeconds) * time.Second
			if refresh > 0 {
				go rt.keyring.RunRefresh(ctx, refresh)
			}

			renewals := backend.NewGatewayRenewalClient(rt.cfg.Backend.GatewayURL, 10*time.Second)
			verifier := backend.NewVerifier(rt.codec, renewals, rt.events, rt.logger, backend.VerifierOptions{
				Issuer:         rt.cfg.Token.Issuer,
				Audience:       rt.cfg.Token.Audience,
				RenewalEnabled: rt.cfg.Token.RenewalEnabled,
				RenewalGrace:   rt.cfg.Token.RenewalGrace(),
			})

			server := backend.NewServer(verifier, rt.logger)
			rt.logger.Info("starting backend on %s", rt.cfg.Backend.ListenAddr)
			return server.Start(ctx, rt.cfg.Backend.ListenAddr)
		},
	}
}
