package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/authrelay/authrelay/internal/rotation"
)

// NewRotationCmd creates the rotation command group.
func NewRotationCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Manage credential rotations",
		Long: `Operate the zero-downtime credential rotation state machine.
A rotation moves a client credential through a dual-active window in
which both the old and new secrets authenticate, then deprecates and
finally retires the old secret.`,
	}

	cmd.AddCommand(
		newRotationInitCmd(configFile),
		newRotationAdvanceCmd(configFile),
		newRotationCancelCmd(configFile),
		newRotationStatusCmd(configFile),
		newRotationListCmd(configFile),
	)
	return cmd
}

func newRotationInitCmd(configFile *string) *cobra.Command {
	var (
		force             bool
		transitionMinutes int
	)

	cmd := &cobra.Command{
		Use:   "init <client-id>",
		Short: "Start a rotation for a client credential",
		Long: `Generate a new secret for the client and begin the rotation.
The new secret is printed exactly once; only its hash is stored.`,
		Example: `  # Rotate with the configured default transition window
  authrelay rotation init acme-corp

  # Rotate with a two hour dual-active window
  authrelay rotation init acme-corp --transition-minutes 120`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), *configFile, func(ctx context.Context, machine *rotation.Machine) error {
				var period time.Duration
				if transitionMinutes > 0 {
					period = time.Duration(transitionMinutes) * time.Minute
				}
				res, err := machine.Initiate(ctx, args[0], period, force, "operator")
				if err != nil {
					return err
				}
				fmt.Printf("Rotation %s started for %s\n", res.Record.RotationID, res.Record.ClientID)
				fmt.Printf("New secret (shown once, store it now): %s\n", res.NewSecret)
				fmt.Printf("Transition window: %d minutes\n", res.Record.TransitionPeriodMinutes)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace a rotation already in progress")
	cmd.Flags().IntVar(&transitionMinutes, "transition-minutes", 0, "Dual-active window length (default from config)")
	return cmd
}

func newRotationAdvanceCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <client-id>",
		Short: "Advance a rotation to its next state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), *configFile, func(ctx context.Context, machine *rotation.Machine) error {
				rec, err := machine.Advance(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Rotation %s is now %s\n", rec.RotationID, rec.CurrentState)
				return nil
			})
		},
	}
}

func newRotationCancelCmd(configFile *string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <client-id>",
		Short: "Cancel a running rotation and restore the old credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), *configFile, func(ctx context.Context, machine *rotation.Machine) error {
				rec, err := machine.Cancel(ctx, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Printf("Rotation %s cancelled; old credential restored\n", rec.RotationID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "Reason recorded on the rotation")
	return cmd
}

func newRotationStatusCmd(configFile *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <client-id>",
		Short: "Show the rotation state for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), *configFile, func(ctx context.Context, machine *rotation.Machine) error {
				rec, err := machine.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					fmt.Printf("No rotation recorded for client %s\n", args[0])
					return nil
				}
				if format == "json" {
					return writeRecordJSON(rec)
				}
				writeRecordTable([]*rotation.Record{rec})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

func newRotationListCmd(configFile *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tracked rotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), *configFile, func(ctx context.Context, machine *rotation.Machine) error {
				recs, err := machine.List(ctx)
				if err != nil {
					return err
				}
				if format == "json" {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(recs)
				}
				if len(recs) == 0 {
					fmt.Println("No rotations in progress")
					return nil
				}
				writeRecordTable(recs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

// withMachine builds the runtime for a one-shot operator command and
// hands a rotation machine to fn.
func withMachine(ctx context.Context, configFile string, fn func(context.Context, *rotation.Machine) error) error {
	rt, err := buildRuntime(ctx, configFile)
	if err != nil {
		return err
	}
	defer rt.close()

	machine := rotation.NewMachine(rt.store, rt.cache, rt.events, rt.logger, rt.cfg.Rotation.DefaultTransition())
	return fn(ctx, machine)
}

func writeRecordJSON(rec *rotation.Record) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func writeRecordTable(recs []*rotation.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tROTATION\tSTATE\tSTATUS\tOLD\tNEW\tSTARTED\tFAILURE")
	for _, rec := range recs {
		failure := "-"
		if rec.FailureReason != "" {
			failure = rec.FailureReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ClientID,
			rec.RotationID,
			rec.CurrentState,
			rec.Status,
			rec.OldVersion,
			rec.NewVersion,
			rec.StartedAt.Format(time.RFC3339),
			failure,
		)
	}
	w.Flush()
}
