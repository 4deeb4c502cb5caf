package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stockwatch-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var verbose bool

var tel telemetry.Telemetry

var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "stockwatch monitors WooCommerce products and automates checkout.",
	// runtime errors are not usage errors
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)
		var err error
		tel, err = telemetry.SetupFromEnv(cmd.Context(), "stockwatch")
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := tel.Shutdown(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging and HTTP exchange dumps")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
