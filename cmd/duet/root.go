package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metalagman/duet/internal/config"
	"github.com/metalagman/duet/internal/logging"
	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

var (
	cfgFile string
	debug   bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "duet",
		Short:         "duet refines content requests into validated tool plans",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(debug)
			return config.LoadDotEnv(".env")
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file path (default %s)", config.DefaultPath))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(mcpCmd())
	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
}
