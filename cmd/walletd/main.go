package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/marketplace-wallet/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL = "database-url"
	flagLogLevel    = "log-level"
	flagPort        = "port"
	flagProvider    = "provider-mode"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "walletd",
		Short:         "Seller wallet ledger and payout engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v, map[string]string{
				"database_url":  flagDatabaseURL,
				"log_level":     flagLogLevel,
				"provider_mode": flagProvider,
				"port":          flagPort,
			})
		},
	}
	root.PersistentFlags().String(flagDatabaseURL, "", "postgres:// or sqlite:// connection string (env DATABASE_URL)")
	root.PersistentFlags().String(flagLogLevel, "", "debug, info, warn or error (env LOG_LEVEL)")
	root.PersistentFlags().String(flagProvider, "", "live or sandbox payout rails (env PROVIDER_MODE)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(v)
		},
	}
	serve.Flags().String(flagPort, "", "HTTP listen port (env PORT)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(v)
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run escrow release, payout dispatch, the timeout sweep and reconciliation once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.SweepOnce(v)
		},
	}

	root.AddCommand(serve, migrate, sweep)
	return root
}

// bindFlags binds each config key to its flag when the running command defines it.
func bindFlags(cmd *cobra.Command, v *viper.Viper, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}
