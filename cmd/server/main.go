// Command server runs the listing dashboard API and its maintenance tasks.
//
// @title          Listing Dashboard API
// @version        1.0
// @description    Auto-response rules, leads, and seller dashboard for marketplace listings.
// @BasePath       /api
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-listing-dashboard/internal/config"
	"github.com/tbourn/go-listing-dashboard/internal/sysutil"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "listing-dashboard",
		Short: "Listing dashboard: auto-responses and leads for marketplace sellers",
		Long:  "Serves the seller dashboard API and runs database maintenance for it.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newPurgeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "listing-dashboard %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads the environment and installs the global logger.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger := sysutil.ConfigureLogging(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Out:     cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
