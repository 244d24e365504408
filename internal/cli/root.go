package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/config"
	"github.com/couchcryptid/seismic-locator/internal/observability"
)

var (
	logLevel  string
	logFormat string
	envHandle *environment
)

// environment is the configuration shared by every subcommand. Environment
// variables provide the defaults that command flags override.
type environment struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

var rootCmd = &cobra.Command{
	Use:           "quakeloc",
	Short:         "Locate earthquake epicenters from three-station miniSEED recordings",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envHandle != nil {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}

		envHandle = &environment{
			cfg:     cfg,
			logger:  observability.NewLogger(cfg.LogLevel, cfg.LogFormat),
			metrics: observability.NewLocalMetrics(),
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(pickCmd)
	rootCmd.AddCommand(spectrumCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getEnv() *environment {
	if envHandle == nil {
		panic("environment not initialized; PersistentPreRunE not executed")
	}
	return envHandle
}
