// Package commands implements the assetctl CLI.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/assetpipe/assetpipe/internal/config"
	"github.com/assetpipe/assetpipe/internal/logging"
	"github.com/assetpipe/assetpipe/internal/pipeline"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile     string
	logLevel    string
	metricsPort int
	outputFlag  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "assetctl",
	Short: "assetctl - inspect and warm asset manifests",
	Long: `assetctl loads asset manifests through the same tiered pipeline the
runtime uses. It validates manifests, preloads groups by priority and
reports cache and progress statistics.

Use "assetctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port while running")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format (table|json|yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(preloadCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "assetctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Global.LogLevel = logLevel
	}
	if flags.Changed("metrics-port") {
		cfg.Monitoring.Metrics.Enabled = true
		cfg.Monitoring.Metrics.Port = metricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is a started pipeline plus the resources to release with it.
type session struct {
	*pipeline.Pipeline
	logger    *slog.Logger
	logCloser io.Closer
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Global.LogLevel,
		Format: logging.Format(cfg.Global.LogFormat),
		File:   cfg.Global.LogFile,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(cmd.Context(), cfg, pipeline.WithLogger(logger))
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	if err := p.Start(cmd.Context()); err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &session{Pipeline: p, logger: logger, logCloser: closer}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.logger.Warn("Pipeline shutdown incomplete", "error", err)
	}
	_ = s.logCloser.Close()
}
