// Package cmd provides the Cobra commands for the fluxassets CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/cli/output"
	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool

	// Shared across commands
	cfg       *config.Config
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxassets",
	Short: "fluxassets - build and serve web assets",
	Long: `fluxassets bundles JavaScript and CSS with esbuild and tailwind, keeps a
mapping from source paths to hashed output URLs, and renders the tags that
load them.

Get started:
  fluxassets build       Build every asset and write the mapping file
  fluxassets dev         Rebuild on change with live reload
  fluxassets --help      Show available commands`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = output.NewFormatter(format, noHeaders, quiet)
		return nil
	},
}

// Execute runs the CLI
func Execute() error {
	observability.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./fluxassets.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(convertMetafileCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(initTailwindCmd)
	rootCmd.AddCommand(livereloadCmd)
	rootCmd.AddCommand(esbuildScriptCmd)
	rootCmd.AddCommand(generateEsbuildScriptCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig is the PreRunE of every command that needs the configuration
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if c.Debug || debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	cfg = c
	return nil
}

// newPipeline creates the pipeline for the loaded configuration, with
// metrics registered on a fresh registry when enabled
func newPipeline() (*pipeline.Pipeline, error) {
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return pipeline.New(cfg, pipeline.Options{Metrics: metrics})
}

// startTracer starts tracing for the command. The returned function flushes
// pending spans.
func startTracer(ctx context.Context) (func(), error) {
	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}, nil
}

// signalContext is cancelled on interrupt or termination
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
