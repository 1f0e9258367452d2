package cmd

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/fluxassets/internal/builder"
	"github.com/fluxbase-eu/fluxassets/internal/livereload"
)

var (
	devTemplateFolders []string
	devWatchPaths      []string
	devLiveReload      bool
	devReloadTemplates bool
	devBuildOnly       bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every asset and write the mapping file",
	Long: `Run the node package vendoring, template extraction, esbuild and tailwind
builders in order, copy the remaining assets to the static folder and write
the mapping file.`,
	PreRunE: loadConfig,
	RunE:    runBuild,
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Rebuild assets on change and serve live reload",
	Long: `Prepare every builder, then run esbuild, tailwind and template extraction in
watch mode. Browsers connected to the live reload server reload after each
rebuild.`,
	Example: `  # Watch with live reload
  fluxassets dev

  # Also reload when files under ./content change
  fluxassets dev --watch-path content

  # Build once with development settings
  fluxassets dev --build-only`,
	PreRunE: loadConfig,
	RunE:    runDev,
}

func init() {
	devCmd.Flags().StringSliceVar(&devTemplateFolders, "watch-template-folder", nil,
		"extra template folder to watch (repeatable)")
	devCmd.Flags().StringSliceVar(&devWatchPaths, "watch-path", nil,
		"extra path that triggers a live reload when changed (repeatable)")
	devCmd.Flags().BoolVar(&devLiveReload, "livereload", true,
		"run the live reload server")
	devCmd.Flags().BoolVar(&devReloadTemplates, "livereload-templates", true,
		"reload when a template changes")
	devCmd.Flags().BoolVar(&devBuildOnly, "build-only", false,
		"build once with development settings and exit")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	shutdown, err := startTracer(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	p, err := newPipeline()
	if err != nil {
		return err
	}

	runner := builder.NewRunner(p)
	mapping, err := runner.Build(ctx)
	if err != nil {
		return err
	}

	formatter.PrintSuccess("Built %d mapping entries into %s", len(mapping), p.Store().Path())
	return nil
}

func runDev(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	shutdown, err := startTracer(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	p, err := newPipeline()
	if err != nil {
		return err
	}

	runner := builder.NewRunner(p)
	env := builder.DevEnv{
		Watch:           !devBuildOnly,
		TemplateFolders: devTemplateFolders,
		ReloadTemplates: devLiveReload && devReloadTemplates,
	}
	if devBuildOnly || !devLiveReload {
		return ignoreCanceled(runner.Dev(ctx, env))
	}

	broker := livereload.NewBroker(p.Metrics())
	notifier, err := livereload.NewNotifier(&cfg.LiveReload, broker)
	if err != nil {
		return err
	}
	if relay, ok := notifier.(*livereload.RedisRelay); ok {
		defer func() { _ = relay.Close() }()
	}
	env.Notifier = notifier

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return livereload.Serve(ctx, cfg.LiveReload.Host, cfg.LiveReload.Port, broker)
	})
	if len(devWatchPaths) > 0 {
		watcher := livereload.NewWatcher(devWatchPaths, livereload.WatchOptions{}, func(ev livereload.Event) {
			log.Debug().Str("path", ev.Path).Msg("Watched path changed")
			env.Ping(ctx)
		})
		g.Go(func() error { return watcher.Run(ctx) })
	}
	g.Go(func() error {
		return runner.Dev(ctx, env)
	})
	return ignoreCanceled(g.Wait())
}

// ignoreCanceled treats shutdown by signal as success
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
