package cmd

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/internal/builder"
	"github.com/fluxbase-eu/fluxassets/internal/livereload"
)

var (
	convertOut    string
	convertMerge  bool
	tailwindInput string
	reloadPort    int
	scriptFile    string
	scriptForce   bool
)

var convertMetafileCmd = &cobra.Command{
	Use:   "convert-metafile FILE",
	Short: "Convert an esbuild metafile into the mapping file",
	Example: `  fluxassets convert-metafile meta.json
  fluxassets convert-metafile meta.json --out other.json --merge`,
	Args:    cobra.ExactArgs(1),
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline()
		if err != nil {
			return err
		}
		out := convertOut
		if out == "" {
			out = p.Store().Path()
		}
		if err := builder.NewEsbuild(p).WriteMapping(cmd.Context(), args[0], out, convertMerge); err != nil {
			return err
		}
		formatter.PrintSuccess("Wrote mapping to %s", out)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:     "extract",
	Short:   "Extract inline script and style blocks from templates",
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline()
		if err != nil {
			return err
		}
		n, err := builder.NewTemplates(p).Extract()
		if err != nil {
			return err
		}
		formatter.PrintSuccess("Extracted %d inline blocks", n)
		return nil
	},
}

var initTailwindCmd = &cobra.Command{
	Use:     "init-tailwind",
	Short:   "Create the tailwind input stylesheet",
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tailwindInput != "" {
			cfg.Tailwind.Input = tailwindInput
		}
		p, err := newPipeline()
		if err != nil {
			return err
		}
		tw := builder.NewTailwind(p)
		created, err := tw.EnsureInput()
		if err != nil {
			return err
		}
		if !created {
			formatter.PrintWarning("%s already exists", tw.InputPath())
			return nil
		}
		formatter.PrintSuccess("Created %s", tw.InputPath())
		return nil
	},
}

var livereloadCmd = &cobra.Command{
	Use:   "livereload [PATHS...]",
	Short: "Run the live reload server, pinging when PATHS change",
	Long: `Run the live reload server on its own. Browsers reload when a file under one
of PATHS changes or when another process pings through the redis backend.`,
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		port := cfg.LiveReload.Port
		if reloadPort > 0 {
			port = reloadPort
		}
		p, err := newPipeline()
		if err != nil {
			return err
		}
		broker := livereload.NewBroker(p.Metrics())
		notifier, err := livereload.NewNotifier(&cfg.LiveReload, broker)
		if err != nil {
			return err
		}
		if relay, ok := notifier.(*livereload.RedisRelay); ok {
			defer func() { _ = relay.Close() }()
		}

		if len(args) > 0 {
			watcher := livereload.NewWatcher(args, livereload.WatchOptions{}, func(livereload.Event) {
				_ = notifier.Ping(ctx)
			})
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Error().Err(err).Msg("File watcher stopped")
					stop()
				}
			}()
		}
		return livereload.Serve(ctx, cfg.LiveReload.Host, port, broker)
	},
}

var esbuildScriptCmd = &cobra.Command{
	Use:                "esbuild-script [ARGS...]",
	Short:              "Run the configured esbuild script with the build environment",
	DisableFlagParsing: true,
	PreRunE:            loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		p, err := newPipeline()
		if err != nil {
			return err
		}
		return ignoreCanceled(builder.NewEsbuild(p).RunScript(ctx, args...))
	},
}

var generateEsbuildScriptCmd = &cobra.Command{
	Use:   "generate-esbuild-script",
	Short: "Write a customizable esbuild build script",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := builder.GenerateScript(scriptFile, scriptForce)
		if errors.Is(err, builder.ErrScriptExists) {
			return errors.New(err.Error() + " (use --force to overwrite)")
		}
		if err != nil {
			return err
		}
		formatter.PrintSuccess("Wrote %s; set esbuild.script to use it", scriptFile)
		return nil
	},
}

func init() {
	convertMetafileCmd.Flags().StringVar(&convertOut, "out", "", "mapping file to write (default is assets.mapping_file)")
	convertMetafileCmd.Flags().BoolVar(&convertMerge, "merge", false, "merge into the existing mapping")

	initTailwindCmd.Flags().StringVar(&tailwindInput, "input", "", "input stylesheet relative to the assets folder")

	livereloadCmd.Flags().IntVar(&reloadPort, "port", 0, "port to listen on (default is livereload.port)")

	generateEsbuildScriptCmd.Flags().StringVar(&scriptFile, "filename", "esbuild.mjs", "script to write")
	generateEsbuildScriptCmd.Flags().BoolVar(&scriptForce, "force", false, "overwrite an existing script")
}
