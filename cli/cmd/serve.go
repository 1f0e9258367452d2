package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/internal/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve static files and the configured route templates",
	Long: `Start an HTTP server that serves the static folder and renders the route
template for every configured route. In debug mode the assets folder is
served too and the live reload snippet is added to rendered pages.`,
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddress != "" {
			cfg.Server.Address = serveAddress
		}
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
		engine := p.TemplateEngine()
		p.SetTemplates(engine)

		srv := server.New(p, engine)
		srv.AddRoute(cfg.Server.Routes, "")

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default is server.address)")
}
