// Package server hosts an application's pages with the asset pipeline
// attached to every request.
package server

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/fluxbase-eu/fluxassets/internal/templates"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
)

// Server is a Fiber app wired to a pipeline
type Server struct {
	app    *fiber.App
	p      *pipeline.Pipeline
	cfg    *config.Config
	engine *templates.Engine
}

// New creates the server. Static files are served from the static folder
// and, in debug mode with a separate assets folder, sources are served from
// the assets folder directly.
func New(p *pipeline.Pipeline, engine *templates.Engine) *Server {
	cfg := p.Config()
	app := fiber.New(fiber.Config{
		ServerHeader:          "fluxassets",
		AppName:               "fluxassets " + observability.Version,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          errorHandler,
	})

	s := &Server{app: app, p: p, cfg: cfg, engine: engine}
	if engine != nil {
		p.SetTemplates(engine)
	}
	s.setupMiddlewares()
	s.setupStatic()
	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())
	s.app.Use(recover.New(recover.Config{EnableStackTrace: s.cfg.Debug}))
	s.app.Use(RequestLogger(DefaultRequestLoggerConfig()))

	if s.cfg.Metrics.Enabled {
		metrics := s.p.Metrics()
		s.app.Use(metrics.MetricsMiddleware())
		s.app.Get(s.cfg.Metrics.Path, metrics.Handler())
	}

	s.app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	s.app.Use(Scope(s.p))
}

func (s *Server) setupStatic() {
	if s.cfg.Debug && s.cfg.Assets.SeparateFolder() && s.cfg.Assets.URLPath != "" {
		log.Debug().Str("path", s.cfg.Assets.URLPath).Str("folder", s.cfg.Assets.Folder).Msg("Serving assets folder")
		s.app.Static(s.cfg.Assets.URLPath, s.cfg.Assets.Folder)
	}
	static := fiber.Static{}
	if !s.cfg.Debug {
		static.MaxAge = 31536000
	}
	s.app.Static(s.cfg.Assets.StaticURLPath, s.cfg.Assets.StaticFolder, static)
}

// App returns the underlying Fiber app
func (s *Server) App() *fiber.App { return s.app }

// AddRoute serves a template on every path. Without a template name the
// configured route template is used.
func (s *Server) AddRoute(paths []string, template string) {
	if template == "" {
		template = s.cfg.Server.RouteTemplate
	}
	handler := func(c *fiber.Ctx) error {
		return s.Render(c, template, fiber.Map{"path": c.Path()})
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		s.app.Get(p, handler)
	}
}

// Render executes a template with the request's scope and sends it as HTML
func (s *Server) Render(c *fiber.Ctx, name string, data any) error {
	if s.engine == nil {
		return fiber.NewError(fiber.StatusInternalServerError, "no template engine configured")
	}
	var scope templates.Scope
	if sc := ScopeFrom(c); sc != nil {
		scope = sc
	}
	var buf bytes.Buffer
	if err := s.engine.Render(&buf, name, data, scope); err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Server.Address).Msg("Starting server")
	return s.app.Listen(s.cfg.Server.Address)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	if strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON) {
		return c.Status(code).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
	return c.Status(code).SendString(message)
}
