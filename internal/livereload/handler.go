package livereload

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
)

// ChangeEvent is the server-sent event written for each ping
const ChangeEvent = "event: change\ndata: ok\n\n"

// KeepAlive is how often an idle stream writes a comment so that closed
// connections are noticed
var KeepAlive = 15 * time.Second

// Handler streams change events to a browser
func Handler(broker *Broker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		sub := broker.Subscribe()
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer broker.Unsubscribe(sub)

			ticker := time.NewTicker(KeepAlive)
			defer ticker.Stop()

			for {
				select {
				case _, ok := <-sub.C():
					if !ok {
						return
					}
					if _, err := w.WriteString(ChangeEvent); err != nil {
						return
					}
				case <-ticker.C:
					if _, err := w.WriteString(": keepalive\n\n"); err != nil {
						return
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	}
}

// NewApp creates the live reload server app
func NewApp(broker *Broker) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "fluxassets livereload",
	})
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Get("/", Handler(broker))
	return app
}

// Serve runs the live reload server on host:port until ctx is done
func Serve(ctx context.Context, host string, port int, broker *Broker) error {
	app := NewApp(broker)
	addr := fmt.Sprintf("%s:%d", host, port)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Live reload server listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	}
}
