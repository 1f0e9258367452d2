package server

import (
	"github.com/fluxbase-eu/fluxassets/internal/pipeline"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const scopeKey = "fluxassets_scope"

// Scope starts a fresh asset scope for every request. The scope carries a
// nonce that is also exposed to CSP middlewares through the "csp_nonce"
// local.
func Scope(p *pipeline.Pipeline) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s := p.NewScope()
		s.Nonce = uuid.NewString()
		c.Locals(scopeKey, s)
		c.Locals("csp_nonce", s.Nonce)
		return c.Next()
	}
}

// ScopeFrom returns the request's asset scope, or nil outside the Scope
// middleware
func ScopeFrom(c *fiber.Ctx) *pipeline.Scope {
	s, _ := c.Locals(scopeKey).(*pipeline.Scope)
	return s
}
