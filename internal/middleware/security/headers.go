package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// TLS enables Strict-Transport-Security.
	TLS bool
}

// HeadersMiddleware hardens the status API responses. Nothing it serves is
// meant to be framed, cached or rendered as a page.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if cfg.TLS {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}
