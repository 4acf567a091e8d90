package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "studiometrics/api/v1"
	"studiometrics/internal/aggregation"
	"studiometrics/internal/config"
)

// publicCORSConfig is the permissive CORS setup shared by the public
// endpoints, so tracked pages and dashboards can call cross-origin.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountRoutes returns the route mount function for the given aggregation
// service.
func MountRoutes(service *aggregation.Service) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		cfg := config.GetConfig()

		// Rate limiting only in production; in development and test it
		// would interfere with testing.
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// 120/min per IP absorbs a busy tab's beacon stream while still
		// capping abuse.
		ingestRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(120),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		// Dashboard queries are heavier; keep them tighter.
		aggregateRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(30),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		ingestConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			WriteConcurrency: false,
			CustomMiddleware: []fiber.Handler{ingestRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		aggregateConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			CustomMiddleware: []fiber.Handler{aggregateRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		srv.Get("/_health", healthAction)
		srv.Head("/_health", healthAction)

		srv.Post("/api/v1/track", v1.IngestHandler, ingestConfig)
		srv.Options("/api/v1/track", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, ingestConfig)

		srv.Post("/api/v1/analytics", v1.AggregateHandler(service), aggregateConfig)
		srv.Options("/api/v1/analytics", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, aggregateConfig)
	}
}

func healthAction(ctx *cartridge.Context) error {
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ok",
	})
}
