package rest

import (
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const BasePath = "/api/provision"

func NewApp(cfg *config.ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	return app
}

func RegisterHandlers(app *fiber.App, s *Server, verifier TokenVerifier) {
	api := app.Group(BasePath, RequireAuth(verifier))
	api.Get("/queue", s.ListQueue)
	api.Post("/add", s.Submit)
	api.Post("/approve/:queueId", s.Approve)
	api.Get("/status/:queueId", s.Status)
	api.Post("/cancel/:queueId", s.Cancel)
}
