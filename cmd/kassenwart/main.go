package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/cache"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/database"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := bootstrap.New(ctx, database.GetDB(), cache.GetClient())
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
	services.Start(env.GetBool("SWEEPS_ENABLED", true))

	adminKey := env.GetEnv("ADMIN_API_KEY", "")
	app := NewApplication(services, adminKey)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Main] shutting down...")

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorf("[Main] http shutdown: %v", err)
		}
	}()

	err = app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	services.Stop()
	cancel()
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication(services *bootstrap.Services, adminKey string) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/kassenwart to project root
		"../../../", // Fallback
	}

	basePath := "./"
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "Kassenwart",
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, services.Deps(), adminKey)

	return app
}
