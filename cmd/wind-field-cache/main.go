package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/wind-field-cache/internal/api/http"
	"github.com/i474232898/wind-field-cache/internal/assets"
	"github.com/i474232898/wind-field-cache/internal/config"
	"github.com/i474232898/wind-field-cache/internal/fetch"
	"github.com/i474232898/wind-field-cache/internal/processor"
	"github.com/i474232898/wind-field-cache/internal/scheduler"
	"github.com/i474232898/wind-field-cache/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("wind-field-cache: %v", err)
	}
}

// run wires the service and blocks until SIGINT or SIGTERM. Deferred cleanup
// runs on every return path.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Shared HTTP client for the field download.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	fieldStore, err := store.NewFieldStore(cfg.CacheDir, assets.DefaultField)
	if err != nil {
		return fmt.Errorf("failed to open cache dir: %w", err)
	}

	state, err := store.OpenLevelDBState(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer state.Close()

	job := fetch.NewJob(cfg.FieldURL, cfg.ClientVersion, processor.New(), fieldStore, state, fetch.BreakerSettings{
		MaxFailures: uint32(cfg.BreakerFailures),
		OpenTimeout: cfg.BreakerTimeout,
	})

	// Retries back off up to the periodic interval.
	sched := scheduler.New(job, httpClient, cfg.HTTPTimeout*2, cfg.UpdateInterval)
	defer sched.Stop()
	policy := scheduler.NewPolicy(scheduler.PolicyConfig{
		Interval:       cfg.UpdateInterval,
		MinInterval:    cfg.MinUpdateInterval,
		EstimatedBytes: cfg.EstimatedBytes(),
	}, state, sched)

	if err := policy.SchedulePeriodic(); err != nil {
		return fmt.Errorf("failed to schedule periodic update: %w", err)
	}
	if _, err := policy.RequestExpedited(time.Now()); err != nil {
		log.Printf("failed to request startup update: %v", err)
	}
	sched.Start()

	app := fiber.New(fiber.Config{
		AppName:               "wind-field-cache",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterHealth(app, fieldStore, sched)
	httpapi.RegisterRoutes(app, fieldStore, policy)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
