package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/weather-city-sync/internal/api/http"
	"github.com/i474232898/weather-city-sync/internal/config"
	"github.com/i474232898/weather-city-sync/internal/metrics"
	"github.com/i474232898/weather-city-sync/internal/scheduler"
	"github.com/i474232898/weather-city-sync/internal/store"
	"github.com/i474232898/weather-city-sync/internal/weather"
	"github.com/i474232898/weather-city-sync/internal/weather/providers"
)

// cityStore is what the sync service needs from a backing store.
type cityStore interface {
	weather.CityStore
	weather.FavoritesStore
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// City store: in-process, SQLite or Postgres.
	var cities cityStore
	switch cfg.StoreDriver {
	case "memory":
		cities = store.NewMemoryStore()
	default:
		sqlStore, err := store.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
		}
		defer sqlStore.Close()
		cities = sqlStore
	}

	// Shared HTTP client for outbound weather calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	client := providers.NewOpenWeatherClient(httpClient, providers.OpenWeatherConfig{
		APIKey:                 cfg.OpenWeatherAPIKey,
		BaseURL:                cfg.OpenWeatherBaseURL,
		MaxConsecutiveFailures: cfg.BreakerMaxFailures,
	})

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	// Core service reconciling the store with the weather service.
	service := weather.NewService(client, cities, cities,
		weather.WithSeedCities(cfg.SeedCities),
		weather.WithFallbackFavorites(cfg.FavoriteCityIDs),
	)

	if err := service.LoadIfNeeded(ctx); err != nil {
		log.Printf("ERROR: initial load failed: %v", err)
	}
	log.Printf("INFO: tracking %d cities", len(service.State().Cities))

	// Optional periodic refresh.
	sched := scheduler.New(cfg.RefreshInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-city-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Refreshing many cities sequentially can take a while.
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
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

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-city-sync",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	httpapi.RegisterRoutes(app, service, cfg.SearchCacheTTL)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
