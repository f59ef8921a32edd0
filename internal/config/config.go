package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-city-sync/internal/common"
	"github.com/i474232898/weather-city-sync/internal/weather"
)

type AppConfig struct {
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	HTTPTimeout        time.Duration

	// FavoriteCityIDs is used when no favorite set has been persisted yet.
	FavoriteCityIDs []int

	StoreDriver string // memory, sqlite or postgres
	StoreDSN    string

	// SeedCities replaces the built-in default list when SEED_CITIES_FILE is set.
	SeedCities []weather.SeedCity

	// RefreshInterval controls the periodic refresh of all cities (0 = disabled).
	RefreshInterval time.Duration

	BreakerMaxFailures uint32
	SearchCacheTTL     time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org")
	cfg.FavoriteCityIDs = common.ParseIDs(os.Getenv("OPENWEATHER_FAVORITE_CITY_IDS"))

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if cfg.SearchCacheTTL, err = getenvDuration("SEARCH_CACHE_TTL", "10m"); err != nil {
		return nil, err
	}

	cfg.StoreDriver = getenvDefault("STORE_DRIVER", "sqlite")
	switch cfg.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}
	cfg.StoreDSN = getenvDefault("STORE_DSN", "data/cities.db")

	failures := getenvInt("BREAKER_MAX_FAILURES", 5)
	if failures < 0 {
		return nil, fmt.Errorf("invalid BREAKER_MAX_FAILURES: %d", failures)
	}
	cfg.BreakerMaxFailures = uint32(failures)

	cfg.SeedCities = weather.DefaultSeedCities
	if path := os.Getenv("SEED_CITIES_FILE"); path != "" {
		seeds, err := LoadSeedCities(path)
		if err != nil {
			return nil, err
		}
		cfg.SeedCities = seeds
	}

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

type seedFile struct {
	Cities []seedEntry `yaml:"cities" validate:"required,min=1,dive"`
}

type seedEntry struct {
	Name    string  `yaml:"name" validate:"required"`
	Country string  `yaml:"country"`
	Lat     float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

var validate = validator.New()

// LoadSeedCities reads a YAML list of default cities.
func LoadSeedCities(path string) ([]weather.SeedCity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed cities: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed cities: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid seed cities: %w", err)
	}

	seeds := make([]weather.SeedCity, 0, len(f.Cities))
	for _, c := range f.Cities {
		seeds = append(seeds, weather.SeedCity{
			Name:    c.Name,
			Country: c.Country,
			Lat:     c.Lat,
			Lon:     c.Lon,
		})
	}
	return seeds, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
