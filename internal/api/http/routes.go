package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"

	"github.com/i474232898/weather-city-sync/internal/store"
	"github.com/i474232898/weather-city-sync/internal/weather"
)

var validate = validator.New()

const defaultSearchLimit = 5

// RegisterRoutes wires the HTTP handlers into the Fiber app. Search results
// are cached for searchTTL (0 disables caching).
func RegisterRoutes(app *fiber.App, service *weather.Service, searchTTL time.Duration) {
	var searchCache *cache.Cache
	if searchTTL > 0 {
		searchCache = cache.New(searchTTL, 2*searchTTL)
	}

	v1 := app.Group("/api/v1")

	v1.Get("/cities", func(c *fiber.Ctx) error {
		return c.JSON(service.State())
	})

	v1.Post("/cities", func(c *fiber.Ctx) error {
		var req addCityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		city, err := service.AddCity(c.UserContext(), req.Name, req.Country, *req.Lat, *req.Lon)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save city")
		}
		return c.Status(fiber.StatusCreated).JSON(city)
	})

	v1.Delete("/cities/:id", func(c *fiber.Ctx) error {
		err := service.DeleteCity(c.UserContext(), c.Params("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "city not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to delete city")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/cities/refresh", func(c *fiber.Ctx) error {
		service.RefreshAll(c.UserContext())
		return c.JSON(service.State())
	})

	v1.Post("/cities/:id/refresh", func(c *fiber.Ctx) error {
		err := service.RefreshOne(c.UserContext(), c.Params("id"))
		if err != nil {
			if errors.Is(err, weather.ErrCityNotLoaded) {
				return fiber.NewError(fiber.StatusNotFound, "city not found")
			}
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(service.State())
	})

	v1.Post("/favorites", func(c *fiber.Ctx) error {
		var req importFavoritesRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := service.ImportFavorites(c.UserContext(), req.IDs); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(service.State())
	})

	v1.Get("/search", func(c *fiber.Ctx) error {
		var q searchQuery
		q.Query = strings.TrimSpace(c.Query("q"))
		q.Limit = c.QueryInt("limit", defaultSearchLimit)
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		key := fmt.Sprintf("%s|%d", strings.ToLower(q.Query), q.Limit)
		if searchCache != nil {
			if cached, found := searchCache.Get(key); found {
				return c.JSON(cached)
			}
		}

		matches, err := service.SearchCities(c.UserContext(), q.Query, q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, "failed to search cities")
		}
		if searchCache != nil {
			searchCache.SetDefault(key, matches)
		}
		return c.JSON(matches)
	})

	v1.Delete("/error", func(c *fiber.Ctx) error {
		service.ClearError()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// addCityRequest is the body for adding a city by coordinates.
type addCityRequest struct {
	Name    string   `json:"name" validate:"required"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon     *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// importFavoritesRequest carries external city IDs to import.
type importFavoritesRequest struct {
	IDs []int `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// searchQuery holds query parameters for the search endpoint.
type searchQuery struct {
	Query string `validate:"required"`
	Limit int    `validate:"gte=1,lte=10"`
}
