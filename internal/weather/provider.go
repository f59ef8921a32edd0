package weather

import (
	"context"
	"errors"
	"fmt"
)

// Client abstracts the remote weather/geocoding service.
type Client interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (Snapshot, error)
	Geocode(ctx context.Context, query string, limit int) ([]GeocodingMatch, error)
	FetchBatch(ctx context.Context, ids []int) ([]Snapshot, error)
}

// CityStore is the persistent city collection. Insert and Delete only stage
// changes on the working set; nothing is durable until Commit succeeds.
// Cities returned by LoadAll are the store's working copies: mutating them and
// calling Commit persists the mutation.
type CityStore interface {
	LoadAll(ctx context.Context) ([]*City, error)
	Insert(city *City)
	Delete(id string) error
	Commit(ctx context.Context) error
}

// FavoritesStore persists the favorite city-ID set.
type FavoritesStore interface {
	FavoriteIDs(ctx context.Context) ([]int, error)
	SaveFavoriteIDs(ctx context.Context, ids []int) error
}

// Error kinds surfaced by Client implementations.
var (
	ErrInvalidRequestTarget = errors.New("invalid request target")
	ErrRequestFailed        = errors.New("request failed")
	ErrInvalidResponse      = errors.New("invalid response")
	ErrDecoding             = errors.New("decoding error")
)

// ServerError reports a non-2xx status from the remote service.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}
