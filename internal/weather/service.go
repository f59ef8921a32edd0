package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/i474232898/weather-city-sync/internal/metrics"
)

// ErrCityNotLoaded is returned when an operation names a city that is not in
// the loaded list.
var ErrCityNotLoaded = errors.New("city not loaded")

// State is what the presentation layer sees: the loaded cities, whether an
// operation is in flight, and the most recent failure message.
type State struct {
	Cities    []*City `json:"cities"`
	Busy      bool    `json:"busy"`
	LastError string  `json:"lastError,omitempty"`
}

// Service reconciles the city store with the remote weather service.
//
// Operations run their remote calls one after another. The busy flag is
// informational only; nothing stops two operations from running at once.
type Service struct {
	client    Client
	store     CityStore
	favorites FavoritesStore

	fallbackFavorites []int
	seeds             []SeedCity
	now               func() time.Time

	mu        sync.RWMutex
	cities    []*City
	busy      bool
	lastError string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSeedCities replaces the default city list used by SeedDefaults.
func WithSeedCities(seeds []SeedCity) ServiceOption {
	return func(s *Service) {
		s.seeds = seeds
	}
}

// WithFallbackFavorites sets the favorite IDs used when none are persisted.
func WithFallbackFavorites(ids []int) ServiceOption {
	return func(s *Service) {
		s.fallbackFavorites = ids
	}
}

// WithClock overrides the wall clock used to stamp refreshed cities.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service. favorites may be nil, in which case the
// favorite set is neither read nor persisted.
func NewService(client Client, store CityStore, favorites FavoritesStore, opts ...ServiceOption) *Service {
	s := &Service{
		client:    client,
		store:     store,
		favorites: favorites,
		seeds:     DefaultSeedCities,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current presentation state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cities := make([]*City, 0, len(s.cities))
	for _, c := range s.cities {
		cities = append(cities, c.Clone())
	}
	return State{
		Cities:    cities,
		Busy:      s.busy,
		LastError: s.lastError,
	}
}

// ClearError acknowledges the last error.
func (s *Service) ClearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

// Reload replaces the loaded list with the store's current contents.
func (s *Service) Reload(ctx context.Context) error {
	cities, err := s.store.LoadAll(ctx)
	if err != nil {
		log.Printf("ERROR: sync: failed to load cities: %v", err)
		s.mu.Lock()
		s.cities = nil
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.cities = cities
	s.mu.Unlock()
	return nil
}

// RefreshAll fetches current weather for every loaded city in load order and
// commits once at the end. A failed city keeps its cached data and its error
// replaces the last error.
func (s *Service) RefreshAll(ctx context.Context) {
	metrics.SyncOperations.WithLabelValues("refresh_all").Inc()
	s.setBusy(true)
	defer s.setBusy(false)

	s.mu.RLock()
	cities := make([]*City, len(s.cities))
	copy(cities, s.cities)
	s.mu.RUnlock()

	for _, city := range cities {
		s.refreshCity(ctx, city, "refresh_all", "Failed to update")
	}

	s.commit(ctx, "refresh")
	_ = s.Reload(ctx)
}

// RefreshOne refreshes a single loaded city and commits immediately.
func (s *Service) RefreshOne(ctx context.Context, id string) error {
	metrics.SyncOperations.WithLabelValues("refresh_one").Inc()

	city, ok := s.loadedCity(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCityNotLoaded, id)
	}

	s.setBusy(true)
	defer s.setBusy(false)

	if err := s.refreshCity(ctx, city, "refresh_one", "Failed to refresh"); err != nil {
		return err
	}

	s.commit(ctx, "refresh")
	_ = s.Reload(ctx)
	return nil
}

// ImportFavorites persists ids as the favorite set, fetches their weather in
// one batch and inserts a city for every returned place whose name is not
// already present. A batch failure aborts the import with nothing inserted.
func (s *Service) ImportFavorites(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	metrics.SyncOperations.WithLabelValues("import_favorites").Inc()
	s.setBusy(true)
	defer s.setBusy(false)

	if s.favorites != nil {
		if err := s.favorites.SaveFavoriteIDs(ctx, ids); err != nil {
			log.Printf("ERROR: sync: failed to persist favorite ids: %v", err)
		}
	}

	snapshots, err := s.client.FetchBatch(ctx, ids)
	if err != nil {
		metrics.CityFailures.WithLabelValues("import_favorites").Inc()
		log.Printf("ERROR: sync: failed to import favorite ids: %v", err)
		s.setError(fmt.Sprintf("Failed to import favorite cities: %v", err))
		return err
	}

	// Without the stored names duplicates cannot be ruled out.
	existing, err := s.store.LoadAll(ctx)
	if err != nil {
		log.Printf("ERROR: sync: failed to load cities for import: %v", err)
		s.setError(fmt.Sprintf("Failed to import favorite cities: %v", err))
		return err
	}
	names := make(map[string]struct{}, len(existing)+len(snapshots))
	for _, c := range existing {
		names[c.Name] = struct{}{}
	}

	added := 0
	for _, snap := range snapshots {
		if _, ok := names[snap.Name]; ok {
			continue
		}
		names[snap.Name] = struct{}{}

		city := NewCity(snap.Name, snap.Country, snap.Lat, snap.Lon)
		city.ApplySnapshot(snap, snap.Timestamp)
		s.store.Insert(city)
		added++
	}
	log.Printf("INFO: sync: imported %d of %d favorite cities", added, len(snapshots))

	s.commit(ctx, "imported cities")
	_ = s.Reload(ctx)
	return nil
}

// SeedDefaults inserts the seed cities whose weather could be fetched and
// commits once. Cities that fail are logged and skipped.
func (s *Service) SeedDefaults(ctx context.Context) {
	metrics.SyncOperations.WithLabelValues("seed_defaults").Inc()
	s.setBusy(true)
	defer s.setBusy(false)

	for _, seed := range s.seeds {
		snap, err := s.client.FetchCurrent(ctx, seed.Lat, seed.Lon)
		if err != nil {
			metrics.CityFailures.WithLabelValues("seed_defaults").Inc()
			log.Printf("ERROR: sync: failed to fetch seed city %s: %v", seed.Name, err)
			continue
		}

		city := NewCity(seed.Name, seed.Country, seed.Lat, seed.Lon)
		city.ApplySnapshot(snap, s.now())
		s.store.Insert(city)
	}

	s.commit(ctx, "seeded cities")
	_ = s.Reload(ctx)
}

// LoadIfNeeded handles first run: when the store is empty it imports the
// favorite set, and seeds the default list if the store is still empty.
func (s *Service) LoadIfNeeded(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	if len(s.State().Cities) > 0 {
		return nil
	}

	if ids := s.favoriteIDs(ctx); len(ids) > 0 {
		_ = s.ImportFavorites(ctx, ids)
	}

	cities, err := s.store.LoadAll(ctx)
	if err != nil {
		log.Printf("ERROR: sync: failed to recheck cities: %v", err)
		return err
	}
	if len(cities) == 0 {
		s.SeedDefaults(ctx)
	}
	return nil
}

// AddCity inserts a city without cached weather and commits it.
func (s *Service) AddCity(ctx context.Context, name, country string, lat, lon float64) (*City, error) {
	metrics.SyncOperations.WithLabelValues("add_city").Inc()

	city := NewCity(name, country, lat, lon)
	s.store.Insert(city)
	if err := s.store.Commit(ctx); err != nil {
		metrics.CommitFailures.Inc()
		log.Printf("ERROR: sync: failed to save city %s: %v", name, err)
		// Unstage so a later commit does not persist it.
		if delErr := s.store.Delete(city.ID); delErr != nil {
			log.Printf("ERROR: sync: failed to unstage city %s: %v", name, delErr)
		}
		return nil, err
	}
	_ = s.Reload(ctx)
	return city.Clone(), nil
}

// DeleteCity removes a city and commits the deletion.
func (s *Service) DeleteCity(ctx context.Context, id string) error {
	metrics.SyncOperations.WithLabelValues("delete_city").Inc()

	if err := s.store.Delete(id); err != nil {
		return err
	}
	if err := s.store.Commit(ctx); err != nil {
		metrics.CommitFailures.Inc()
		log.Printf("ERROR: sync: failed to delete city %s: %v", id, err)
		return err
	}
	_ = s.Reload(ctx)
	return nil
}

// SearchCities looks up candidate locations by name.
func (s *Service) SearchCities(ctx context.Context, query string, limit int) ([]GeocodingMatch, error) {
	if query == "" {
		return []GeocodingMatch{}, nil
	}
	return s.client.Geocode(ctx, query, limit)
}

// refreshCity fetches and applies weather for one city. On failure the city
// is left untouched and the error becomes the last error.
func (s *Service) refreshCity(ctx context.Context, city *City, operation, prefix string) error {
	snap, err := s.client.FetchCurrent(ctx, city.Lat, city.Lon)
	if err != nil {
		metrics.CityFailures.WithLabelValues(operation).Inc()
		log.Printf("ERROR: sync: %s for %s: %v", operation, city.Name, err)
		s.setError(fmt.Sprintf("%s %s: %v", prefix, city.Name, err))
		return err
	}

	s.mu.Lock()
	city.ApplySnapshot(snap, s.now())
	s.mu.Unlock()
	return nil
}

// commit persists pending changes. Failures are logged only; in-memory
// mutations are not rolled back.
func (s *Service) commit(ctx context.Context, what string) {
	if err := s.store.Commit(ctx); err != nil {
		metrics.CommitFailures.Inc()
		log.Printf("ERROR: sync: failed to save %s: %v", what, err)
	}
}

func (s *Service) favoriteIDs(ctx context.Context) []int {
	if s.favorites != nil {
		ids, err := s.favorites.FavoriteIDs(ctx)
		if err != nil {
			log.Printf("ERROR: sync: failed to read favorite ids: %v", err)
		} else if len(ids) > 0 {
			return ids
		}
	}
	return s.fallbackFavorites
}

func (s *Service) loadedCity(id string) (*City, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cities {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (s *Service) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}
