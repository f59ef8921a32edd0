package store

import (
	"context"
	"sync"

	"github.com/i474232898/weather-city-sync/internal/weather"
)

// MemoryStore is an in-process City Store and favorites store. Committed state
// is kept as deep copies so uncommitted mutations of working copies are not
// visible through Committed until the next Commit.
type MemoryStore struct {
	work workingSet

	mu        sync.RWMutex
	committed []*weather.City
	favorites []int
	commits   int
}

var (
	_ weather.CityStore      = (*MemoryStore)(nil)
	_ weather.FavoritesStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates a MemoryStore with the given cities already committed.
func NewMemoryStore(cities ...*weather.City) *MemoryStore {
	s := &MemoryStore{}
	for _, c := range cities {
		s.committed = append(s.committed, c.Clone())
	}
	return s
}

// LoadAll returns the working copies, loading them from committed state on first use.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*weather.City, error) {
	s.work.mu.Lock()
	defer s.work.mu.Unlock()

	if !s.work.loaded {
		s.mu.RLock()
		for _, c := range s.committed {
			s.work.cities = append(s.work.cities, c.Clone())
		}
		s.mu.RUnlock()
		s.work.loaded = true
	}
	return s.work.snapshot(), nil
}

// Insert stages a new city.
func (s *MemoryStore) Insert(city *weather.City) {
	s.ensureLoaded()
	s.work.insert(city)
}

// Delete stages removal of the city with the given id.
func (s *MemoryStore) Delete(id string) error {
	s.ensureLoaded()
	return s.work.remove(id)
}

// Commit makes the working set the committed state.
func (s *MemoryStore) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.work.mu.Lock()
	next := make([]*weather.City, 0, len(s.work.cities))
	for _, c := range s.work.cities {
		next = append(next, c.Clone())
	}
	s.work.deleted = nil
	s.work.mu.Unlock()

	s.mu.Lock()
	s.committed = next
	s.commits++
	s.mu.Unlock()
	return nil
}

// Committed returns deep copies of the committed cities.
func (s *MemoryStore) Committed() []*weather.City {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*weather.City, 0, len(s.committed))
	for _, c := range s.committed {
		out = append(out, c.Clone())
	}
	return out
}

// Commits reports how many commits have succeeded.
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// FavoriteIDs returns the stored favorite set.
func (s *MemoryStore) FavoriteIDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int, len(s.favorites))
	copy(out, s.favorites)
	return out, nil
}

// SaveFavoriteIDs replaces the stored favorite set.
func (s *MemoryStore) SaveFavoriteIDs(ctx context.Context, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.favorites = make([]int, len(ids))
	copy(s.favorites, ids)
	return nil
}

func (s *MemoryStore) ensureLoaded() {
	_, _ = s.LoadAll(context.Background())
}
