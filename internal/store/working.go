package store

import (
	"errors"
	"sync"

	"github.com/i474232898/weather-city-sync/internal/weather"
)

var (
	// ErrNotFound is returned when no city exists for a given id.
	ErrNotFound = errors.New("city not found")
)

// workingSet holds the cities handed out by LoadAll together with the
// deletions staged since the last commit. Both stores persist from it.
type workingSet struct {
	mu sync.Mutex

	loaded  bool
	cities  []*weather.City
	deleted []string
}

func (w *workingSet) snapshot() []*weather.City {
	out := make([]*weather.City, len(w.cities))
	copy(out, w.cities)
	return out
}

func (w *workingSet) insert(city *weather.City) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, c := range w.cities {
		if c.ID == city.ID {
			w.cities[i] = city
			return
		}
	}
	w.cities = append(w.cities, city)
}

func (w *workingSet) remove(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, c := range w.cities {
		if c.ID == id {
			w.cities = append(w.cities[:i], w.cities[i+1:]...)
			w.deleted = append(w.deleted, id)
			return nil
		}
	}
	return ErrNotFound
}
