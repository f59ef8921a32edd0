package weather

import (
	"time"

	"github.com/google/uuid"
)

const iconBaseURL = "https://openweathermap.org/img/wn/"

// City is a tracked location together with its cached weather.
// Weather fields stay nil until the first successful fetch; LastUpdated is set
// exactly when they are written.
type City struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`

	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
	Temperature    *float64   `json:"temperatureC,omitempty"`
	TemperatureMin *float64   `json:"temperatureMinC,omitempty"`
	TemperatureMax *float64   `json:"temperatureMaxC,omitempty"`
	Humidity       *int       `json:"humidityPercent,omitempty"`
	WindSpeed      *float64   `json:"windSpeed,omitempty"`
	Condition      *string    `json:"condition,omitempty"`
	Icon           *string    `json:"icon,omitempty"`
}

// NewCity creates a city with a fresh identifier and no cached weather.
func NewCity(name, country string, lat, lon float64) *City {
	return &City{
		ID:      uuid.NewString(),
		Name:    name,
		Country: country,
		Lat:     lat,
		Lon:     lon,
	}
}

// ApplySnapshot overwrites every cached weather field with the snapshot's
// values, including clearing fields the snapshot does not carry, and stamps
// the city with updatedAt.
func (c *City) ApplySnapshot(s Snapshot, updatedAt time.Time) {
	temp := s.Temperature
	c.Temperature = &temp
	c.TemperatureMin = s.TemperatureMin
	c.TemperatureMax = s.TemperatureMax
	c.Humidity = s.Humidity
	c.WindSpeed = s.WindSpeed

	c.Condition = nil
	c.Icon = nil
	if cond, ok := s.PrimaryCondition(); ok {
		desc, icon := cond.Description, cond.Icon
		c.Condition = &desc
		c.Icon = &icon
	}

	ts := updatedAt
	c.LastUpdated = &ts
}

// IconURL returns the remote image for the cached icon, or "" if there is none.
func (c *City) IconURL() string {
	if c.Icon == nil || *c.Icon == "" {
		return ""
	}
	return iconBaseURL + *c.Icon + "@2x.png"
}

// Clone returns a deep copy so callers can hand cities out without sharing
// the store's working copies.
func (c *City) Clone() *City {
	out := *c
	out.LastUpdated = clonePtr(c.LastUpdated)
	out.Temperature = clonePtr(c.Temperature)
	out.TemperatureMin = clonePtr(c.TemperatureMin)
	out.TemperatureMax = clonePtr(c.TemperatureMax)
	out.Humidity = clonePtr(c.Humidity)
	out.WindSpeed = clonePtr(c.WindSpeed)
	out.Condition = clonePtr(c.Condition)
	out.Icon = clonePtr(c.Icon)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Condition is one weather descriptor as reported by the remote service.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Snapshot is the decoded result of one current-weather call. It is never persisted.
type Snapshot struct {
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`

	Temperature    float64  `json:"temperatureC"`
	FeelsLike      *float64 `json:"feelsLikeC,omitempty"`
	TemperatureMin *float64 `json:"temperatureMinC,omitempty"`
	TemperatureMax *float64 `json:"temperatureMaxC,omitempty"`
	Humidity       *int     `json:"humidityPercent,omitempty"`
	WindSpeed      *float64 `json:"windSpeed,omitempty"`
	WindDeg        *int     `json:"windDeg,omitempty"`

	// Conditions are ordered as received; the first one is authoritative.
	Conditions []Condition `json:"conditions"`

	Timestamp time.Time `json:"timestamp"` // always UTC
}

// PrimaryCondition returns the authoritative condition, if any.
func (s Snapshot) PrimaryCondition() (Condition, bool) {
	if len(s.Conditions) == 0 {
		return Condition{}, false
	}
	return s.Conditions[0], true
}

// GeocodingMatch is a candidate location returned by a name search.
type GeocodingMatch struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"localNames,omitempty"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Country    string            `json:"country"`
	State      string            `json:"state,omitempty"`
}

// SeedCity is one entry of the default city list.
type SeedCity struct {
	Name    string  `json:"name" yaml:"name"`
	Country string  `json:"country" yaml:"country"`
	Lat     float64 `json:"lat" yaml:"lat"`
	Lon     float64 `json:"lon" yaml:"lon"`
}

// DefaultSeedCities is seeded on first run when no favorite import produced a city.
var DefaultSeedCities = []SeedCity{
	{Name: "London", Country: "GB", Lat: 51.5074, Lon: -0.1278},
	{Name: "New York", Country: "US", Lat: 40.7128, Lon: -74.0060},
	{Name: "Tokyo", Country: "JP", Lat: 35.6895, Lon: 139.6917},
	{Name: "Paris", Country: "FR", Lat: 48.8566, Lon: 2.3522},
	{Name: "Sydney", Country: "AU", Lat: -33.8688, Lon: 151.2093},
}
