package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-city-sync/internal/common"
	"github.com/i474232898/weather-city-sync/internal/weather"
)

const (
	// DefaultBaseURL is the OpenWeatherMap API root.
	DefaultBaseURL = "https://api.openweathermap.org"

	// GroupBatchSize is the maximum number of city IDs per group request.
	GroupBatchSize = 20

	defaultGeocodeLimit = 5
)

// OpenWeatherConfig configures an OpenWeatherClient.
type OpenWeatherConfig struct {
	APIKey  string
	BaseURL string

	// MaxConsecutiveFailures opens the circuit breaker; zero disables it.
	MaxConsecutiveFailures uint32
}

// OpenWeatherClient implements weather.Client against OpenWeatherMap.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ weather.Client = (*OpenWeatherClient)(nil)

func NewOpenWeatherClient(client *http.Client, cfg OpenWeatherConfig) *OpenWeatherClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &OpenWeatherClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:                 client,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		},
		circuit: newCircuitBreaker("openweather", cfg.MaxConsecutiveFailures),
	}
}

// FetchCurrent returns the current weather at a coordinate, in metric units.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, lat, lon float64) (weather.Snapshot, error) {
	values := url.Values{}
	values.Set("lat", formatCoord(lat))
	values.Set("lon", formatCoord(lon))
	values.Set("units", "metric")

	body, err := doRequest(ctx, c.httpCfg, c.circuit, "weather", c.requestBuilder("/data/2.5/weather", values))
	if err != nil {
		return weather.Snapshot{}, err
	}

	var payload currentWeatherPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Snapshot{}, fmt.Errorf("%w: %v", weather.ErrDecoding, err)
	}
	snap, err := payload.toSnapshot()
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("%w: %v", weather.ErrDecoding, err)
	}
	return snap, nil
}

// Geocode searches locations by name. Zero matches is an empty result, not an error.
func (c *OpenWeatherClient) Geocode(ctx context.Context, query string, limit int) ([]weather.GeocodingMatch, error) {
	if limit <= 0 {
		limit = defaultGeocodeLimit
	}

	values := url.Values{}
	values.Set("q", query)
	values.Set("limit", strconv.Itoa(limit))

	body, err := doRequest(ctx, c.httpCfg, c.circuit, "geocode", c.requestBuilder("/geo/1.0/direct", values))
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Name       *string           `json:"name"`
		LocalNames map[string]string `json:"local_names"`
		Lat        *float64          `json:"lat"`
		Lon        *float64          `json:"lon"`
		Country    string            `json:"country"`
		State      string            `json:"state"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrDecoding, err)
	}

	matches := make([]weather.GeocodingMatch, 0, len(payload))
	for _, p := range payload {
		if p.Name == nil || p.Lat == nil || p.Lon == nil {
			return nil, fmt.Errorf("%w: geocoding match missing name or coordinates", weather.ErrDecoding)
		}
		matches = append(matches, weather.GeocodingMatch{
			Name:       *p.Name,
			LocalNames: p.LocalNames,
			Lat:        *p.Lat,
			Lon:        *p.Lon,
			Country:    p.Country,
			State:      p.State,
		})
	}
	return matches, nil
}

// FetchBatch returns current weather for city IDs. IDs are requested in
// chunks of GroupBatchSize, one chunk at a time; the first failing chunk
// aborts the whole call and earlier results are discarded.
func (c *OpenWeatherClient) FetchBatch(ctx context.Context, ids []int) ([]weather.Snapshot, error) {
	if len(ids) == 0 {
		return []weather.Snapshot{}, nil
	}

	var results []weather.Snapshot
	for _, chunk := range common.Chunk(ids, GroupBatchSize) {
		values := url.Values{}
		values.Set("id", common.JoinIDs(chunk))
		values.Set("units", "metric")

		body, err := doRequest(ctx, c.httpCfg, c.circuit, "group", c.requestBuilder("/data/2.5/group", values))
		if err != nil {
			return nil, err
		}

		var payload struct {
			List *[]currentWeatherPayload `json:"list"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", weather.ErrDecoding, err)
		}
		if payload.List == nil {
			return nil, fmt.Errorf("%w: group response missing list", weather.ErrDecoding)
		}

		for _, item := range *payload.List {
			snap, err := item.toSnapshot()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", weather.ErrDecoding, err)
			}
			results = append(results, snap)
		}
	}
	return results, nil
}

func (c *OpenWeatherClient) requestBuilder(path string, values url.Values) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		if c.apiKey == "" {
			return nil, errors.New("openweather api key is not configured")
		}

		u, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url %q is not absolute", c.baseURL)
		}
		u = u.JoinPath(path)

		q := url.Values{}
		for k, v := range values {
			q[k] = v
		}
		q.Set("appid", c.apiKey)
		u.RawQuery = q.Encode()

		return http.NewRequest(http.MethodGet, u.String(), nil)
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// currentWeatherPayload mirrors the weather-by-coordinate response. Required
// members are pointers so their absence can be told apart from zero values.
type currentWeatherPayload struct {
	Coord *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather *[]weather.Condition `json:"weather"`
	Main    *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Humidity  *int     `json:"humidity"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *int     `json:"deg"`
	} `json:"wind"`
	Dt  *float64 `json:"dt"`
	Sys *struct {
		Country string `json:"country"`
	} `json:"sys"`
	Name *string `json:"name"`
}

func (p currentWeatherPayload) toSnapshot() (weather.Snapshot, error) {
	switch {
	case p.Coord == nil:
		return weather.Snapshot{}, errors.New("missing coord")
	case p.Weather == nil:
		return weather.Snapshot{}, errors.New("missing weather")
	case p.Main == nil || p.Main.Temp == nil:
		return weather.Snapshot{}, errors.New("missing main.temp")
	case p.Dt == nil:
		return weather.Snapshot{}, errors.New("missing dt")
	case p.Name == nil:
		return weather.Snapshot{}, errors.New("missing name")
	}

	snap := weather.Snapshot{
		Name:           *p.Name,
		Lat:            p.Coord.Lat,
		Lon:            p.Coord.Lon,
		Temperature:    *p.Main.Temp,
		FeelsLike:      p.Main.FeelsLike,
		TemperatureMin: p.Main.TempMin,
		TemperatureMax: p.Main.TempMax,
		Humidity:       p.Main.Humidity,
		Conditions:     *p.Weather,
		Timestamp:      time.Unix(int64(*p.Dt), 0).UTC(),
	}
	if p.Wind != nil {
		snap.WindSpeed = p.Wind.Speed
		snap.WindDeg = p.Wind.Deg
	}
	if p.Sys != nil {
		snap.Country = p.Sys.Country
	}
	return snap, nil
}
