package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-city-sync/internal/weather"
)

const londonJSON = `{
  "coord": { "lon": -0.13, "lat": 51.51 },
  "weather": [ { "id": 800, "main": "Clear", "description": "clear sky", "icon": "01d" } ],
  "main": { "temp": 15.5, "feels_like": 15.0, "temp_min": 14.0, "temp_max": 16.0, "humidity": 60 },
  "wind": { "speed": 3.6, "deg": 200 },
  "dt": 1620918000,
  "sys": { "country": "GB" },
  "name": "London"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenWeatherClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewOpenWeatherClient(srv.Client(), OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	return client, srv
}

func TestFetchCurrentDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "51.51", r.URL.Query().Get("lat"))
		assert.Equal(t, "-0.13", r.URL.Query().Get("lon"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		fmt.Fprint(w, londonJSON)
	})

	snap, err := client.FetchCurrent(context.Background(), 51.51, -0.13)
	require.NoError(t, err)

	assert.Equal(t, "London", snap.Name)
	assert.Equal(t, 51.51, snap.Lat)
	assert.Equal(t, 15.5, snap.Temperature)
	cond, ok := snap.PrimaryCondition()
	require.True(t, ok)
	assert.Equal(t, "01d", cond.Icon)
	assert.Equal(t, "clear sky", cond.Description)
	assert.Equal(t, time.Unix(1620918000, 0).UTC(), snap.Timestamp)
	assert.Equal(t, "GB", snap.Country)
	require.NotNil(t, snap.Humidity)
	assert.Equal(t, 60, *snap.Humidity)
	require.NotNil(t, snap.WindSpeed)
	assert.Equal(t, 3.6, *snap.WindSpeed)
}

func TestFetchCurrentOptionalFieldsAbsent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"coord":{"lat":1,"lon":2},"weather":[],"main":{"temp":3},"dt":10,"name":"X"}`)
	})

	snap, err := client.FetchCurrent(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, snap.Humidity)
	assert.Nil(t, snap.WindSpeed)
	assert.Nil(t, snap.TemperatureMin)
	assert.Empty(t, snap.Country)
	_, ok := snap.PrimaryCondition()
	assert.False(t, ok)
}

func TestFetchCurrentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		code    int
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, code: http.StatusNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, code: http.StatusUnauthorized},
		{name: "server error", status: http.StatusBadGateway, body: ``, code: http.StatusBadGateway},
		{name: "malformed json", status: http.StatusOK, body: `{"coord":`, wantErr: weather.ErrDecoding},
		{name: "missing name", status: http.StatusOK, body: `{"coord":{"lat":1,"lon":2},"weather":[],"main":{"temp":3},"dt":10}`, wantErr: weather.ErrDecoding},
		{name: "missing temp", status: http.StatusOK, body: `{"coord":{"lat":1,"lon":2},"weather":[],"main":{},"dt":10,"name":"X"}`, wantErr: weather.ErrDecoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.FetchCurrent(context.Background(), 1, 2)
			require.Error(t, err)

			if tt.code != 0 {
				var serverErr *weather.ServerError
				require.True(t, errors.As(err, &serverErr), "got %v", err)
				assert.Equal(t, tt.code, serverErr.StatusCode)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchCurrentTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewOpenWeatherClient(srv.Client(), OpenWeatherConfig{APIKey: "k", BaseURL: srv.URL})
	srv.Close()

	_, err := client.FetchCurrent(context.Background(), 1, 2)
	assert.ErrorIs(t, err, weather.ErrRequestFailed)
}

func TestInvalidRequestTarget(t *testing.T) {
	noKey := NewOpenWeatherClient(http.DefaultClient, OpenWeatherConfig{BaseURL: "http://localhost"})
	_, err := noKey.FetchCurrent(context.Background(), 1, 2)
	assert.ErrorIs(t, err, weather.ErrInvalidRequestTarget)

	badURL := NewOpenWeatherClient(http.DefaultClient, OpenWeatherConfig{APIKey: "k", BaseURL: "::not a url"})
	_, err = badURL.Geocode(context.Background(), "Paris", 5)
	assert.ErrorIs(t, err, weather.ErrInvalidRequestTarget)
}

func TestGeocode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geo/1.0/direct", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("q") == "Nowhere" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"name":"Paris","local_names":{"fr":"Paris"},"lat":48.85,"lon":2.35,"country":"FR","state":"Ile-de-France"},
			{"name":"Paris","lat":33.66,"lon":-95.55,"country":"US","state":"Texas"}]`)
	})

	matches, err := client.Geocode(context.Background(), "Paris", 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "FR", matches[0].Country)
	assert.Equal(t, "Paris", matches[0].LocalNames["fr"])
	assert.Equal(t, "Texas", matches[1].State)

	none, err := client.Geocode(context.Background(), "Nowhere", 3)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGeocodeDefaultLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[]`)
	})

	_, err := client.Geocode(context.Background(), "Paris", 0)
	require.NoError(t, err)
}

// groupHandler answers group requests with one entry per requested id, named after the id.
func groupHandler(t *testing.T, requests *[][]string, failOn int) http.HandlerFunc {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/data/2.5/group", r.URL.Path)

		ids := strings.Split(r.URL.Query().Get("id"), ",")
		*requests = append(*requests, ids)

		if int(n) == failOn {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		items := make([]string, 0, len(ids))
		for _, id := range ids {
			items = append(items, fmt.Sprintf(
				`{"coord":{"lat":1,"lon":2},"weather":[{"id":800,"main":"Clear","description":"clear","icon":"01d"}],"main":{"temp":%s},"dt":1,"name":"city-%s"}`,
				id, id))
		}
		fmt.Fprintf(w, `{"cnt":%d,"list":[%s]}`, len(items), strings.Join(items, ","))
	}
}

func TestFetchBatchChunksSequentially(t *testing.T) {
	var requests [][]string
	client, _ := newTestClient(t, groupHandler(t, &requests, 0))

	ids := make([]int, 45)
	for i := range ids {
		ids[i] = i + 1
	}

	snaps, err := client.FetchBatch(context.Background(), ids)
	require.NoError(t, err)

	require.Len(t, requests, 3)
	for _, req := range requests {
		assert.LessOrEqual(t, len(req), GroupBatchSize)
	}
	assert.Len(t, requests[2], 5)

	require.Len(t, snaps, 45)
	for i, snap := range snaps {
		assert.Equal(t, "city-"+strconv.Itoa(i+1), snap.Name)
	}
}

func TestFetchBatchEmptyMakesNoCalls(t *testing.T) {
	var requests [][]string
	client, _ := newTestClient(t, groupHandler(t, &requests, 0))

	snaps, err := client.FetchBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)
	assert.Empty(t, requests)
}

func TestFetchBatchAbortsOnChunkFailure(t *testing.T) {
	var requests [][]string
	client, _ := newTestClient(t, groupHandler(t, &requests, 2))

	ids := make([]int, 50)
	for i := range ids {
		ids[i] = i + 1
	}

	snaps, err := client.FetchBatch(context.Background(), ids)
	require.Error(t, err)
	assert.Nil(t, snaps)

	var serverErr *weather.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusServiceUnavailable, serverErr.StatusCode)
	// The third chunk is never requested.
	assert.Len(t, requests, 2)
}

func TestFetchBatchMissingList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"cnt":0}`)
	})

	_, err := client.FetchBatch(context.Background(), []int{1})
	assert.ErrorIs(t, err, weather.ErrDecoding)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewOpenWeatherClient(srv.Client(), OpenWeatherConfig{
		APIKey:                 "k",
		BaseURL:                srv.URL,
		MaxConsecutiveFailures: 2,
	})

	for i := 0; i < 2; i++ {
		_, err := client.FetchCurrent(context.Background(), 1, 2)
		var serverErr *weather.ServerError
		require.ErrorAs(t, err, &serverErr)
	}

	_, err := client.FetchCurrent(context.Background(), 1, 2)
	assert.ErrorIs(t, err, weather.ErrRequestFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := NewOpenWeatherClient(srv.Client(), OpenWeatherConfig{
		APIKey:                 "k",
		BaseURL:                srv.URL,
		MaxConsecutiveFailures: 1,
	})

	for i := 0; i < 3; i++ {
		_, err := client.FetchCurrent(context.Background(), 1, 2)
		var serverErr *weather.ServerError
		require.ErrorAs(t, err, &serverErr)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}
