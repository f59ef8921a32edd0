package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-city-sync/internal/metrics"
	"github.com/i474232898/weather-city-sync/internal/weather"
)

// HTTPClientConfig bundles the HTTP client and circuit breaker settings.
// Every call is a single attempt; failed calls are not retried.
type HTTPClientConfig struct {
	Client *http.Client

	// MaxConsecutiveFailures opens the circuit after that many transport or
	// 5xx failures in a row. Zero disables the breaker.
	MaxConsecutiveFailures uint32
}

var errNoHTTPClient = errors.New("http client not configured")

func newCircuitBreaker(name string, maxFailures uint32) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
}

// doRequest executes one request through the optional circuit breaker and
// returns the full response body on a 2xx status.
//
// Failures map onto the client error kinds: request construction errors are
// ErrInvalidRequestTarget, transport errors (and an open circuit) are
// ErrRequestFailed, non-2xx statuses are *weather.ServerError and an
// unreadable body is ErrInvalidResponse.
func doRequest(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	endpoint string,
	buildRequest func() (*http.Request, error),
) (body []byte, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ClientRequests.WithLabelValues(endpoint, outcome).Inc()
	}()

	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrRequestFailed, errNoHTTPClient)
	}

	req, err := buildRequest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrInvalidRequestTarget, err)
	}
	req = req.WithContext(ctx)

	call := func() (interface{}, error) {
		resp, execErr := cfg.Client.Do(req)
		if execErr != nil {
			return nil, fmt.Errorf("%w: %v", weather.ErrRequestFailed, execErr)
		}
		// Only 5xx trips the breaker; 4xx is handed back as a response.
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, &weather.ServerError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	}

	var result interface{}
	if cb != nil {
		result, err = cb.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", weather.ErrRequestFailed, err)
		}
	} else {
		result, err = call()
	}
	if err != nil {
		return nil, err
	}

	resp, ok := result.(*http.Response)
	if !ok || resp == nil {
		return nil, weather.ErrInvalidResponse
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &weather.ServerError{StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrInvalidResponse, err)
	}
	return body, nil
}
