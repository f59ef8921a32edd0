package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ClientRequests counts outbound calls made by the weather client.
	ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_client_requests_total",
		Help: "Outbound weather service requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// SyncOperations counts sync service operations that started.
	SyncOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citysync_operations_total",
		Help: "City sync operations by name.",
	}, []string{"operation"})

	// CityFailures counts per-city or per-batch fetch failures inside sync operations.
	CityFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citysync_city_failures_total",
		Help: "Failed city fetches by sync operation.",
	}, []string{"operation"})

	// CommitFailures counts store commits that returned an error.
	CommitFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citysync_commit_failures_total",
		Help: "City store commits that failed.",
	})
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ClientRequests, SyncOperations, CityFailures, CommitFailures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
