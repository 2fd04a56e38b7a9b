package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupPrometheus registers a /metrics endpoint that serves every counter
// and gauge registered against reg — the same Registerer passed into
// tower.New — using the standard exposition format.
func SetupPrometheus(mux *http.ServeMux, reg *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
