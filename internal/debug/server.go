// Package debug exposes ambient operational endpoints — a liveness check
// and the Prometheus registry — for a running movex client process. It is
// ops tooling, not part of the dispatch/reconciliation core.
package debug

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Checker reports whether the underlying transport connection is currently
// considered live.
type Checker interface {
	Healthy() bool
}

// NewServer builds an *http.Server-ready handler exposing:
//
//	GET /healthz  - 200 while checker.Healthy(), 503 otherwise
//	GET /metrics  - the default Prometheus registry
//
// CORS is permissive by default (rs/cors), matching the teacher's own
// locally-facing debug/metrics endpoints.
func NewServer(checker Checker) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if checker == nil || checker.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return cors.Default().Handler(r)
}
