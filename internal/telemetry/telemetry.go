// Package telemetry exposes per-stage offered load, in-flight stream count,
// and dropped-sample counters over Prometheus. It gives the drop counter an
// operator-visible home beyond log lines; it is additive and the core load
// generator never depends on it being read.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the load tester's exported gauges and counters.
type Metrics struct {
	StageIndex      prometheus.Gauge
	OfferedRateSPS  prometheus.Gauge
	InFlightStreams prometheus.Gauge
	StreamsOpened   prometheus.Counter
	StreamsFailed   prometheus.Counter
	SamplesDropped  prometheus.Counter
}

// New registers and returns a fresh Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "extproc_loadtest",
			Name:      "stage_index",
			Help:      "0-based index of the stage currently in progress.",
		}),
		OfferedRateSPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "extproc_loadtest",
			Name:      "offered_rate_streams_per_second",
			Help:      "Nominal arrival rate of the stage currently in progress.",
		}),
		InFlightStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "extproc_loadtest",
			Name:      "in_flight_streams",
			Help:      "Streams that have been opened but not yet closed.",
		}),
		StreamsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "extproc_loadtest",
			Name:      "streams_opened_total",
			Help:      "Streams opened across the whole run.",
		}),
		StreamsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "extproc_loadtest",
			Name:      "streams_failed_total",
			Help:      "Streams whose scripted exchange did not complete successfully.",
		}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "extproc_loadtest",
			Name:      "samples_dropped_total",
			Help:      "Latency samples discarded by the collector's high-water mark.",
		}),
	}
}

// Server serves the registered metrics over HTTP until Shutdown is called.
type Server struct {
	httpServer *http.Server
}

// StartServer binds an HTTP server exposing path (e.g. "/metrics") on addr.
// It returns immediately; Serve errors other than http.ErrServerClosed are
// reported via the returned channel.
func StartServer(addr, path string, reg *prometheus.Registry) (*Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("telemetry: metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	return &Server{httpServer: srv}, errCh
}

// Shutdown gracefully stops the metrics server within the given bound.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
