package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyfetch_outcomes_total",
		Help: "Fetch outcomes by kind and reason",
	}, []string{"kind", "reason"})

	Attempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxyfetch_attempts_total",
		Help: "HTTP attempts issued through proxies, retries included",
	})

	Rounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxyfetch_rounds_total",
		Help: "Scheduler rounds completed",
	})

	StalledRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxyfetch_stalled_rounds_total",
		Help: "Rounds that resolved no URL",
	})

	Pending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxyfetch_pending_urls",
		Help: "URLs still waiting for a terminal outcome",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxyfetch_in_flight",
		Help: "Fetches currently running",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxyfetch_fetch_duration_seconds",
		Help:    "Wall time of one fetch including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
	})
)

// StartServer serves /metrics on addr until ctx is done. An empty addr
// disables it.
func StartServer(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics listening")
		// Don't crash the run if metrics fail
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
}
