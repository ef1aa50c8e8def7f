// Package metrics exports Prometheus measurements of token acquisition and
// the submission pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-customs/pkg/pipeline"
	"github.com/sirosfoundation/go-customs/pkg/token"
)

const namespace = "customs"

var (
	_ token.Observer    = (*Recorder)(nil)
	_ pipeline.Observer = (*Recorder)(nil)
)

// Recorder implements token.Observer and pipeline.Observer on its own
// registry
type Recorder struct {
	registry *prometheus.Registry

	tokenAcquisitions *prometheus.CounterVec
	tokenDuration     *prometheus.HistogramVec
	calls             *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	submissions       *prometheus.CounterVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered alongside the customs metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tokenAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_acquisitions_total",
				Help:      "Token acquisitions by outcome (hit, issued, error)",
			},
			[]string{"outcome"},
		),
		tokenDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_acquisition_duration_seconds",
				Help:      "Duration of token acquisitions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webservice_calls_total",
				Help:      "Business webservice calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webservice_call_duration_seconds",
				Help:      "Duration of business webservice calls",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webservice_retries_total",
				Help:      "Retried business webservice calls by operation",
			},
			[]string{"operation"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Finished submissions by family and final status",
			},
			[]string{"family", "status"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.tokenAcquisitions,
		r.tokenDuration,
		r.calls,
		r.callDuration,
		r.retries,
		r.submissions,
	)
	return r
}

// Registry returns the registry backing the Recorder
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAcquire implements token.Observer
func (r *Recorder) ObserveAcquire(outcome string, d time.Duration) {
	r.tokenAcquisitions.WithLabelValues(outcome).Inc()
	r.tokenDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveCall implements pipeline.Observer
func (r *Recorder) ObserveCall(operation, outcome string, d time.Duration) {
	r.calls.WithLabelValues(operation, outcome).Inc()
	r.callDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRetry implements pipeline.Observer
func (r *Recorder) ObserveRetry(operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

// ObserveSubmission implements pipeline.Observer
func (r *Recorder) ObserveSubmission(family, status string) {
	r.submissions.WithLabelValues(family, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes the registry at path on addr until ctx is done
func (r *Recorder) Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "address", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
