// Copyright 2025 Certen Protocol
//
// Metrics - Prometheus counters/histograms for carctl, wired to the
// Bundler lifecycle (internal/bundler.Listener) and the Verifier CLI path.
// This is ambient observability only: no metric here participates in any
// proof, consistent with the cryptographic core never importing this
// package.

package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/car-engine/internal/bundler"
	"github.com/certen/car-engine/internal/verifier"
)

var (
	verifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carctl_verify_total",
		Help: "Total number of CAR verification runs, by verdict.",
	}, []string{"verdict"})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carctl_verify_duration_seconds",
		Help:    "Wall-clock duration of a single CAR verification run.",
		Buckets: prometheus.DefBuckets,
	})

	bundleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carctl_bundle_total",
		Help: "Total number of CAR generation attempts, by outcome.",
	}, []string{"outcome"})
)

// RecordVerify records one completed verification run.
func RecordVerify(verdict verifier.Verdict, seconds float64) {
	verifyTotal.WithLabelValues(string(verdict)).Inc()
	verifyDuration.Observe(seconds)
}

// BundlerListener returns an internal/bundler.Listener that counts sealed
// and failed generations. Registered via bundler.WithListener at CLI
// startup; internal/bundler itself has no Prometheus dependency.
func BundlerListener() bundler.Listener {
	return func(runID string, from, to bundler.State) {
		switch to {
		case bundler.StateSealed:
			bundleTotal.WithLabelValues("sealed").Inc()
		case bundler.StateFailed:
			bundleTotal.WithLabelValues("failed").Inc()
		}
	}
}

// Serve starts a background HTTP listener on addr exposing the default
// Prometheus registry at /metrics. It returns immediately; a non-nil error
// means the listener failed to bind. The server is never stopped by carctl
// itself — each subcommand invocation is short-lived and exits the process
// when done, taking the listener down with it.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go http.Serve(ln, mux)
	return nil
}
