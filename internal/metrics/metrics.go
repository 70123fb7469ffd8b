// Package metrics exposes Prometheus counters and histograms for a single
// pipeline run: rows processed, policies applied, diagnostics emitted, and
// dispatch duration.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds every counter/histogram the pipeline records, registered
// against its own registry rather than the global one so that a process
// running multiple imports (or a test suite constructing Metrics repeatedly)
// never hits a duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	rowsProcessedTotal    *prometheus.CounterVec
	policiesAppliedTotal  *prometheus.CounterVec
	diagnosticsTotal      *prometheus.CounterVec
	dispatchDuration      prometheus.Histogram
	specificationDuration prometheus.Histogram
	policyDuration        prometheus.Histogram
}

// New constructs a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		rowsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chimport_rows_processed_total",
				Help: "Total number of submission rows processed, by table.",
			},
			[]string{"table"},
		),
		policiesAppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chimport_policies_applied_total",
				Help: "Total number of policy passes applied, by policy id.",
			},
			[]string{"policy"},
		),
		diagnosticsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chimport_specification_diagnostics_total",
				Help: "Total number of specification diagnostics emitted, by severity.",
			},
			[]string{"severity"},
		),
		dispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chimport_dispatch_duration_seconds",
				Help:    "Duration of the XML dispatch pass.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		specificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chimport_specification_duration_seconds",
				Help:    "Duration of the specification engine pass.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		policyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chimport_policy_duration_seconds",
				Help:    "Duration of the policy engine pass.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}
}

// RecordRows adds count to the rows-processed counter for table.
func (m *Metrics) RecordRows(table string, count int) {
	m.rowsProcessedTotal.WithLabelValues(table).Add(float64(count))
}

// RecordPolicyApplied increments the applied-policy counter for id.
func (m *Metrics) RecordPolicyApplied(id string) {
	m.policiesAppliedTotal.WithLabelValues(id).Inc()
}

// RecordDiagnostics adds errors/warnings/infos counts to the diagnostics counter.
func (m *Metrics) RecordDiagnostics(errors, warnings, infos int) {
	m.diagnosticsTotal.WithLabelValues("error").Add(float64(errors))
	m.diagnosticsTotal.WithLabelValues("warning").Add(float64(warnings))
	m.diagnosticsTotal.WithLabelValues("info").Add(float64(infos))
}

// ObservePolicyDuration records how long the policy engine pass took.
func (m *Metrics) ObservePolicyDuration(d time.Duration) {
	m.policyDuration.Observe(d.Seconds())
}

// ObserveSpecificationDuration records how long the specification engine pass took.
func (m *Metrics) ObserveSpecificationDuration(d time.Duration) {
	m.specificationDuration.Observe(d.Seconds())
}

// ObserveDispatchDuration records how long the XML dispatch pass took.
func (m *Metrics) ObserveDispatchDuration(d time.Duration) {
	m.dispatchDuration.Observe(d.Seconds())
}

// Server is a dedicated HTTP server exposing the Prometheus scrape endpoint,
// meant to run for the duration of a long batch import.
type Server struct {
	server *http.Server
}

// NewServer returns a Server bound to addr, serving /metrics from m's registry.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// Start begins serving in the background. Bind errors surface via the returned error;
// errors after a successful bind are only logged, since the caller has already moved on
// to the pipeline run.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("bind metrics server on %s: %w", s.server.Addr, err)
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", s.server.Addr).Msg("metrics server started")
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
