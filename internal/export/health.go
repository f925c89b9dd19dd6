// Package export carries the agent's own observability surface: a
// Prometheus metrics server describing the health of the
// instrumentation layer itself.
package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for agent health. Nothing
// here sits on the hot call path beyond counter increments.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Observation path.
	EventsObserved   prometheus.Counter
	EventsEmitted    prometheus.Counter
	EventsSuppressed prometheus.Counter
	EventsByTarget   *prometheus.CounterVec // target
	EventsByKind     *prometheus.CounterVec // kind
	HookDuration     prometheus.Histogram   // 10us-5ms buckets

	// Failure visibility. All of these are swallowed locally; the
	// counters are the only place they surface besides debug logs.
	EmitFailures     prometheus.Counter
	ResolutionMisses prometheus.Counter
	HookPanics       prometheus.Counter
	ForwardErrors    prometheus.Counter

	// Bootstrap and state.
	HooksAttached prometheus.Gauge
	HooksSkipped  prometheus.Gauge
	SeenKeys      prometheus.Gauge

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		EventsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "events_observed_total",
			Help:      "Total monitored invocations observed.",
		}),
		EventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "events_emitted_total",
			Help:      "Total structured event lines emitted.",
		}),
		EventsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "events_suppressed_total",
			Help:      "Total native events suppressed as duplicates.",
		}),
		EventsByTarget: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apiscope",
				Name:      "events_by_target_total",
				Help:      "Total observed invocations by target.",
			},
			[]string{"target"},
		),
		EventsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apiscope",
				Name:      "events_by_kind_total",
				Help:      "Total observed invocations by target kind.",
			},
			[]string{"kind"},
		),
		HookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apiscope",
			Name:      "hook_duration_seconds",
			Help:      "Time spent inside a hook callback.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}, // 10us-5ms
		}),
		EmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "emit_failures_total",
			Help:      "Total event lines lost to sink write or format errors.",
		}),
		ResolutionMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "resolution_misses_total",
			Help:      "Total call-site resolutions that degraded to the sentinel.",
		}),
		HookPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "hook_panics_total",
			Help:      "Total panics recovered inside hook callbacks.",
		}),
		ForwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscope",
			Name:      "forward_errors_total",
			Help:      "Total HTTP forwarding failures.",
		}),
		HooksAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apiscope",
			Name:      "hooks_attached",
			Help:      "Number of targets with an active hook.",
		}),
		HooksSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apiscope",
			Name:      "hooks_skipped",
			Help:      "Number of targets skipped because the symbol was absent.",
		}),
		SeenKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apiscope",
			Name:      "dedup_seen_keys",
			Help:      "Size of the dedup seen-set.",
		}),
	}

	reg.MustRegister(
		h.EventsObserved,
		h.EventsEmitted,
		h.EventsSuppressed,
		h.EventsByTarget,
		h.EventsByKind,
		h.HookDuration,
		h.EmitFailures,
		h.ResolutionMisses,
		h.HookPanics,
		h.ForwardErrors,
		h.HooksAttached,
		h.HooksSkipped,
		h.SeenKeys,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
