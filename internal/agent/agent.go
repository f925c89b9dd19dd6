// Package agent wires the observation core together: the hook
// registry, call-site resolver, deduplicator, and emitter, attached to
// a host-provided interception primitive.
package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/apiscope/apiscope/internal/callsite"
	"github.com/apiscope/apiscope/internal/dedup"
	"github.com/apiscope/apiscope/internal/emit"
	"github.com/apiscope/apiscope/internal/export"
	httpexport "github.com/apiscope/apiscope/internal/export/http"
	"github.com/apiscope/apiscope/internal/hook"
	"github.com/apiscope/apiscope/internal/intercept"
)

// Agent is the top-level orchestrator for apiscope.
type Agent interface {
	// Start attaches all hooks and begins observation.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log       logrus.FieldLogger
	cfg       *Config
	health    *export.HealthMetrics
	registry  *hook.Registry
	resolver  *callsite.Resolver
	dedup     *dedup.Deduplicator
	emitter   *emit.LineEmitter
	primitive intercept.Primitive
	forwarder *httpexport.Forwarder
	stats     *stats

	cancel context.CancelFunc
}

// New creates a new Agent. The primitive is the host-provided
// interception mechanism; sink is where event lines go, normally
// stdout. Construction wires an isolated deduplicator per agent so
// concurrent agents (and tests) never share state.
func New(
	log logrus.FieldLogger,
	cfg *Config,
	primitive intercept.Primitive,
	sink io.Writer,
) (Agent, error) {
	if primitive == nil {
		return nil, fmt.Errorf("interception primitive is required")
	}

	health := export.NewHealthMetrics(log, cfg.Health)

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		registry: hook.DefaultRegistry(),
		resolver: callsite.NewResolver(
			callsite.PrefixMatcher(cfg.AppNamespaces),
		),
		dedup:     dedup.New(),
		emitter:   emit.NewLineEmitter(log, cfg.Emit, sink, health),
		primitive: primitive,
		stats:     newStats(),
	}

	if cfg.Forward.Enabled {
		fwd, err := httpexport.NewForwarder(log, cfg.Forward, health)
		if err != nil {
			return nil, fmt.Errorf("creating forwarder: %w", err)
		}

		a.forwarder = fwd
		a.emitter.SetForwarder(fwd)
	}

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start the HTTP forwarder so no early event is lost.
	if a.forwarder != nil {
		a.forwarder.Start(ctx)

		a.log.Info("Event forwarding started")
	}

	// 3. Attach one hook per monitored target. Targets whose symbol
	// is absent from the process are skipped; everything else stays
	// active.
	attached, err := a.attachHooks()
	if err != nil {
		a.stopStarted()

		return fmt.Errorf("attaching hooks: %w", err)
	}

	if attached == 0 {
		a.log.Warn("No hooks attached; nothing to observe")
	}

	// 4. Start the primitive if it has a lifecycle of its own.
	if runner, ok := a.primitive.(intercept.Runner); ok {
		if err := runner.Start(ctx); err != nil {
			a.stopStarted()

			return fmt.Errorf("starting interception primitive: %w", err)
		}
	}

	a.log.WithField("hooks", attached).Info("Agent fully started")

	return nil
}

// stopStarted unwinds the components already running when a later
// startup step fails, so a failed Start leaves nothing listening.
func (a *agent) stopStarted() {
	if a.cancel != nil {
		a.cancel()
	}

	if a.forwarder != nil {
		if err := a.forwarder.Shutdown(context.Background()); err != nil {
			a.log.WithError(err).Error("Forwarder shutdown failed")
		}
	}

	a.health.Stop()
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	// Stop in reverse order.
	if runner, ok := a.primitive.(intercept.Runner); ok {
		if err := runner.Stop(); err != nil {
			a.log.WithError(err).
				Error("Error stopping interception primitive")
		}
	}

	if a.forwarder != nil {
		if err := a.forwarder.Shutdown(context.Background()); err != nil {
			a.log.WithError(err).Error("Forwarder shutdown failed")
		}
	}

	a.logSummary()

	if a.health != nil {
		a.health.Stop()
	}

	return nil
}

// logSummary reports per-target observation statistics at shutdown,
// for interactive use only.
func (a *agent) logSummary() {
	total := a.stats.Total()

	a.log.WithFields(logrus.Fields{
		"calls_observed": total,
		"unique_targets": a.stats.Targets(),
		"dedup_keys":     a.dedup.Len(),
	}).Info("Observation summary")

	for i, tc := range a.stats.Top(5) {
		a.log.WithFields(logrus.Fields{
			"rank":   i + 1,
			"target": tc.Name,
			"calls":  tc.Count,
		}).Info("Top observed target")
	}
}
