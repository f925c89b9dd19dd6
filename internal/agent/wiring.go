package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apiscope/apiscope/internal/callsite"
	"github.com/apiscope/apiscope/internal/emit"
	"github.com/apiscope/apiscope/internal/hook"
	"github.com/apiscope/apiscope/internal/intercept"
)

// attachHooks registers one before-call callback per registry target.
// A target whose symbol is absent from the process is skipped with a
// diagnostic; any other attach failure aborts startup. Returns the
// number of hooks attached.
func (a *agent) attachHooks() (int, error) {
	attached := 0

	for _, t := range a.registry.Targets() {
		desc := intercept.TargetDescriptor{
			Name:    t.Name,
			NumArgs: len(t.Args),
		}

		err := a.primitive.Attach(desc, a.hookFor(t))
		if errors.Is(err, intercept.ErrTargetUnavailable) {
			a.health.HooksSkipped.Inc()
			a.log.WithField("target", t.Name).
				Warn("Target symbol absent, skipping hook")

			continue
		}

		if err != nil {
			return attached, fmt.Errorf("attaching %s: %w", t.Name, err)
		}

		attached++

		a.health.HooksAttached.Inc()
		a.log.WithFields(logrus.Fields{
			"target": t.Name,
			"kind":   t.Kind.String(),
		}).Debug("Hook attached")
	}

	return attached, nil
}

// hookFor builds the before-call callback for one target. The step
// order is load-bearing: gate, extract, resolve, dedup, emit. Nothing
// here may reach back into the intercepted call. The primitive forwards
// the call unconditionally after the callback returns; the recover
// guarantees a diagnostic failure cannot suppress that.
func (a *agent) hookFor(t hook.Target) intercept.BeforeCall {
	return func(call intercept.Call) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				a.health.HookPanics.Inc()
				a.log.WithField("panic", r).
					Debug("Recovered hook panic")
			}

			a.health.HookDuration.Observe(time.Since(start).Seconds())
		}()

		// Primitives installed on shared dispatch stubs may deliver
		// calls for other symbols through this callback. Only the
		// target this hook was attached for has the right shape and
		// key; anything else is handled by its own hook, or not at
		// all when unmonitored.
		if call.Target() != t.Name {
			return
		}

		a.stats.Record(t.Name)
		a.health.EventsObserved.Inc()
		a.health.EventsByTarget.WithLabelValues(t.Name).Inc()
		a.health.EventsByKind.WithLabelValues(t.Kind.String()).Inc()

		args := make(map[string]string, len(t.Args))
		for i, d := range t.Args {
			args[d.Name] = call.Arg(i)
		}

		// Managed call sites resolve from the captured stack;
		// resolution does not apply across the managed/native
		// boundary.
		method := "native"

		if t.Kind.Managed() {
			method = a.resolver.Resolve(call.CaptureStack())
			if method == callsite.Unknown {
				a.health.ResolutionMisses.Inc()
			}
		}

		key := ""
		if t.Key != nil {
			key = t.Key(args)
		}

		if !a.dedup.ShouldEmit(t.Kind, t.Name, key) {
			a.health.EventsSuppressed.Inc()

			return
		}

		a.health.SeenKeys.Set(float64(a.dedup.Len()))

		a.emitter.Emit(emit.NewEvent(t.Name, method, args))
	}
}
