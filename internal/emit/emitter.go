package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apiscope/apiscope/internal/export"
)

// Config configures the line emitter.
type Config struct {
	// Diagnostics adds a free-form human-readable line after each
	// structured record, for interactive observation. Consumers
	// never parse these.
	Diagnostics bool `yaml:"diagnostics"`
}

// Forwarder receives a copy of every emitted event, e.g. for batched
// HTTP export. Forwarding is best-effort and must not block.
type Forwarder interface {
	Forward(event Event)
}

// Emitter writes structured event lines to the output sink.
type Emitter interface {
	Emit(event Event)
}

// LineEmitter appends one JSON line per event to a shared sink. The
// mutex keeps concurrent appends from interleaving partial records;
// no ordering is imposed across threads beyond that. A write failure
// is swallowed: failing to report an event must never reach back into
// the intercepted call.
type LineEmitter struct {
	log       logrus.FieldLogger
	cfg       Config
	health    *export.HealthMetrics
	forwarder Forwarder

	mu sync.Mutex
	w  io.Writer
}

var _ Emitter = (*LineEmitter)(nil)

// NewLineEmitter creates an emitter writing to w.
func NewLineEmitter(
	log logrus.FieldLogger,
	cfg Config,
	w io.Writer,
	health *export.HealthMetrics,
) *LineEmitter {
	return &LineEmitter{
		log:    log.WithField("component", "emitter"),
		cfg:    cfg,
		health: health,
		w:      w,
	}
}

// SetForwarder tees emitted events into f. Must be called before the
// first Emit.
func (e *LineEmitter) SetForwarder(f Forwarder) {
	e.forwarder = f
}

// Emit formats the event as a single self-contained line and appends
// it to the sink. Never returns and never panics: formatting or write
// failures surface only as a debug diagnostic and a counter.
func (e *LineEmitter) Emit(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		e.reportFailure(err)

		return
	}

	var diagErr error

	e.mu.Lock()

	_, err = fmt.Fprintf(e.w, "%s\n", line)
	if err == nil && e.cfg.Diagnostics {
		_, diagErr = fmt.Fprintf(
			e.w, "[*] %s called from %s%s\n",
			event.Name, event.Method, formatArgs(event.Args),
		)
	}

	e.mu.Unlock()

	if err != nil {
		e.reportFailure(err)

		return
	}

	// The structured record reached the stream; a failed diagnostic
	// line only loses the human-readable copy.
	if diagErr != nil {
		e.log.WithError(diagErr).Debug("Diagnostic line write failed")
	}

	if e.health != nil {
		e.health.EventsEmitted.Inc()
	}

	if e.forwarder != nil {
		e.forwarder.Forward(event)
	}
}

func (e *LineEmitter) reportFailure(err error) {
	if e.health != nil {
		e.health.EmitFailures.Inc()
	}

	e.log.WithError(err).Debug("Event emission failed")
}

// formatArgs renders the argument mapping for the diagnostic line in
// a stable order.
func formatArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+args[name])
	}

	return " with " + strings.Join(pairs, ", ")
}
