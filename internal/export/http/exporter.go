// Package http forwards structured event lines to an external analyzer
// endpoint as compressed NDJSON batches. The stdout stream stays the
// primary interface; forwarding is an optional tee off the emitter.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/apiscope/apiscope/internal/emit"
	"github.com/apiscope/apiscope/internal/export"
)

// envelope is the forwarded form of an event, with the agent identity
// stamped on.
type envelope struct {
	emit.Event
	Agent string `json:"agent,omitempty"`
}

// Exporter POSTs event batches to the analyzer endpoint as NDJSON.
type Exporter struct {
	cfg    Config
	client *http.Client
	codec  *Codec
	log    logrus.FieldLogger
}

var _ processor.ItemExporter[envelope] = (*Exporter)(nil)

// NewExporter creates a new HTTP exporter.
func NewExporter(log logrus.FieldLogger, cfg Config) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := NewCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Workers * 2,
			MaxIdleConnsPerHost: cfg.Workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.ExportTimeout,
	}

	return &Exporter{
		cfg:    cfg,
		client: client,
		codec:  codec,
		log:    log.WithField("component", "http_exporter"),
	}, nil
}

// ExportItems sends one batch to the endpoint.
func (e *Exporter) ExportItems(ctx context.Context, items []*envelope) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(len(items) * 128)

	enc := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
	}

	payload, err := e.codec.Encode(buf.Bytes())
	if err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	if encoding := e.codec.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"events":     len(items),
		"bytes":      buf.Len(),
		"compressed": len(payload),
	}).Debug("Forwarded event batch")

	return nil
}

// Shutdown shuts down the exporter.
func (e *Exporter) Shutdown(_ context.Context) error {
	if e.codec != nil {
		return e.codec.Close()
	}

	return nil
}

// Forwarder tees emitted events into a batch processor backed by the
// HTTP exporter. Forward never blocks the hook path: a full queue
// drops the event and bumps a counter.
type Forwarder struct {
	cfg    Config
	proc   *processor.BatchItemProcessor[envelope]
	health *export.HealthMetrics
	log    logrus.FieldLogger
}

var _ emit.Forwarder = (*Forwarder)(nil)

// NewForwarder builds the exporter and its batch processor.
func NewForwarder(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (*Forwarder, error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[envelope](
		exporter,
		"event_forward",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return &Forwarder{
		cfg:    cfg,
		proc:   proc,
		health: health,
		log:    log.WithField("component", "forwarder"),
	}, nil
}

// Start begins the batch workers.
func (f *Forwarder) Start(ctx context.Context) {
	f.proc.Start(ctx)
}

// Forward enqueues one event for batched export.
func (f *Forwarder) Forward(event emit.Event) {
	item := envelope{Event: event, Agent: f.cfg.AgentName}

	if err := f.proc.Write(
		context.Background(), []*envelope{&item},
	); err != nil {
		if f.health != nil {
			f.health.ForwardErrors.Inc()
		}

		f.log.WithError(err).Debug("Forward queue rejected event")
	}
}

// Shutdown flushes and stops the batch workers.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	return f.proc.Shutdown(ctx)
}
