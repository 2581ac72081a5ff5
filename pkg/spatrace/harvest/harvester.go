package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	spaerrors "github.com/randalmurphal/spatrace/pkg/spatrace/errors"
	"github.com/randalmurphal/spatrace/pkg/spatrace/observability"
)

// Batch is one delivery to the collector.
type Batch struct {
	ID           string            `json:"batch_id"`
	SessionID    string            `json:"session_id"`
	Interactions []json.RawMessage `json:"interactions"`
}

// Body encodes the batch as JSON.
func (b Batch) Body() ([]byte, error) {
	return json.Marshal(b)
}

// Sender delivers a batch. Errors classified as transient by
// errors.Categorize are retried.
type Sender interface {
	Send(ctx context.Context, batch Batch) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, batch Batch) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// HTTPSender posts batches as JSON to a collector endpoint.
type HTTPSender struct {
	Client   *http.Client
	Endpoint string
}

// Send implements Sender. Non-2xx responses become *errors.HTTPError.
func (s HTTPSender) Send(ctx context.Context, batch Batch) error {
	body, err := batch.Body()
	if err != nil {
		return spaerrors.Permanent(err, "encode batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return spaerrors.Permanent(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return spaerrors.Transient(err, "post batch")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &spaerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode),
			Endpoint:   s.Endpoint,
		}
	}
	return nil
}

type harvesterConfig struct {
	sessionID string
	batchSize int
	interval  time.Duration
	retry     spaerrors.RetryConfig
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// Option configures a Harvester.
type Option func(*harvesterConfig)

// WithSessionID sets the session id stamped on every batch.
// Default: a random UUID.
func WithSessionID(id string) Option {
	return func(c *harvesterConfig) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// WithBatchSize sets the maximum records per batch. Default: 50.
func WithBatchSize(n int) Option {
	return func(c *harvesterConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithInterval sets the period between harvests in Run. Default: 10s.
func WithInterval(d time.Duration) Option {
	return func(c *harvesterConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRetry sets the delivery retry policy. Default: errors.DefaultRetry.
func WithRetry(cfg spaerrors.RetryConfig) Option {
	return func(c *harvesterConfig) {
		c.retry = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *harvesterConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *harvesterConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the span manager. Default: no-op.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *harvesterConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// Harvester drains a Store in batches to a Sender. Records are acked only
// after a successful send, so a failed batch is retried on the next
// harvest.
type Harvester struct {
	store  Store
	sender Sender
	cfg    harvesterConfig
}

// NewHarvester creates a harvester over store and sender.
func NewHarvester(store Store, sender Sender, opts ...Option) *Harvester {
	cfg := harvesterConfig{
		sessionID: uuid.NewString(),
		batchSize: 50,
		interval:  10 * time.Second,
		retry:     spaerrors.DefaultRetry,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Harvester{store: store, sender: sender, cfg: cfg}
}

// SessionID returns the session id stamped on batches.
func (h *Harvester) SessionID() string {
	return h.cfg.sessionID
}

// Enqueue serializes p and queues it for delivery.
func (h *Harvester) Enqueue(p *Payload) error {
	if p == nil {
		return nil
	}
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	id := fmt.Sprintf("%s/%d", p.SessionID, p.InteractionID)
	if err := h.store.Append(id, data); err != nil {
		observability.LogStoreError(h.cfg.logger, "append", err)
		return fmt.Errorf("queue payload: %w", err)
	}
	return nil
}

// HarvestOnce sends one batch of pending records. It returns the number of
// records delivered; zero with a nil error means the queue was empty.
func (h *Harvester) HarvestOnce(ctx context.Context) (int, error) {
	records, err := h.store.Pending(h.cfg.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	batch := Batch{
		ID:           uuid.NewString(),
		SessionID:    h.cfg.sessionID,
		Interactions: make([]json.RawMessage, len(records)),
	}
	ids := make([]string, len(records))
	size := 0
	for i, rec := range records {
		batch.Interactions[i] = json.RawMessage(rec.Data)
		ids[i] = rec.ID
		size += len(rec.Data)
	}

	ctx, span := h.cfg.spans.StartHarvestSpan(ctx, batch.ID, len(records))
	elapsed := observability.TimedOperation()
	attempts, err := spaerrors.Retry(ctx, h.cfg.retry, func(ctx context.Context) error {
		return h.sender.Send(ctx, batch)
	})
	h.cfg.spans.EndSpanWithError(span, err)
	h.cfg.metrics.RecordHarvest(ctx, len(records), int64(size), err)

	if err != nil {
		observability.LogHarvestError(h.cfg.logger, batch.ID, attempts, err)
		return 0, fmt.Errorf("send batch %s: %w", batch.ID, err)
	}

	if err := h.store.Ack(ids...); err != nil {
		observability.LogStoreError(h.cfg.logger, "ack", err)
		return len(records), fmt.Errorf("ack batch %s: %w", batch.ID, err)
	}
	observability.LogHarvest(h.cfg.logger, batch.ID, len(records), size, elapsed())
	return len(records), nil
}

// Flush harvests until the queue is empty or a send fails.
func (h *Harvester) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := h.HarvestOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// Run harvests every interval until ctx is done, then makes a final
// best-effort flush with a fresh deadline of one interval.
func (h *Harvester) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.interval)
			_, _ = h.Flush(final)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			// Failures are logged and retried next tick.
			_, _ = h.Flush(ctx)
		}
	}
}
