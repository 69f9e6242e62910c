package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/ports"
)

const (
	defaultMaxAttempts    = 4
	defaultInitialBackoff = time.Second
	defaultAttemptTimeout = 10 * time.Second
	defaultWorkers        = 4
	defaultQueueSize      = 256
)

type WebhookDispatcherConfig struct {
	// MaxAttempts counts the first try. Waits between attempts double from
	// InitialBackoff: 1s, 2s, 4s for the defaults.
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
	Workers        int
	QueueSize      int
}

func (c WebhookDispatcherConfig) withDefaults() WebhookDispatcherConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// WebhookDispatcher delivers signed event callbacks to tenant endpoints.
// Enqueue hands work to a fixed worker pool so retries never hold up the
// request that triggered them; delivery is best-effort and failed payloads
// are dropped once the retry budget is spent.
type WebhookDispatcher struct {
	sender ports.WebhookSender
	cfg    WebhookDispatcherConfig
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	queue   chan dispatchTask
	started bool
	closed  bool
	wg      sync.WaitGroup

	deliveredTotal atomic.Int64
	failedTotal    atomic.Int64
	skippedTotal   atomic.Int64
	droppedTotal   atomic.Int64
}

type WebhookDispatcherMetrics struct {
	DeliveredTotal int64
	FailedTotal    int64
	SkippedTotal   int64
	DroppedTotal   int64
}

type dispatchTask struct {
	tenant domain.Tenant
	event  domain.WebhookEvent
	data   json.RawMessage
}

func NewWebhookDispatcher(sender ports.WebhookSender, cfg WebhookDispatcherConfig, logger zerolog.Logger) *WebhookDispatcher {
	cfg = cfg.withDefaults()
	return &WebhookDispatcher{
		sender: sender,
		cfg:    cfg,
		logger: logger.With().Str("component", "webhook_dispatcher").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan dispatchTask, cfg.QueueSize),
	}
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (d *WebhookDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for range d.cfg.Workers {
		d.wg.Add(1)
		go d.worker()
	}
}

// Close stops accepting work and waits until every queued dispatch has
// reached a terminal state.
func (d *WebhookDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for task := range d.queue {
			d.run(task)
		}
	}
	d.wg.Wait()
	return nil
}

// Enqueue schedules a dispatch and returns immediately. It reports false
// when the event was dropped because the dispatcher is closed or its queue
// is full.
func (d *WebhookDispatcher) Enqueue(tenant domain.Tenant, event domain.WebhookEvent, data json.RawMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.droppedTotal.Add(1)
		d.logger.Warn().Str("tenant_id", tenant.ID).Str("event", string(event)).Msg("webhook dropped: dispatcher closed")
		return false
	}
	select {
	case d.queue <- dispatchTask{tenant: tenant, event: event, data: data}:
		return true
	default:
		d.droppedTotal.Add(1)
		d.logger.Warn().Str("tenant_id", tenant.ID).Str("event", string(event)).Msg("webhook dropped: queue full")
		return false
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		d.run(task)
	}
}

func (d *WebhookDispatcher) run(task dispatchTask) {
	if _, err := d.Dispatch(context.Background(), task.tenant, task.event, task.data); err != nil {
		d.logger.Error().Err(err).Str("tenant_id", task.tenant.ID).Str("event", string(task.event)).Msg("webhook not dispatched")
	}
}

// Dispatch builds, signs and delivers one event, blocking through every
// retry. Delivery failures are reported in the result, never as an error;
// the error is reserved for events that could not be built at all.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, tenant domain.Tenant, event domain.WebhookEvent, data json.RawMessage) (domain.DeliveryResult, error) {
	if !event.Valid() {
		return domain.DeliveryResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, event)
	}
	if !tenant.HasWebhook() {
		d.skippedTotal.Add(1)
		return domain.DeliveryResult{Skipped: true}, nil
	}
	if len(data) > 0 && !json.Valid(data) {
		return domain.DeliveryResult{}, fmt.Errorf("webhook data must be valid json")
	}

	body, err := json.Marshal(domain.NewWebhookPayload(event, tenant.ID, data, d.now()))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req := ports.WebhookRequest{URL: tenant.WebhookURL, Event: event, Body: body}
	if tenant.WebhookSecret != "" {
		req.Signature = SignPayload(tenant.WebhookSecret, body)
	}

	logger := d.logger.With().Str("tenant_id", tenant.ID).Str("event", string(event)).Logger()
	state := domain.DeliveryPending
	attempt := 0
	send := func() (struct{}, error) {
		attempt++
		state = domain.DeliverySending
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()
		return struct{}{}, d.sender.Send(attemptCtx, req)
	}

	_, err = backoff.Retry(ctx, send,
		backoff.WithBackOff(d.backOff()),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("webhook attempt failed")
		}),
	)
	if err != nil {
		state = domain.DeliveryFailedFinal
		d.failedTotal.Add(1)
		logger.Error().Err(err).Int("attempts", attempt).Str("state", string(state)).Msg("webhook delivery failed")
		return domain.DeliveryResult{State: state, Success: false, Error: err.Error(), Attempts: attempt}, nil
	}

	state = domain.DeliverySuccess
	d.deliveredTotal.Add(1)
	logger.Info().Int("attempt", attempt).Str("state", string(state)).Msg("webhook delivered")
	return domain.DeliveryResult{State: state, Success: true, Attempt: attempt}, nil
}

// backOff returns a fresh exponential schedule without jitter.
func (d *WebhookDispatcher) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max(time.Minute, d.cfg.InitialBackoff)
	return b
}

func (d *WebhookDispatcher) Metrics() WebhookDispatcherMetrics {
	return WebhookDispatcherMetrics{
		DeliveredTotal: d.deliveredTotal.Load(),
		FailedTotal:    d.failedTotal.Load(),
		SkippedTotal:   d.skippedTotal.Load(),
		DroppedTotal:   d.droppedTotal.Load(),
	}
}

// SignPayload returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
