// Package webhooks turns provider notifications and native device pushes
// into sync work while answering the provider fast. Delivery ids are claimed
// in a ledger first, so provider retries of a notification that already ran
// come back deduplicated instead of triggering another sync.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers/applehealth"
	wearsync "github.com/goliatone/go-wearables/sync"
)

// Notification is one inbound provider webhook.
type Notification struct {
	Source     core.SourceType
	DeliveryID string
	Signature  string
	Headers    map[string]string
	Body       []byte
}

// Result tells the transport layer what to answer.
type Result struct {
	StatusCode int
	Deduped    bool
	RunID      string
}

// WebhookSyncer splits webhook handling into a cheap verify/parse step run
// inline and a sync step run after the acknowledgment. Downstream per-event
// sync failures are the syncer's own to log.
type WebhookSyncer interface {
	VerifyWebhook(source core.SourceType, payload []byte, signature string) ([]core.WebhookEvent, error)
	SyncWebhookEvents(ctx context.Context, source core.SourceType, events []core.WebhookEvent) error
}

// BatchIngester persists an already-normalized native push.
type BatchIngester interface {
	IngestBatch(ctx context.Context, customerID string, source core.SourceType, batch wearsync.RecordBatch) (core.SyncRun, error)
}

// PushParser normalizes a raw device payload into canonical records.
type PushParser interface {
	ParsePush(customerID string, payload []byte) (applehealth.Batch, error)
}

// RetryPolicy schedules the next attempt for a failed delivery.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor claims, dispatches, and settles inbound deliveries.
type Processor struct {
	Ledger      DeliveryLedger
	Syncer      WebhookSyncer
	Parser      PushParser
	Ingester    BatchIngester
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Logger      core.Logger
	Now         func() time.Time

	// Dispatch runs the post-acknowledgment sync work. Defaults to a
	// goroutine; tests swap in a synchronous dispatcher.
	Dispatch func(fn func())
}

func NewProcessor(ledger DeliveryLedger, syncer WebhookSyncer) *Processor {
	return &Processor{
		Ledger:      ledger,
		Syncer:      syncer,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Logger:      core.ResolveLogger("webhooks", nil, nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process handles one provider notification. Signature failures come back
// 401 and malformed payloads 400; both settle the delivery since a provider
// retry replays the same bytes. The sync itself runs after the
// acknowledgment, so the provider never waits on a multi-day fetch; its
// transient failures schedule a retry window in the ledger.
func (p *Processor) Process(ctx context.Context, n Notification) (Result, error) {
	if p == nil || p.Ledger == nil || p.Syncer == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires ledger and syncer")
	}
	if err := n.Source.Validate(); err != nil {
		return Result{StatusCode: http.StatusBadRequest}, err
	}

	deliveryID := p.deliveryID(n)
	delivery, claimed, err := p.Ledger.Claim(ctx, string(n.Source), deliveryID, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{StatusCode: http.StatusOK, Deduped: true}, nil
	}

	events, err := p.Syncer.VerifyWebhook(n.Source, n.Body, n.Signature)
	if err != nil {
		return p.settleFailure(ctx, delivery, n.Source, deliveryID, err)
	}

	// The request context dies with the acknowledgment; the sync must not.
	syncCtx := context.WithoutCancel(ctx)
	p.dispatch(func() {
		p.runWebhookSync(syncCtx, delivery, n.Source, deliveryID, events)
	})
	return Result{StatusCode: http.StatusOK}, nil
}

// runWebhookSync is the post-acknowledgment half of Process: it runs the
// narrow syncs and settles the ledger so a genuine failure earns a retry
// window instead of staying claimed forever.
func (p *Processor) runWebhookSync(ctx context.Context, delivery DeliveryRecord, source core.SourceType, deliveryID string, events []core.WebhookEvent) {
	fields := map[string]any{
		"source_type": string(source),
		"delivery_id": deliveryID,
	}
	if err := p.Syncer.SyncWebhookEvents(ctx, source, events); err != nil {
		fields["error"] = err.Error()
		core.LogError(ctx, p.Logger, "webhook sync failed", fields)
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		if failErr := p.Ledger.Fail(ctx, delivery.ClaimID, err, nextAttemptAt, p.maxAttempts()); failErr != nil {
			fields["ledger_error"] = failErr.Error()
			core.LogError(ctx, p.Logger, "webhook delivery not settled", fields)
		}
		return
	}
	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		fields["error"] = err.Error()
		core.LogError(ctx, p.Logger, "webhook delivery not settled", fields)
	}
}

// ProcessPush handles a native health-store batch. Payload retries dedupe on
// the content hash, so a phone resending an acknowledged batch is a no-op.
func (p *Processor) ProcessPush(ctx context.Context, customerID string, payload []byte) (Result, error) {
	if p == nil || p.Ledger == nil || p.Parser == nil || p.Ingester == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires ledger, parser, and ingester")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Result{StatusCode: http.StatusBadRequest}, core.NewValidationError("push requires a customer id")
	}

	batch, err := p.Parser.ParsePush(customerID, payload)
	if err != nil {
		return Result{StatusCode: http.StatusBadRequest}, err
	}

	deliveryID := fmt.Sprintf("%s::%s::%s", customerID, batch.DeviceID, contentHash(payload))
	delivery, claimed, err := p.Ledger.Claim(ctx, string(core.SourceAppleHealth), deliveryID, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{StatusCode: http.StatusOK, Deduped: true}, nil
	}

	run, err := p.Ingester.IngestBatch(ctx, customerID, core.SourceAppleHealth, wearsync.RecordBatch{
		Activities: batch.Activities,
		Workouts:   batch.Workouts,
		Sleep:      batch.Sleep,
		Body:       batch.Body,
		Heart:      batch.Heart,
	})
	if err != nil {
		return p.settleFailure(ctx, delivery, core.SourceAppleHealth, deliveryID, err)
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{}, err
	}
	return Result{StatusCode: http.StatusAccepted, RunID: run.ID}, nil
}

func (p *Processor) settleFailure(ctx context.Context, delivery DeliveryRecord, source core.SourceType, deliveryID string, cause error) (Result, error) {
	fields := map[string]any{
		"source_type": string(source),
		"delivery_id": deliveryID,
		"error":       cause.Error(),
	}
	switch {
	case core.IsAuthError(cause):
		core.LogError(ctx, p.Logger, "webhook rejected", fields)
		if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
			return Result{}, err
		}
		return Result{StatusCode: http.StatusUnauthorized}, cause
	case core.IsValidationError(cause):
		core.LogError(ctx, p.Logger, "webhook payload invalid", fields)
		if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
			return Result{}, err
		}
		return Result{StatusCode: http.StatusBadRequest}, cause
	default:
		core.LogError(ctx, p.Logger, "webhook processing failed", fields)
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		if err := p.Ledger.Fail(ctx, delivery.ClaimID, cause, nextAttemptAt, p.maxAttempts()); err != nil {
			return Result{}, err
		}
		return Result{StatusCode: http.StatusInternalServerError}, cause
	}
}

// deliveryID prefers the explicit id, then known headers, then the content
// hash so byte-identical retries always collapse.
func (p *Processor) deliveryID(n Notification) string {
	if id := strings.TrimSpace(n.DeliveryID); id != "" {
		return id
	}
	for _, key := range []string{"x-delivery-id", "x-webhook-id", "x-request-id"} {
		if value := headerValue(n.Headers, key); value != "" {
			return value
		}
	}
	return contentHash(n.Body)
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) dispatch(fn func()) {
	if p != nil && p.Dispatch != nil {
		p.Dispatch(fn)
		return
	}
	go fn()
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
