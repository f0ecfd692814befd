// Package gojob wires scheduled sync work onto the go-job queue: incremental
// sync fan-out per connected source, the OAuth state sweep, and bounded retry
// handling for deliveries that fail.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/sync"
)

const (
	JobIDSyncIncremental = "wearables.sync.incremental"
	JobIDSyncAll         = "wearables.sync.all"
	JobIDOAuthStateSweep = "wearables.oauth_states.sweep"
)

// Duplicate schedules for the same customer and source collapse at the queue.
const dedupPolicyDrop = job.DeduplicationPolicy("drop")

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Normalize enforces the retry bounds on a nack.
func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewIncrementalSyncMessage builds the queue message for one customer/source
// incremental pull. The idempotency key keeps overlapping schedules from
// running the same source twice.
func NewIncrementalSyncMessage(customerID string, source core.SourceType) (*job.ExecutionMessage, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("gojob: customer id is required")
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("gojob: %w", err)
	}
	return &job.ExecutionMessage{
		JobID: JobIDSyncIncremental,
		Parameters: map[string]any{
			"customer_id": customerID,
			"source_type": string(source),
		},
		IdempotencyKey: fmt.Sprintf("%s::%s::%s", JobIDSyncIncremental, customerID, source),
		DedupPolicy:    dedupPolicyDrop,
	}, nil
}

// NewSyncAllMessage builds the queue message for an incremental pass over
// every sync-enabled source a customer has connected.
func NewSyncAllMessage(customerID string) (*job.ExecutionMessage, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("gojob: customer id is required")
	}
	return &job.ExecutionMessage{
		JobID: JobIDSyncAll,
		Parameters: map[string]any{
			"customer_id": customerID,
		},
		IdempotencyKey: fmt.Sprintf("%s::%s", JobIDSyncAll, customerID),
		DedupPolicy:    dedupPolicyDrop,
	}, nil
}

// NewOAuthStateSweepMessage builds the periodic expired-state sweep message.
func NewOAuthStateSweepMessage() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDOAuthStateSweep,
		IdempotencyKey: JobIDOAuthStateSweep,
		DedupPolicy:    dedupPolicyDrop,
	}
}

// Scheduler enqueues sync work onto a go-job queue.
type Scheduler struct {
	enqueuer queue.Enqueuer
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer}
}

func (s *Scheduler) EnqueueIncrementalSync(ctx context.Context, customerID string, source core.SourceType) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewIncrementalSyncMessage(customerID, source)
	if err != nil {
		return err
	}
	return s.enqueuer.Enqueue(ctx, msg)
}

func (s *Scheduler) EnqueueSyncAll(ctx context.Context, customerID string) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewSyncAllMessage(customerID)
	if err != nil {
		return err
	}
	return s.enqueuer.Enqueue(ctx, msg)
}

func (s *Scheduler) EnqueueOAuthStateSweep(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return s.enqueuer.Enqueue(ctx, NewOAuthStateSweepMessage())
}

// SyncService is the orchestration surface scheduled deliveries run against.
type SyncService interface {
	SyncSource(ctx context.Context, customerID string, source core.SourceType, opts sync.Options) (core.SyncRun, error)
	SyncAll(ctx context.Context, customerID string, opts sync.Options) ([]sync.SourceStatus, error)
}

// StateSweeper removes expired OAuth handshake states.
type StateSweeper interface {
	SweepOAuthStates(ctx context.Context) (int, error)
}

// Worker executes queue deliveries against the sync orchestrator and the
// token manager, acking on success and nacking within the retry policy
// otherwise. Auth and validation failures dead-letter immediately: retrying
// cannot heal a revoked grant or a malformed message.
type Worker struct {
	syncs   SyncService
	sweeper StateSweeper
	policy  RetryPolicy
	logger  glog.Logger
}

func NewWorker(syncs SyncService, sweeper StateSweeper, policy RetryPolicy, logger glog.Logger) *Worker {
	_, logger = glog.Resolve("wearables-jobs", nil, logger)
	return &Worker{
		syncs:   syncs,
		sweeper: sweeper,
		policy:  policy,
		logger:  logger,
	}
}

func (w *Worker) Handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if w == nil || delivery == nil {
		return fmt.Errorf("gojob: worker delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "empty delivery"})
	}

	err := w.run(ctx, msg)
	if err == nil {
		return delivery.Ack(ctx)
	}

	w.logger.Warn("job failed", "job_id", msg.JobID, "attempt", attempt, "error", err)
	opts := queue.NackOptions{Requeue: true, Reason: err.Error()}
	if hint := core.RetryAfterHint(err); hint > 0 {
		opts.Delay = hint
	}
	if core.IsAuthError(err) || core.IsValidationError(err) {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	return delivery.Nack(ctx, w.policy.Normalize(opts, attempt))
}

func (w *Worker) run(ctx context.Context, msg *job.ExecutionMessage) error {
	switch msg.JobID {
	case JobIDSyncIncremental:
		if w.syncs == nil {
			return fmt.Errorf("gojob: sync service is not configured")
		}
		customerID, err := stringParam(msg, "customer_id")
		if err != nil {
			return err
		}
		rawSource, err := stringParam(msg, "source_type")
		if err != nil {
			return err
		}
		source := core.SourceType(rawSource)
		if err := source.Validate(); err != nil {
			return fmt.Errorf("gojob: %w", err)
		}
		_, err = w.syncs.SyncSource(ctx, customerID, source, sync.Options{RunType: core.SyncRunIncremental})
		return err
	case JobIDSyncAll:
		if w.syncs == nil {
			return fmt.Errorf("gojob: sync service is not configured")
		}
		customerID, err := stringParam(msg, "customer_id")
		if err != nil {
			return err
		}
		_, err = w.syncs.SyncAll(ctx, customerID, sync.Options{RunType: core.SyncRunIncremental})
		return err
	case JobIDOAuthStateSweep:
		if w.sweeper == nil {
			return fmt.Errorf("gojob: state sweeper is not configured")
		}
		swept, err := w.sweeper.SweepOAuthStates(ctx)
		if err != nil {
			return err
		}
		if swept > 0 {
			w.logger.Info("oauth states swept", "count", swept)
		}
		return nil
	default:
		return core.NewValidationError(fmt.Sprintf("gojob: unknown job id %q", msg.JobID))
	}
}

func stringParam(msg *job.ExecutionMessage, key string) (string, error) {
	raw, ok := msg.Parameters[key]
	if !ok {
		return "", core.NewValidationError(fmt.Sprintf("gojob: parameter %q is required", key))
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", core.NewValidationError(fmt.Sprintf("gojob: parameter %q is required", key))
	}
	return strings.TrimSpace(value), nil
}
