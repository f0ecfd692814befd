// Package sync pulls provider data through the registered adapters, persists
// it idempotently, and keeps the audit trail of every attempt.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/dedupe"
	"github.com/goliatone/go-wearables/ratelimit"
)

// TokenSource yields a usable access token for a connected source,
// refreshing behind the scenes when needed.
type TokenSource interface {
	GetValidToken(ctx context.Context, customerID string, source core.SourceType) (string, error)
}

// Options narrows a sync: an explicit range, a data-type subset, or a run
// type other than manual.
type Options struct {
	DateRange core.DateRange
	DataTypes []core.DataType
	RunType   core.SyncRunType
}

// SourceStatus is one entry of the per-source result list SyncAll returns.
type SourceStatus struct {
	SourceType core.SourceType
	Status     core.SyncRunStatus
	RunID      string
	Error      string
}

// RecordBatch carries already-normalized records from a native push into the
// same persistence and dedupe path pulled data takes.
type RecordBatch struct {
	Activities []core.ActivityRecord
	Workouts   []core.WorkoutRecord
	Sleep      []core.SleepRecord
	Body       []core.BodyRecord
	Heart      []core.HeartSample
}

func (b RecordBatch) Empty() bool {
	return len(b.Activities) == 0 && len(b.Workouts) == 0 && len(b.Sleep) == 0 &&
		len(b.Body) == 0 && len(b.Heart) == 0
}

type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.Now = now
		}
	}
}

func WithLimiter(limiter *ratelimit.AdaptivePolicy) Option {
	return func(o *Orchestrator) {
		o.limiter = limiter
	}
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// Orchestrator drives provider syncs: one run per (customer, source)
// attempt, range resolution, capability-gated fetches, idempotent upserts,
// then a dedupe pass over the affected range.
type Orchestrator struct {
	sources    core.SourceStore
	tokens     TokenSource
	registry   core.Registry
	records    core.RecordStore
	runs       core.SyncRunStore
	priorities core.PriorityStore
	engine     *dedupe.Engine
	limiter    *ratelimit.AdaptivePolicy
	cfg        core.SyncConfig
	logger     core.Logger
	Now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	sources core.SourceStore,
	tokens TokenSource,
	registry core.Registry,
	records core.RecordStore,
	runs core.SyncRunStore,
	priorities core.PriorityStore,
	engine *dedupe.Engine,
	cfg core.SyncConfig,
	opts ...Option,
) (*Orchestrator, error) {
	if sources == nil {
		return nil, fmt.Errorf("sync: source store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("sync: token source is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("sync: adapter registry is required")
	}
	if records == nil {
		return nil, fmt.Errorf("sync: record store is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("sync: sync run store is required")
	}
	if engine == nil {
		engine = dedupe.NewEngine(core.DefaultConfig().Dedupe)
	}
	defaults := core.DefaultConfig().Sync
	if cfg.FirstSyncLookbackDays <= 0 {
		cfg.FirstSyncLookbackDays = defaults.FirstSyncLookbackDays
	}
	if cfg.OverlapDays < 0 {
		cfg.OverlapDays = defaults.OverlapDays
	}
	if cfg.WebhookWindow <= 0 {
		cfg.WebhookWindow = defaults.WebhookWindow
	}

	orchestrator := &Orchestrator{
		sources:    sources,
		tokens:     tokens,
		registry:   registry,
		records:    records,
		runs:       runs,
		priorities: priorities,
		engine:     engine,
		cfg:        cfg,
		Now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(orchestrator)
	}
	return orchestrator, nil
}

// NewSyncInFlightError signals a sync was skipped because one is already
// running for the same (customer, source).
func NewSyncInFlightError(customerID string, source core.SourceType) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("sync already running for %s", source),
		goerrors.CategoryConflict,
	).WithTextCode(core.WearablesErrorSyncInFlight).WithMetadata(map[string]any{
		"customer_id": customerID,
		"source_type": string(source),
	})
}

func IsSyncInFlight(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == core.WearablesErrorSyncInFlight
}

// SyncSource runs one provider sync end to end. A run already in flight for
// the same pair is never duplicated; callers get the existing run and a
// conflict error they can treat as a skip.
func (o *Orchestrator) SyncSource(ctx context.Context, customerID string, source core.SourceType, opts Options) (core.SyncRun, error) {
	if o == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator is nil")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return core.SyncRun{}, core.NewValidationError("customer id is required")
	}
	if err := source.Validate(); err != nil {
		return core.SyncRun{}, err
	}
	if source.Native() {
		return core.SyncRun{}, core.NewValidationError(
			fmt.Sprintf("%s pushes data, it cannot be pulled", source),
		)
	}

	connected, err := o.sources.Get(ctx, customerID, source)
	if err != nil {
		return core.SyncRun{}, err
	}
	if connected.Disconnected() || !connected.SyncEnabled {
		return core.SyncRun{}, core.NewAuthError(fmt.Sprintf("%s is not sync enabled", source), source)
	}
	adapter, ok := o.registry.Get(source)
	if !ok {
		return core.SyncRun{}, core.NewProviderError(fmt.Sprintf("no adapter registered for %s", source), source)
	}

	if running, found, err := o.runs.FindRunning(ctx, customerID, source); err != nil {
		return core.SyncRun{}, err
	} else if found {
		core.LogInfo(ctx, o.logger, "sync skipped, already running", map[string]any{
			"customer_id": customerID,
			"source_type": string(source),
			"run_id":      running.ID,
		})
		return running, NewSyncInFlightError(customerID, source)
	}

	now := o.now()
	run, err := o.runs.Create(ctx, core.SyncRun{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		SourceType: source,
		SyncType:   resolveRunType(opts.RunType),
		Status:     core.SyncRunStatusRunning,
		StartedAt:  now,
	})
	if err != nil {
		return core.SyncRun{}, err
	}

	accessToken, err := o.tokens.GetValidToken(ctx, customerID, source)
	if err != nil {
		return o.failRun(ctx, run, connected, err)
	}

	dateRange, err := o.resolveRange(opts.DateRange, connected, now)
	if err != nil {
		return o.failRun(ctx, run, connected, err)
	}

	dataTypes := resolveDataTypes(opts.DataTypes)
	capabilities := adapter.Capabilities()
	budget := adapter.RateBudget()
	for _, dataType := range dataTypes {
		if !capabilities.Has(core.CapabilityFor(dataType)) {
			continue
		}
		fetched, stats, err := o.fetchAndStore(ctx, adapter, budget, customerID, accessToken, dataType, dateRange)
		if err != nil {
			return o.failRun(ctx, run, connected, err)
		}
		run.Fetched += fetched
		run.Inserted += stats.Inserted
		run.Updated += stats.Updated
	}

	deduped, err := o.dedupeRange(ctx, customerID, dateRange, dataTypes)
	if err != nil {
		return o.failRun(ctx, run, connected, err)
	}
	run.Deduped = deduped

	completedAt := o.now()
	connected.LastSyncAt = &completedAt
	connected.LastSyncStatus = string(core.SyncRunStatusSucceeded)
	connected.LastError = ""
	connected.UpdatedAt = completedAt
	if _, err := o.sources.Update(ctx, connected); err != nil {
		return o.failRun(ctx, run, connected, err)
	}

	if err := run.TransitionTo(core.SyncRunStatusSucceeded, completedAt); err != nil {
		return run, err
	}
	run, err = o.runs.Update(ctx, run)
	if err != nil {
		return run, err
	}
	core.LogInfo(ctx, o.logger, "sync completed", map[string]any{
		"customer_id": customerID,
		"source_type": string(source),
		"run_id":      run.ID,
		"fetched":     run.Fetched,
		"inserted":    run.Inserted,
		"updated":     run.Updated,
		"deduped":     run.Deduped,
	})
	return run, nil
}

// SyncAll syncs every connected, sync-enabled, non-native source. One
// source's failure never aborts the rest; the caller gets a per-source
// status list.
func (o *Orchestrator) SyncAll(ctx context.Context, customerID string, opts Options) ([]SourceStatus, error) {
	if o == nil {
		return nil, fmt.Errorf("sync: orchestrator is nil")
	}
	connected, err := o.sources.ListByCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return nil, err
	}

	statuses := []SourceStatus{}
	for _, source := range connected {
		if source.Disconnected() || !source.SyncEnabled || source.SourceType.Native() {
			continue
		}
		run, err := o.SyncSource(ctx, customerID, source.SourceType, opts)
		status := SourceStatus{
			SourceType: source.SourceType,
			Status:     run.Status,
			RunID:      run.ID,
		}
		switch {
		case err == nil:
		case IsSyncInFlight(err):
			status.Status = core.SyncRunStatusSkipped
		default:
			status.Status = core.SyncRunStatusFailed
			status.Error = err.Error()
			core.LogError(ctx, o.logger, "source sync failed", map[string]any{
				"customer_id": customerID,
				"source_type": string(source.SourceType),
				"error":       err.Error(),
			})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// VerifyWebhook checks a provider notification's signature and parses it
// into events. It is the cheap half of webhook handling, safe to run inline
// before the provider gets its acknowledgment.
func (o *Orchestrator) VerifyWebhook(source core.SourceType, payload []byte, signature string) ([]core.WebhookEvent, error) {
	if o == nil {
		return nil, fmt.Errorf("sync: orchestrator is nil")
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	adapter, ok := o.registry.Get(source)
	if !ok {
		return nil, core.NewProviderError(fmt.Sprintf("no adapter registered for %s", source), source)
	}
	hook, ok := adapter.(core.WebhookAdapter)
	if !ok {
		return nil, core.NewValidationError(fmt.Sprintf("%s does not send webhooks", source))
	}
	if err := hook.VerifyWebhook(signature, payload); err != nil {
		return nil, err
	}
	return hook.ParseWebhookPayload(payload)
}

// HandleWebhook verifies and parses a provider notification, then triggers a
// narrow incremental sync per event. Verification and parse failures are the
// caller's to reject; downstream sync errors are logged only, so the
// provider still gets its fast acknowledgment.
func (o *Orchestrator) HandleWebhook(ctx context.Context, source core.SourceType, payload []byte, signature string) error {
	events, err := o.VerifyWebhook(source, payload, signature)
	if err != nil {
		return err
	}
	return o.SyncWebhookEvents(ctx, source, events)
}

// SyncWebhookEvents runs the narrow incremental sync each parsed event
// implies. The slow half of webhook handling: callers wanting a fast
// acknowledgment dispatch it off the request path.
func (o *Orchestrator) SyncWebhookEvents(ctx context.Context, source core.SourceType, events []core.WebhookEvent) error {
	if o == nil {
		return fmt.Errorf("sync: orchestrator is nil")
	}
	now := o.now()
	dateRange, err := core.NewDateRange(now.Add(-o.cfg.WebhookWindow), now)
	if err != nil {
		return err
	}
	for _, event := range events {
		connected, err := o.sources.FindBySourceUser(ctx, source, event.SourceUserID)
		if err != nil {
			core.LogError(ctx, o.logger, "webhook user not mapped", map[string]any{
				"source_type":    string(source),
				"source_user_id": event.SourceUserID,
				"error":          err.Error(),
			})
			continue
		}
		_, err = o.SyncSource(ctx, connected.CustomerID, source, Options{
			DateRange: dateRange,
			DataTypes: []core.DataType{event.DataType},
			RunType:   core.SyncRunWebhook,
		})
		if err != nil && !IsSyncInFlight(err) {
			core.LogError(ctx, o.logger, "webhook sync failed", map[string]any{
				"customer_id": connected.CustomerID,
				"source_type": string(source),
				"data_type":   string(event.DataType),
				"error":       err.Error(),
			})
		}
	}
	return nil
}

// IngestBatch persists records a native source pushed, running the same
// upsert and dedupe path pulled data takes so push data is never special.
func (o *Orchestrator) IngestBatch(ctx context.Context, customerID string, source core.SourceType, batch RecordBatch) (core.SyncRun, error) {
	if o == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator is nil")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return core.SyncRun{}, core.NewValidationError("customer id is required")
	}
	if err := source.Validate(); err != nil {
		return core.SyncRun{}, err
	}
	if batch.Empty() {
		return core.SyncRun{}, core.NewValidationError("push batch carries no records")
	}

	now := o.now()
	run, err := o.runs.Create(ctx, core.SyncRun{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		SourceType: source,
		SyncType:   core.SyncRunWebhook,
		Status:     core.SyncRunStatusRunning,
		StartedAt:  now,
	})
	if err != nil {
		return core.SyncRun{}, err
	}

	var stats core.UpsertStats
	fetched := 0
	dataTypes := []core.DataType{}
	dateRange := batchRange(batch, now)

	if len(batch.Activities) > 0 {
		s, err := o.records.UpsertActivities(ctx, batch.Activities)
		if err != nil {
			return o.failIngest(ctx, run, err)
		}
		stats = stats.Add(s)
		fetched += len(batch.Activities)
		dataTypes = append(dataTypes, core.DataActivity)
	}
	if len(batch.Workouts) > 0 {
		s, err := o.records.UpsertWorkouts(ctx, batch.Workouts)
		if err != nil {
			return o.failIngest(ctx, run, err)
		}
		stats = stats.Add(s)
		fetched += len(batch.Workouts)
		dataTypes = append(dataTypes, core.DataWorkout)
	}
	if len(batch.Sleep) > 0 {
		s, err := o.records.UpsertSleep(ctx, batch.Sleep)
		if err != nil {
			return o.failIngest(ctx, run, err)
		}
		stats = stats.Add(s)
		fetched += len(batch.Sleep)
		dataTypes = append(dataTypes, core.DataSleep)
	}
	if len(batch.Body) > 0 {
		s, err := o.records.UpsertBody(ctx, batch.Body)
		if err != nil {
			return o.failIngest(ctx, run, err)
		}
		stats = stats.Add(s)
		fetched += len(batch.Body)
		dataTypes = append(dataTypes, core.DataBody)
	}
	if len(batch.Heart) > 0 {
		s, err := o.records.UpsertHeart(ctx, batch.Heart)
		if err != nil {
			return o.failIngest(ctx, run, err)
		}
		stats = stats.Add(s)
		fetched += len(batch.Heart)
		dataTypes = append(dataTypes, core.DataHeart)
	}

	run.Fetched = fetched
	run.Inserted = stats.Inserted
	run.Updated = stats.Updated

	deduped, err := o.dedupeRange(ctx, customerID, dateRange, dataTypes)
	if err != nil {
		return o.failIngest(ctx, run, err)
	}
	run.Deduped = deduped

	if err := run.TransitionTo(core.SyncRunStatusSucceeded, o.now()); err != nil {
		return run, err
	}
	return o.runs.Update(ctx, run)
}

// fetchAndStore pulls one data type for the range and upserts the result. A
// rate-limit rejection earns exactly one retry after the hint; everything
// else fails the run.
func (o *Orchestrator) fetchAndStore(
	ctx context.Context,
	adapter core.Adapter,
	budget core.RateBudget,
	customerID, accessToken string,
	dataType core.DataType,
	dateRange core.DateRange,
) (int, core.UpsertStats, error) {
	key := ratelimit.Key{Provider: adapter.SourceType(), CustomerID: customerID}

	for attempt := 0; ; attempt++ {
		if err := o.beforeFetch(ctx, key, budget, attempt); err != nil {
			return 0, core.UpsertStats{}, err
		}

		fetched, stats, err := o.fetchOnce(ctx, adapter, customerID, accessToken, dataType, dateRange)
		if err == nil {
			o.afterFetch(ctx, key, 200, 0)
			return fetched, stats, nil
		}
		if !core.IsRateLimitError(err) || attempt > 0 {
			return 0, core.UpsertStats{}, err
		}

		hint := core.RetryAfterHint(err)
		o.afterFetch(ctx, key, 429, hint)
		if hint <= 0 {
			hint = time.Second
		}
		core.LogInfo(ctx, o.logger, "rate limited, retrying after hint", map[string]any{
			"customer_id": customerID,
			"source_type": string(adapter.SourceType()),
			"data_type":   string(dataType),
			"retry_after": hint.String(),
		})
		if err := o.sleep(ctx, hint); err != nil {
			return 0, core.UpsertStats{}, err
		}
	}
}

func (o *Orchestrator) beforeFetch(ctx context.Context, key ratelimit.Key, budget core.RateBudget, attempt int) error {
	if o.limiter == nil {
		return nil
	}
	err := o.limiter.BeforeCall(ctx, key, budget)
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if !errors.As(err, &throttled) || attempt > 0 {
		return err
	}
	// First rejection inside the run: wait out the window once.
	if sleepErr := o.sleep(ctx, throttled.RetryAfter); sleepErr != nil {
		return sleepErr
	}
	return o.limiter.BeforeCall(ctx, key, budget)
}

func (o *Orchestrator) afterFetch(ctx context.Context, key ratelimit.Key, statusCode int, retryAfter time.Duration) {
	if o.limiter == nil {
		return
	}
	meta := ratelimit.ResponseMeta{StatusCode: statusCode}
	if retryAfter > 0 {
		meta.RetryAfter = &retryAfter
	}
	if err := o.limiter.AfterCall(ctx, key, meta); err != nil {
		core.LogError(ctx, o.logger, "rate limit state update failed", map[string]any{
			"source_type": string(key.Provider),
			"error":       err.Error(),
		})
	}
}

// fetchOnce pulls one data type and upserts it. Adapters return records
// scoped to the provider only; the customer id is stamped here so the upsert
// key (customer, source, temporal key, source record id) is complete.
func (o *Orchestrator) fetchOnce(ctx context.Context, adapter core.Adapter, customerID, accessToken string, dataType core.DataType, dateRange core.DateRange) (int, core.UpsertStats, error) {
	switch dataType {
	case core.DataActivity:
		records, err := adapter.FetchActivities(ctx, accessToken, dateRange)
		if err != nil {
			return 0, core.UpsertStats{}, err
		}
		for i := range records {
			records[i].CustomerID = customerID
		}
		stats, err := o.records.UpsertActivities(ctx, records)
		return len(records), stats, err
	case core.DataWorkout:
		records, err := adapter.FetchWorkouts(ctx, accessToken, dateRange)
		if err != nil {
			return 0, core.UpsertStats{}, err
		}
		for i := range records {
			records[i].CustomerID = customerID
		}
		stats, err := o.records.UpsertWorkouts(ctx, records)
		return len(records), stats, err
	case core.DataSleep:
		records, err := adapter.FetchSleep(ctx, accessToken, dateRange)
		if err != nil {
			return 0, core.UpsertStats{}, err
		}
		for i := range records {
			records[i].CustomerID = customerID
		}
		stats, err := o.records.UpsertSleep(ctx, records)
		return len(records), stats, err
	case core.DataBody:
		records, err := adapter.FetchBody(ctx, accessToken, dateRange)
		if err != nil {
			return 0, core.UpsertStats{}, err
		}
		for i := range records {
			records[i].CustomerID = customerID
		}
		stats, err := o.records.UpsertBody(ctx, records)
		return len(records), stats, err
	case core.DataHeart, core.DataHRV:
		samples, err := adapter.FetchHeart(ctx, accessToken, dateRange)
		if err != nil {
			return 0, core.UpsertStats{}, err
		}
		for i := range samples {
			samples[i].CustomerID = customerID
		}
		stats, err := o.records.UpsertHeart(ctx, samples)
		return len(samples), stats, err
	default:
		return 0, core.UpsertStats{}, core.NewValidationError(fmt.Sprintf("unknown data type %q", dataType))
	}
}

// dedupeRange re-elects primaries for every affected data type over the
// synced range. Safe after every sync: the engine is deterministic.
func (o *Orchestrator) dedupeRange(ctx context.Context, customerID string, dateRange core.DateRange, dataTypes []core.DataType) (int, error) {
	deduped := 0
	for _, dataType := range dataTypes {
		override, err := o.priorityFor(ctx, customerID, dataType)
		if err != nil {
			return 0, err
		}
		var assignments []core.DedupeAssignment
		var applyErr error
		switch dataType {
		case core.DataActivity:
			records, err := o.records.ListActivities(ctx, customerID, dateRange)
			if err != nil {
				return 0, err
			}
			assignments = o.engine.AssignActivities(records, override)
			applyErr = o.records.ApplyActivityDedupe(ctx, assignments)
		case core.DataWorkout:
			records, err := o.records.ListWorkouts(ctx, customerID, dateRange)
			if err != nil {
				return 0, err
			}
			assignments = o.engine.AssignWorkouts(records, override)
			applyErr = o.records.ApplyWorkoutDedupe(ctx, assignments)
		case core.DataSleep:
			records, err := o.records.ListSleep(ctx, customerID, dateRange)
			if err != nil {
				return 0, err
			}
			assignments = o.engine.AssignSleep(records, override)
			applyErr = o.records.ApplySleepDedupe(ctx, assignments)
		case core.DataBody:
			records, err := o.records.ListBody(ctx, customerID, dateRange)
			if err != nil {
				return 0, err
			}
			assignments = o.engine.AssignBody(records, override)
			applyErr = o.records.ApplyBodyDedupe(ctx, assignments)
		case core.DataHeart:
			samples, err := o.records.ListHeart(ctx, customerID, dateRange)
			if err != nil {
				return 0, err
			}
			assignments = o.engine.AssignHeart(samples, override)
			applyErr = o.records.ApplyHeartDedupe(ctx, assignments)
		default:
			continue
		}
		if applyErr != nil {
			return 0, applyErr
		}
		for _, assignment := range assignments {
			if !assignment.IsPrimary {
				deduped++
			}
		}
	}
	return deduped, nil
}

func (o *Orchestrator) priorityFor(ctx context.Context, customerID string, dataType core.DataType) (*core.SourcePriority, error) {
	if o.priorities == nil {
		return nil, nil
	}
	return o.priorities.Get(ctx, customerID, dataType)
}

func (o *Orchestrator) resolveRange(explicit core.DateRange, connected core.ConnectedSource, now time.Time) (core.DateRange, error) {
	if !explicit.IsZero() {
		if err := explicit.Validate(); err != nil {
			return core.DateRange{}, err
		}
		return explicit, nil
	}
	if connected.LastSyncAt != nil {
		return core.NewDateRange(connected.LastSyncAt.AddDate(0, 0, -o.cfg.OverlapDays), now)
	}
	return core.NewDateRange(now.AddDate(0, 0, -o.cfg.FirstSyncLookbackDays), now)
}

func (o *Orchestrator) failRun(ctx context.Context, run core.SyncRun, connected core.ConnectedSource, cause error) (core.SyncRun, error) {
	run.Error = cause.Error()
	if err := run.TransitionTo(core.SyncRunStatusFailed, o.now()); err == nil {
		if _, updateErr := o.runs.Update(ctx, run); updateErr != nil {
			core.LogError(ctx, o.logger, "record failed run", map[string]any{
				"run_id": run.ID,
				"error":  updateErr.Error(),
			})
		}
	}

	connected.LastSyncStatus = string(core.SyncRunStatusFailed)
	connected.LastError = cause.Error()
	connected.UpdatedAt = o.now()
	if _, err := o.sources.Update(ctx, connected); err != nil {
		core.LogError(ctx, o.logger, "record source error", map[string]any{
			"customer_id": connected.CustomerID,
			"source_type": string(connected.SourceType),
			"error":       err.Error(),
		})
	}
	return run, cause
}

func (o *Orchestrator) failIngest(ctx context.Context, run core.SyncRun, cause error) (core.SyncRun, error) {
	run.Error = cause.Error()
	if err := run.TransitionTo(core.SyncRunStatusFailed, o.now()); err == nil {
		if _, updateErr := o.runs.Update(ctx, run); updateErr != nil {
			core.LogError(ctx, o.logger, "record failed ingest", map[string]any{
				"run_id": run.ID,
				"error":  updateErr.Error(),
			})
		}
	}
	return run, cause
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// resolveDataTypes defaults to everything, with hrv folded into heart since
// HRV values arrive on the heart samples; fetching both would issue the same
// provider call twice.
func resolveDataTypes(requested []core.DataType) []core.DataType {
	if len(requested) == 0 {
		requested = core.AllDataTypes()
	}
	seen := map[core.DataType]bool{}
	out := make([]core.DataType, 0, len(requested))
	for _, dataType := range requested {
		if dataType == core.DataHRV {
			dataType = core.DataHeart
		}
		if seen[dataType] {
			continue
		}
		seen[dataType] = true
		out = append(out, dataType)
	}
	return out
}

func resolveRunType(requested core.SyncRunType) core.SyncRunType {
	if requested.Validate() != nil {
		return core.SyncRunManual
	}
	return requested
}

// batchRange covers every instant the pushed records touch so the dedupe
// pass sees all neighbors.
func batchRange(batch RecordBatch, fallback time.Time) core.DateRange {
	var earliest, latest time.Time
	observe := func(at time.Time) {
		if at.IsZero() {
			return
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
		if latest.IsZero() || at.After(latest) {
			latest = at
		}
	}
	for _, record := range batch.Activities {
		observe(record.Date)
	}
	for _, record := range batch.Workouts {
		observe(record.StartTime)
		observe(record.EndTime)
	}
	for _, record := range batch.Sleep {
		observe(record.Date)
	}
	for _, record := range batch.Body {
		observe(record.MeasuredAt)
	}
	for _, sample := range batch.Heart {
		observe(sample.RecordedAt)
	}
	if earliest.IsZero() {
		earliest = fallback
	}
	if latest.IsZero() {
		latest = fallback
	}
	dateRange, err := core.NewDateRange(earliest, latest)
	if err != nil {
		dateRange, _ = core.NewDateRange(fallback, fallback)
	}
	return dateRange
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
