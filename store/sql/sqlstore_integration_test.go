package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-wearables/core"
	wearablesmigrations "github.com/goliatone/go-wearables/migrations"
	"github.com/goliatone/go-wearables/ratelimit"
	sqlstore "github.com/goliatone/go-wearables/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-wearables-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"connected_sources",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "connected_sources" {
		t.Fatalf("expected connected_sources table, got %q", tableName)
	}
}

func TestSourceStore_UpsertIsIdempotentPerCustomerSource(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	sources := factory.SourceStore()

	created, err := sources.Upsert(ctx, core.ConnectedSource{
		CustomerID:           "cust-1",
		SourceType:           core.SourceFitbit,
		EncryptedAccessToken: []byte("cipher-1"),
		SourceUserID:         "fitbit-user-1",
		SyncEnabled:          true,
		ConnectedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert connected source: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated source id")
	}

	replayed, err := sources.Upsert(ctx, core.ConnectedSource{
		CustomerID:           "cust-1",
		SourceType:           core.SourceFitbit,
		EncryptedAccessToken: []byte("cipher-2"),
		SourceUserID:         "fitbit-user-1",
		SyncEnabled:          true,
		ConnectedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("replay upsert: %v", err)
	}
	if replayed.ID != created.ID {
		t.Fatalf("expected replayed upsert to keep the row id, got %q want %q", replayed.ID, created.ID)
	}

	var rowCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM connected_sources WHERE customer_id = ? AND source_type = ?",
		"cust-1", string(core.SourceFitbit),
	).Scan(ctx, &rowCount); err != nil {
		t.Fatalf("count connected sources: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("expected a single row per (customer, source), got %d", rowCount)
	}

	stored, err := sources.Get(ctx, "cust-1", core.SourceFitbit)
	if err != nil {
		t.Fatalf("get connected source: %v", err)
	}
	if string(stored.EncryptedAccessToken) != "cipher-2" {
		t.Fatalf("expected replay to update the token ciphertext, got %q", stored.EncryptedAccessToken)
	}
}

func TestSourceStore_DisconnectKeepsRowReadable(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	sources := factory.SourceStore()

	if _, err := sources.Upsert(ctx, core.ConnectedSource{
		CustomerID:            "cust-disc",
		SourceType:            core.SourceOura,
		EncryptedAccessToken:  []byte("cipher-access"),
		EncryptedRefreshToken: []byte("cipher-refresh"),
		SourceUserID:          "oura-user-1",
		SyncEnabled:           true,
		ConnectedAt:           time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed connected source: %v", err)
	}

	at := time.Now().UTC()
	if err := sources.Disconnect(ctx, "cust-disc", core.SourceOura, at); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	// Idempotent on replay.
	if err := sources.Disconnect(ctx, "cust-disc", core.SourceOura, at.Add(time.Hour)); err != nil {
		t.Fatalf("replay disconnect: %v", err)
	}

	stored, err := sources.Get(ctx, "cust-disc", core.SourceOura)
	if err != nil {
		t.Fatalf("get disconnected source: %v", err)
	}
	if !stored.Disconnected() {
		t.Fatalf("expected disconnected_at stamp")
	}
	if stored.DisconnectedAt.Sub(at).Abs() > time.Second {
		t.Fatalf("expected first disconnect timestamp to stick, got %v want %v", stored.DisconnectedAt, at)
	}
	if len(stored.EncryptedAccessToken) != 0 || len(stored.EncryptedRefreshToken) != 0 {
		t.Fatalf("expected tokens cleared on disconnect")
	}
	if stored.SyncEnabled {
		t.Fatalf("expected sync disabled on disconnect")
	}

	if _, err := sources.FindBySourceUser(ctx, core.SourceOura, "oura-user-1"); !errors.Is(err, core.ErrConnectedSourceNotFound) {
		t.Fatalf("expected disconnected source excluded from webhook user lookup, got %v", err)
	}
}

func TestSourceStore_SetPrimarySwapsAtomically(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	sources := factory.SourceStore()

	for _, source := range []core.SourceType{core.SourceFitbit, core.SourceStrava} {
		if _, err := sources.Upsert(ctx, core.ConnectedSource{
			CustomerID:  "cust-primary",
			SourceType:  source,
			SyncEnabled: true,
			ConnectedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed %s: %v", source, err)
		}
	}

	if err := sources.SetPrimary(ctx, "cust-primary", core.SourceFitbit); err != nil {
		t.Fatalf("set fitbit primary: %v", err)
	}
	if err := sources.SetPrimary(ctx, "cust-primary", core.SourceStrava); err != nil {
		t.Fatalf("swap primary to strava: %v", err)
	}

	var primaryCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM connected_sources WHERE customer_id = ? AND is_primary_source = ?",
		"cust-primary", true,
	).Scan(ctx, &primaryCount); err != nil {
		t.Fatalf("count primary sources: %v", err)
	}
	if primaryCount != 1 {
		t.Fatalf("expected exactly one primary source after swap, got %d", primaryCount)
	}

	strava, err := sources.Get(ctx, "cust-primary", core.SourceStrava)
	if err != nil {
		t.Fatalf("get strava: %v", err)
	}
	if !strava.IsPrimarySource {
		t.Fatalf("expected strava to end up primary")
	}

	if err := sources.SetPrimary(ctx, "cust-primary", core.SourceWithings); !errors.Is(err, core.ErrConnectedSourceNotFound) {
		t.Fatalf("expected not found for unconnected source, got %v", err)
	}
}

func TestPriorityStore_PutThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	priorities := factory.PriorityStore()

	missing, err := priorities.Get(ctx, "cust-prio", core.DataSleep)
	if err != nil {
		t.Fatalf("get absent override: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent override, got %+v", missing)
	}

	override := core.SourcePriority{
		CustomerID: "cust-prio",
		DataType:   core.DataSleep,
		Ordered:    []core.SourceType{core.SourceFitbit, core.SourceOura, core.SourceAppleHealth},
	}
	if err := priorities.Put(ctx, override); err != nil {
		t.Fatalf("put override: %v", err)
	}

	override.Ordered = []core.SourceType{core.SourceOura, core.SourceFitbit}
	if err := priorities.Put(ctx, override); err != nil {
		t.Fatalf("replace override: %v", err)
	}

	stored, err := priorities.Get(ctx, "cust-prio", core.DataSleep)
	if err != nil {
		t.Fatalf("get override: %v", err)
	}
	if stored == nil {
		t.Fatalf("expected stored override")
	}
	if len(stored.Ordered) != 2 || stored.Ordered[0] != core.SourceOura {
		t.Fatalf("expected replaced ordering, got %v", stored.Ordered)
	}

	var rowCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM source_priorities WHERE customer_id = ?",
		"cust-prio",
	).Scan(ctx, &rowCount); err != nil {
		t.Fatalf("count priority rows: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("expected one override row per (customer, data type), got %d", rowCount)
	}
}

func TestRecordStore_UpsertReportsInsertVsUpdate(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	records := factory.RecordStore()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	batch := []core.ActivityRecord{
		{
			CustomerID:     "cust-rec",
			SourceType:     core.SourceFitbit,
			SourceRecordID: "fitbit-2025-03-10",
			Date:           day,
			Steps:          9000,
			CaloriesOut:    2100,
		},
		{
			CustomerID:     "cust-rec",
			SourceType:     core.SourceFitbit,
			SourceRecordID: "fitbit-2025-03-11",
			Date:           day.Add(24 * time.Hour),
			Steps:          10500,
			CaloriesOut:    2300,
		},
	}
	stats, err := records.UpsertActivities(ctx, batch)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if stats.Inserted != 2 || stats.Updated != 0 {
		t.Fatalf("expected 2 inserts on first pass, got %+v", stats)
	}

	batch[0].Steps = 9400
	stats, err = records.UpsertActivities(ctx, batch)
	if err != nil {
		t.Fatalf("replay upsert: %v", err)
	}
	if stats.Inserted != 0 || stats.Updated != 2 {
		t.Fatalf("expected 2 updates on replay, got %+v", stats)
	}

	listed, err := records.ListActivities(ctx, "cust-rec", dateRange(t, day, day.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 canonical rows, got %d", len(listed))
	}
	if listed[0].Steps != 9400 {
		t.Fatalf("expected replay to refresh values, got %d steps", listed[0].Steps)
	}

	narrow, err := records.ListActivities(ctx, "cust-rec", dateRange(t, day, day))
	if err != nil {
		t.Fatalf("list narrow range: %v", err)
	}
	if len(narrow) != 1 {
		t.Fatalf("expected range filter to exclude the second day, got %d rows", len(narrow))
	}
}

func TestRecordStore_DedupeFlagsSurviveValueUpdates(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	records := factory.RecordStore()

	start := time.Date(2025, 3, 12, 7, 30, 0, 0, time.UTC)
	workout := core.WorkoutRecord{
		CustomerID:     "cust-flags",
		SourceType:     core.SourceStrava,
		SourceRecordID: "strava-run-1",
		StartTime:      start,
		EndTime:        start.Add(45 * time.Minute),
		WorkoutType:    core.WorkoutRunning,
		CaloriesOut:    480,
	}
	if _, err := records.UpsertWorkouts(ctx, []core.WorkoutRecord{workout}); err != nil {
		t.Fatalf("seed workout: %v", err)
	}

	listed, err := records.ListWorkouts(ctx, "cust-flags", dateRange(t, start, start))
	if err != nil {
		t.Fatalf("list workouts: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one workout, got %d", len(listed))
	}

	if err := records.ApplyWorkoutDedupe(ctx, []core.DedupeAssignment{{
		RecordID:      listed[0].ID,
		IsPrimary:     true,
		DedupeGroupID: "workout:cust-flags:2025-03-12T07:30:00Z",
	}}); err != nil {
		t.Fatalf("apply dedupe: %v", err)
	}

	workout.CaloriesOut = 495
	if _, err := records.UpsertWorkouts(ctx, []core.WorkoutRecord{workout}); err != nil {
		t.Fatalf("replay workout: %v", err)
	}

	refreshed, err := records.ListWorkouts(ctx, "cust-flags", dateRange(t, start, start))
	if err != nil {
		t.Fatalf("list refreshed workouts: %v", err)
	}
	if len(refreshed) != 1 {
		t.Fatalf("expected one workout after replay, got %d", len(refreshed))
	}
	if refreshed[0].CaloriesOut != 495 {
		t.Fatalf("expected refreshed calories, got %v", refreshed[0].CaloriesOut)
	}
	if !refreshed[0].IsPrimary || refreshed[0].DedupeGroupID == "" {
		t.Fatalf("expected dedupe flags to survive value update, got primary=%v group=%q",
			refreshed[0].IsPrimary, refreshed[0].DedupeGroupID)
	}
}

func TestSyncRunStore_FindRunningGuard(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	runs := factory.SyncRunStore()

	if _, running, err := runs.FindRunning(ctx, "cust-runs", core.SourceFitbit); err != nil || running {
		t.Fatalf("expected no running run, got running=%v err=%v", running, err)
	}

	started := time.Now().UTC()
	created, err := runs.Create(ctx, core.SyncRun{
		CustomerID: "cust-runs",
		SourceType: core.SourceFitbit,
		SyncType:   core.SyncRunManual,
		Status:     core.SyncRunStatusRunning,
		StartedAt:  started,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	found, running, err := runs.FindRunning(ctx, "cust-runs", core.SourceFitbit)
	if err != nil {
		t.Fatalf("find running: %v", err)
	}
	if !running || found.ID != created.ID {
		t.Fatalf("expected the created run to be in flight, got running=%v id=%q", running, found.ID)
	}

	completed := started.Add(30 * time.Second)
	created.Fetched = 12
	created.Inserted = 10
	created.Updated = 2
	if err := created.TransitionTo(core.SyncRunStatusSucceeded, completed); err != nil {
		t.Fatalf("transition run: %v", err)
	}
	if _, err := runs.Update(ctx, created); err != nil {
		t.Fatalf("update run: %v", err)
	}

	if _, running, err := runs.FindRunning(ctx, "cust-runs", core.SourceFitbit); err != nil || running {
		t.Fatalf("expected guard released after completion, got running=%v err=%v", running, err)
	}

	history, err := runs.ListByCustomer(ctx, "cust-runs", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(history) != 1 || history[0].Fetched != 12 {
		t.Fatalf("expected audited totals in history, got %+v", history)
	}
}

func TestRateLimitStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewRateLimitStateStore(client.DB())
	if err != nil {
		t.Fatalf("new rate limit state store: %v", err)
	}

	key := ratelimit.Key{Provider: core.SourceFitbit, CustomerID: "cust-rl"}
	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected state not found, got %v", err)
	}

	retryAfter := 30 * time.Second
	resetAt := time.Now().UTC().Add(time.Minute)
	if err := store.Upsert(ctx, ratelimit.State{
		Key:        key,
		Limit:      150,
		Remaining:  0,
		RetryAfter: &retryAfter,
		ResetAt:    &resetAt,
		LastStatus: 429,
		Attempts:   3,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("upsert state: %v", err)
	}

	if err := store.Upsert(ctx, ratelimit.State{
		Key:        key,
		Limit:      150,
		Remaining:  149,
		LastStatus: 200,
		Attempts:   0,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("replace state: %v", err)
	}

	state, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Remaining != 149 || state.LastStatus != 200 {
		t.Fatalf("expected replaced state, got %+v", state)
	}
	if state.RetryAfter != nil {
		t.Fatalf("expected retry hint cleared on healthy response")
	}

	var rowCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM rate_limit_states WHERE provider = ? AND customer_id = ?",
		string(core.SourceFitbit), "cust-rl",
	).Scan(ctx, &rowCount); err != nil {
		t.Fatalf("count state rows: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("expected one state row per key, got %d", rowCount)
	}
}

func dateRange(t *testing.T, start, end time.Time) core.DateRange {
	t.Helper()
	r, err := core.NewDateRange(start, end)
	if err != nil {
		t.Fatalf("new date range: %v", err)
	}
	return r
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:wearables-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	err = wearablesmigrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, wearablesmigrations.DialectSQLite)
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
