package dedupe

import (
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

var day = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(core.DefaultConfig().Dedupe)
}

func activity(id string, source core.SourceType, steps int, calories float64) core.ActivityRecord {
	return core.ActivityRecord{
		ID:             id,
		CustomerID:     "cust-1",
		SourceType:     source,
		SourceRecordID: string(source) + ":activity:" + id,
		Date:           day,
		Steps:          steps,
		CaloriesOut:    calories,
	}
}

func workout(id string, source core.SourceType, start time.Time, duration time.Duration) core.WorkoutRecord {
	return core.WorkoutRecord{
		ID:             id,
		CustomerID:     "cust-1",
		SourceType:     source,
		SourceRecordID: string(source) + ":workout:" + id,
		StartTime:      start,
		EndTime:        start.Add(duration),
		WorkoutType:    core.WorkoutRunning,
	}
}

func assignmentByID(t *testing.T, assignments []core.DedupeAssignment, recordID string) core.DedupeAssignment {
	t.Helper()
	for _, assignment := range assignments {
		if assignment.RecordID == recordID {
			return assignment
		}
	}
	t.Fatalf("no assignment for record %q", recordID)
	return core.DedupeAssignment{}
}

func TestSingleSourceDayIsPrimary(t *testing.T) {
	engine := newTestEngine()
	assignments := engine.AssignActivities([]core.ActivityRecord{
		activity("a1", core.SourceFitbit, 8421, 2100),
	}, nil)

	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}
	if !assignments[0].IsPrimary {
		t.Fatal("sole record must be primary")
	}
	if assignments[0].DedupeGroupID == "" {
		t.Fatal("expected a group id")
	}
}

func TestPriorityOverrideElectsPrimary(t *testing.T) {
	engine := newTestEngine()
	records := []core.ActivityRecord{
		activity("apple", core.SourceAppleHealth, 8000, 1900),
		activity("fitbit", core.SourceFitbit, 8421, 2100),
	}
	override := &core.SourcePriority{
		CustomerID: "cust-1",
		DataType:   core.DataActivity,
		Ordered:    []core.SourceType{core.SourceFitbit, core.SourceAppleHealth},
	}

	assignments := engine.AssignActivities(records, override)
	if !assignmentByID(t, assignments, "fitbit").IsPrimary {
		t.Fatal("fitbit should win under the override")
	}
	if assignmentByID(t, assignments, "apple").IsPrimary {
		t.Fatal("apple_health should be demoted")
	}
}

func TestChangingPriorityChangesOnlyFlags(t *testing.T) {
	engine := newTestEngine()
	records := []core.ActivityRecord{
		activity("oura", core.SourceOura, 9100, 2050),
		activity("fitbit", core.SourceFitbit, 8421, 2100),
	}

	first := engine.AssignActivities(records, &core.SourcePriority{
		Ordered: []core.SourceType{core.SourceFitbit, core.SourceOura},
	})
	second := engine.AssignActivities(records, &core.SourcePriority{
		Ordered: []core.SourceType{core.SourceOura, core.SourceFitbit},
	})

	if len(first) != len(second) {
		t.Fatalf("assignment counts differ: %d vs %d", len(first), len(second))
	}
	if !assignmentByID(t, first, "fitbit").IsPrimary || assignmentByID(t, first, "oura").IsPrimary {
		t.Fatal("first ordering should elect fitbit")
	}
	if !assignmentByID(t, second, "oura").IsPrimary || assignmentByID(t, second, "fitbit").IsPrimary {
		t.Fatal("second ordering should elect oura")
	}
	if assignmentByID(t, first, "fitbit").DedupeGroupID != assignmentByID(t, second, "fitbit").DedupeGroupID {
		t.Fatal("group ids should not depend on priority")
	}
}

func TestDoubleCountGuardDemotesHealthStoreMirror(t *testing.T) {
	engine := newTestEngine()
	records := []core.ActivityRecord{
		activity("apple", core.SourceAppleHealth, 10000, 0),
		activity("fitbit", core.SourceFitbit, 10010, 0),
	}
	// apple_health leads the override, but a 0.1% step difference marks it
	// as a mirror of the direct source.
	override := &core.SourcePriority{
		Ordered: []core.SourceType{core.SourceAppleHealth, core.SourceFitbit},
	}

	assignments := engine.AssignActivities(records, override)
	if assignmentByID(t, assignments, "apple").IsPrimary {
		t.Fatal("mirrored health-store record must be demoted")
	}
	if !assignmentByID(t, assignments, "fitbit").IsPrimary {
		t.Fatal("direct source should win")
	}
}

func TestDoubleCountGuardIgnoresDistinctValues(t *testing.T) {
	engine := newTestEngine()
	records := []core.ActivityRecord{
		activity("apple", core.SourceAppleHealth, 6000, 1500),
		activity("fitbit", core.SourceFitbit, 10010, 2300),
	}
	override := &core.SourcePriority{
		Ordered: []core.SourceType{core.SourceAppleHealth, core.SourceFitbit},
	}

	assignments := engine.AssignActivities(records, override)
	if !assignmentByID(t, assignments, "apple").IsPrimary {
		t.Fatal("distinct health-store values should keep the override's winner")
	}
}

func TestWorkoutsGroupedByStartTolerance(t *testing.T) {
	engine := newTestEngine()
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	records := []core.WorkoutRecord{
		workout("strava", core.SourceStrava, start, 45*time.Minute),
		workout("fitbit", core.SourceFitbit, start.Add(5*time.Minute), 45*time.Minute),
	}
	override := &core.SourcePriority{
		DataType: core.DataWorkout,
		Ordered:  []core.SourceType{core.SourceFitbit, core.SourceStrava},
	}

	assignments := engine.AssignWorkouts(records, override)
	strava := assignmentByID(t, assignments, "strava")
	fitbit := assignmentByID(t, assignments, "fitbit")
	if strava.DedupeGroupID != fitbit.DedupeGroupID {
		t.Fatal("workouts 5 minutes apart should share a group")
	}
	if !fitbit.IsPrimary || strava.IsPrimary {
		t.Fatal("priority should pick fitbit as primary")
	}
}

func TestWorkoutsGroupedByOverlapBeyondTolerance(t *testing.T) {
	engine := newTestEngine()
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	// Starts 20 minutes apart, beyond the 15-minute tolerance, but the
	// ranges overlap for 100 of the shorter 120 minutes.
	records := []core.WorkoutRecord{
		workout("a", core.SourceStrava, start, 2*time.Hour),
		workout("b", core.SourceFitbit, start.Add(20*time.Minute), 2*time.Hour),
	}

	assignments := engine.AssignWorkouts(records, nil)
	if assignmentByID(t, assignments, "a").DedupeGroupID != assignmentByID(t, assignments, "b").DedupeGroupID {
		t.Fatal("heavily overlapping workouts should share a group")
	}
}

func TestWorkoutsFailingBothTestsNeverGroup(t *testing.T) {
	engine := newTestEngine()
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	records := []core.WorkoutRecord{
		workout("morning", core.SourceStrava, start, 30*time.Minute),
		workout("evening", core.SourceFitbit, start.Add(9*time.Hour), 30*time.Minute),
	}

	assignments := engine.AssignWorkouts(records, nil)
	morning := assignmentByID(t, assignments, "morning")
	evening := assignmentByID(t, assignments, "evening")
	if morning.DedupeGroupID == evening.DedupeGroupID {
		t.Fatal("unrelated workouts must not share a group")
	}
	if !morning.IsPrimary || !evening.IsPrimary {
		t.Fatal("each singleton group elects its sole member")
	}
}

func TestBodyMeasurementsGroupedByTolerance(t *testing.T) {
	engine := newTestEngine()
	at := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)
	records := []core.BodyRecord{
		{ID: "withings", CustomerID: "cust-1", SourceType: core.SourceWithings, SourceRecordID: "w1", MeasuredAt: at, WeightKg: 78.4},
		{ID: "fitbit", CustomerID: "cust-1", SourceType: core.SourceFitbit, SourceRecordID: "f1", MeasuredAt: at.Add(20 * time.Minute), WeightKg: 78.6},
		{ID: "evening", CustomerID: "cust-1", SourceType: core.SourceFitbit, SourceRecordID: "f2", MeasuredAt: at.Add(12 * time.Hour), WeightKg: 78.1},
	}

	assignments := engine.AssignBody(records, nil)
	withings := assignmentByID(t, assignments, "withings")
	fitbit := assignmentByID(t, assignments, "fitbit")
	evening := assignmentByID(t, assignments, "evening")
	if withings.DedupeGroupID != fitbit.DedupeGroupID {
		t.Fatal("measurements 20 minutes apart should share a group")
	}
	if evening.DedupeGroupID == withings.DedupeGroupID {
		t.Fatal("evening measurement is a separate event")
	}
	// Default body ordering puts withings first.
	if !withings.IsPrimary || fitbit.IsPrimary {
		t.Fatal("withings should win the morning group")
	}
}

func TestSleepElectionUsesDefaultOrdering(t *testing.T) {
	engine := newTestEngine()
	records := []core.SleepRecord{
		{ID: "fitbit", CustomerID: "cust-1", SourceType: core.SourceFitbit, SourceRecordID: "f1", Date: day, TotalMinutes: 420},
		{ID: "oura", CustomerID: "cust-1", SourceType: core.SourceOura, SourceRecordID: "o1", Date: day, TotalMinutes: 432},
	}

	assignments := engine.AssignSleep(records, nil)
	if !assignmentByID(t, assignments, "oura").IsPrimary {
		t.Fatal("default sleep ordering puts oura first")
	}
	if assignmentByID(t, assignments, "fitbit").IsPrimary {
		t.Fatal("only one primary per day")
	}
}

func TestHeartSamplesDayKeyed(t *testing.T) {
	engine := newTestEngine()
	samples := []core.HeartSample{
		{ID: "fitbit", CustomerID: "cust-1", SourceType: core.SourceFitbit, SourceRecordID: "f1", RecordedAt: day.Add(8 * time.Hour), RestingBPM: 52},
		{ID: "oura", CustomerID: "cust-1", SourceType: core.SourceOura, SourceRecordID: "o1", RecordedAt: day.Add(6 * time.Hour), RestingBPM: 51},
	}

	assignments := engine.AssignHeart(samples, nil)
	if assignmentByID(t, assignments, "fitbit").DedupeGroupID != assignmentByID(t, assignments, "oura").DedupeGroupID {
		t.Fatal("same-day samples should share a group")
	}
	if !assignmentByID(t, assignments, "fitbit").IsPrimary {
		t.Fatal("default heart ordering puts fitbit first")
	}
}

func TestAssignmentsAreIdempotent(t *testing.T) {
	engine := newTestEngine()
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	records := []core.WorkoutRecord{
		workout("a", core.SourceStrava, start, time.Hour),
		workout("b", core.SourceFitbit, start.Add(10*time.Minute), time.Hour),
		workout("c", core.SourceOura, start.Add(6*time.Hour), 30*time.Minute),
	}

	first := engine.AssignWorkouts(records, nil)
	second := engine.AssignWorkouts(records, nil)
	if len(first) != len(second) {
		t.Fatalf("assignment counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("assignment %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestCustomersNeverShareGroups(t *testing.T) {
	engine := newTestEngine()
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	a := workout("a", core.SourceStrava, start, time.Hour)
	b := workout("b", core.SourceStrava, start, time.Hour)
	b.CustomerID = "cust-2"

	assignments := engine.AssignWorkouts([]core.WorkoutRecord{a, b}, nil)
	if assignmentByID(t, assignments, "a").DedupeGroupID == assignmentByID(t, assignments, "b").DedupeGroupID {
		t.Fatal("identical workouts for different customers must not group")
	}
	if !assignmentByID(t, assignments, "a").IsPrimary || !assignmentByID(t, assignments, "b").IsPrimary {
		t.Fatal("each customer's sole workout is primary")
	}
}

func TestPartialOverrideStillElects(t *testing.T) {
	engine := newTestEngine()
	records := []core.ActivityRecord{
		activity("strava", core.SourceStrava, 7000, 1800),
		activity("withings", core.SourceWithings, 7100, 1850),
	}
	// Override names neither present source.
	override := &core.SourcePriority{Ordered: []core.SourceType{core.SourceFitbit}}

	assignments := engine.AssignActivities(records, override)
	primaries := 0
	for _, assignment := range assignments {
		if assignment.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary, got %d", primaries)
	}
}
