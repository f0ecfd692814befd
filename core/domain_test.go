package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateRange_DaysEnumeratesInclusive(t *testing.T) {
	start := time.Date(2025, 1, 10, 13, 45, 0, 0, time.UTC)
	end := time.Date(2025, 1, 12, 2, 0, 0, 0, time.UTC)
	r, err := NewDateRange(start, end)
	if err != nil {
		t.Fatalf("new date range: %v", err)
	}

	days := r.Days()
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	if !days[0].Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected first day truncated to midnight, got %s", days[0])
	}
	if !days[2].Equal(time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected last day included, got %s", days[2])
	}
}

func TestDateRange_RejectsInvertedRange(t *testing.T) {
	_, err := NewDateRange(
		time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	)
	if !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestDateRange_ContainsCountsEndDayWhole(t *testing.T) {
	r, err := NewDateRange(
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("new date range: %v", err)
	}
	if !r.Contains(time.Date(2025, 1, 11, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected instant late on the end day to be contained")
	}
	if r.Contains(time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected instant on the following day to be excluded")
	}
}

func TestParseSourceType(t *testing.T) {
	source, err := ParseSourceType("  Fitbit ")
	if err != nil {
		t.Fatalf("parse source type: %v", err)
	}
	if source != SourceFitbit {
		t.Fatalf("expected fitbit, got %s", source)
	}
	if _, err := ParseSourceType("polar"); !errors.Is(err, ErrInvalidSourceType) {
		t.Fatalf("expected ErrInvalidSourceType, got %v", err)
	}
}

func TestEffectivePriority_OverrideWinsOverDefault(t *testing.T) {
	override := &SourcePriority{
		CustomerID: "cus_1",
		DataType:   DataActivity,
		Ordered:    []SourceType{SourceOura, SourceFitbit},
	}
	effective := EffectivePriority(override, DataActivity)
	if len(effective) != 2 || effective[0] != SourceOura {
		t.Fatalf("expected override ordering, got %v", effective)
	}

	fallback := EffectivePriority(nil, DataActivity)
	if len(fallback) == 0 || fallback[0] != SourceFitbit {
		t.Fatalf("expected default ordering led by fitbit, got %v", fallback)
	}
}

func TestDefaultSourcePriority_NativeStoreRanksLast(t *testing.T) {
	for _, dataType := range AllDataTypes() {
		ordering := DefaultSourcePriority(dataType)
		if ordering[len(ordering)-1] != SourceAppleHealth {
			t.Fatalf("expected apple_health last for %s, got %v", dataType, ordering)
		}
	}
}

func TestSyncRun_TransitionGuards(t *testing.T) {
	now := time.Now().UTC()
	run := &SyncRun{Status: SyncRunStatusRunning}
	if err := run.TransitionTo(SyncRunStatusSucceeded, now); err != nil {
		t.Fatalf("running -> succeeded: %v", err)
	}
	if run.CompletedAt == nil {
		t.Fatalf("expected completed_at to be stamped")
	}
	if err := run.TransitionTo(SyncRunStatusFailed, now); !errors.Is(err, ErrInvalidSyncRunTransition) {
		t.Fatalf("expected transition guard, got %v", err)
	}
}

func TestWorkoutRecord_Duration(t *testing.T) {
	record := WorkoutRecord{
		StartTime: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 1, 10, 9, 45, 0, 0, time.UTC),
	}
	if record.Duration() != 45*time.Minute {
		t.Fatalf("expected 45m, got %s", record.Duration())
	}
	record.EndTime = time.Time{}
	if record.Duration() != 0 {
		t.Fatalf("expected zero duration without end time")
	}
}

func TestTokenSet_Validate(t *testing.T) {
	if err := (TokenSet{}).Validate(); err == nil {
		t.Fatalf("expected error without access token")
	}
	if err := (TokenSet{AccessToken: "tok"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
