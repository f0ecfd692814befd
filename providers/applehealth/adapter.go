// Package applehealth handles Apple Health, a native phone health store.
// There is no OAuth app or pull API: the phone pushes batches through the
// ingest endpoint, so every fetch reports unsupported and normalization
// happens on the pushed payload instead.
package applehealth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

const dayFormat = "2006-01-02"

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) SourceType() core.SourceType {
	return core.SourceAppleHealth
}

// Capabilities lists every data type the phone can mirror. The capability
// set describes what the source produces, not what can be pulled.
func (a *Adapter) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(
		core.CapabilityActivity,
		core.CapabilityWorkout,
		core.CapabilitySleep,
		core.CapabilityBody,
		core.CapabilityHeart,
		core.CapabilityHRV,
	)
}

func (a *Adapter) RateBudget() core.RateBudget {
	return core.RateBudget{}
}

func (a *Adapter) FetchActivities(context.Context, string, core.DateRange) ([]core.ActivityRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceAppleHealth, core.DataActivity)
}

func (a *Adapter) FetchWorkouts(context.Context, string, core.DateRange) ([]core.WorkoutRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceAppleHealth, core.DataWorkout)
}

func (a *Adapter) FetchSleep(context.Context, string, core.DateRange) ([]core.SleepRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceAppleHealth, core.DataSleep)
}

func (a *Adapter) FetchBody(context.Context, string, core.DateRange) ([]core.BodyRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceAppleHealth, core.DataBody)
}

func (a *Adapter) FetchHeart(context.Context, string, core.DateRange) ([]core.HeartSample, error) {
	return nil, providers.NewCapabilityError(core.SourceAppleHealth, core.DataHeart)
}

func (a *Adapter) GetUserProfile(context.Context, string) (core.UserProfile, error) {
	return core.UserProfile{}, core.NewProviderError(
		"apple health identity comes from device registration, not an API call",
		core.SourceAppleHealth,
	)
}

// Batch is one normalized push from the phone.
type Batch struct {
	DeviceID   string
	Activities []core.ActivityRecord
	Workouts   []core.WorkoutRecord
	Sleep      []core.SleepRecord
	Body       []core.BodyRecord
	Heart      []core.HeartSample
}

type pushPayload struct {
	DeviceID string `json:"device_id"`
	Samples  []struct {
		UUID        string         `json:"uuid"`
		Type        string         `json:"type"`
		Date        string         `json:"date"`
		StartAt     string         `json:"start_at"`
		EndAt       string         `json:"end_at"`
		WorkoutName string         `json:"workout_name"`
		Values      map[string]any `json:"values"`
	} `json:"samples"`
}

// ParsePush normalizes a device batch into canonical records. Samples with
// missing identity or temporal keys are rejected rather than skipped since a
// malformed push usually means a client bug worth surfacing.
func (a *Adapter) ParsePush(customerID string, payload []byte) (Batch, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Batch{}, core.NewValidationError("apple health push requires a customer id")
	}

	var parsed pushPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Batch{}, core.NewValidationError(fmt.Sprintf("apple health push payload: %v", err))
	}
	if strings.TrimSpace(parsed.DeviceID) == "" {
		return Batch{}, core.NewValidationError("apple health push requires a device id")
	}

	batch := Batch{DeviceID: strings.TrimSpace(parsed.DeviceID)}
	for index, sample := range parsed.Samples {
		if strings.TrimSpace(sample.UUID) == "" {
			return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d missing uuid", index))
		}
		sourceRecordID := "apple_health:" + strings.TrimSpace(sample.Type) + ":" + strings.TrimSpace(sample.UUID)

		switch strings.TrimSpace(strings.ToLower(sample.Type)) {
		case "activity":
			day, err := time.Parse(dayFormat, sample.Date)
			if err != nil {
				return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d bad date %q", index, sample.Date))
			}
			batch.Activities = append(batch.Activities, core.ActivityRecord{
				CustomerID:     customerID,
				SourceType:     core.SourceAppleHealth,
				SourceRecordID: sourceRecordID,
				Date:           day,
				Steps:          int(readFloat(sample.Values, "steps")),
				CaloriesOut:    readFloat(sample.Values, "calories_out"),
				DistanceMeters: readFloat(sample.Values, "distance_meters"),
				ActiveMinutes:  int(readFloat(sample.Values, "active_minutes")),
			})
		case "workout":
			start, end, err := parseWindow(sample.StartAt, sample.EndAt)
			if err != nil {
				return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d: %v", index, err))
			}
			batch.Workouts = append(batch.Workouts, core.WorkoutRecord{
				CustomerID:      customerID,
				SourceType:      core.SourceAppleHealth,
				SourceRecordID:  sourceRecordID,
				StartTime:       start,
				EndTime:         end,
				WorkoutType:     providers.NormalizeWorkoutType(sample.WorkoutName),
				CaloriesOut:     readFloat(sample.Values, "calories_out"),
				DistanceMeters:  readFloat(sample.Values, "distance_meters"),
				AvgHeartRateBPM: int(readFloat(sample.Values, "avg_heart_rate_bpm")),
			})
		case "sleep":
			day, err := time.Parse(dayFormat, sample.Date)
			if err != nil {
				return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d bad date %q", index, sample.Date))
			}
			record := core.SleepRecord{
				CustomerID:     customerID,
				SourceType:     core.SourceAppleHealth,
				SourceRecordID: sourceRecordID,
				Date:           day,
				TotalMinutes:   int(readFloat(sample.Values, "total_minutes")),
				DeepMinutes:    int(readFloat(sample.Values, "deep_minutes")),
				RemMinutes:     int(readFloat(sample.Values, "rem_minutes")),
				LightMinutes:   int(readFloat(sample.Values, "light_minutes")),
				AwakeMinutes:   int(readFloat(sample.Values, "awake_minutes")),
				Efficiency:     readFloat(sample.Values, "efficiency"),
			}
			if start, end, err := parseWindow(sample.StartAt, sample.EndAt); err == nil {
				record.StartTime = start
				record.EndTime = end
			}
			batch.Sleep = append(batch.Sleep, record)
		case "body":
			at, err := time.Parse(time.RFC3339, sample.StartAt)
			if err != nil {
				return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d bad start_at %q", index, sample.StartAt))
			}
			batch.Body = append(batch.Body, core.BodyRecord{
				CustomerID:     customerID,
				SourceType:     core.SourceAppleHealth,
				SourceRecordID: sourceRecordID,
				MeasuredAt:     at.UTC(),
				WeightKg:       readFloat(sample.Values, "weight_kg"),
				BodyFatPercent: readFloat(sample.Values, "body_fat_percent"),
				MuscleMassKg:   readFloat(sample.Values, "muscle_mass_kg"),
				BMI:            readFloat(sample.Values, "bmi"),
			})
		case "heart":
			at, err := time.Parse(time.RFC3339, sample.StartAt)
			if err != nil {
				return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d bad start_at %q", index, sample.StartAt))
			}
			batch.Heart = append(batch.Heart, core.HeartSample{
				CustomerID:     customerID,
				SourceType:     core.SourceAppleHealth,
				SourceRecordID: sourceRecordID,
				RecordedAt:     at.UTC(),
				BPM:            int(readFloat(sample.Values, "bpm")),
				RestingBPM:     int(readFloat(sample.Values, "resting_bpm")),
				HRVMillis:      readFloat(sample.Values, "hrv_millis"),
			})
		default:
			return Batch{}, core.NewValidationError(fmt.Sprintf("apple health sample %d unknown type %q", index, sample.Type))
		}
	}
	return batch, nil
}

func parseWindow(startAt, endAt string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad start_at %q", startAt)
	}
	end, err := time.Parse(time.RFC3339, endAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end_at %q", endAt)
	}
	return start.UTC(), end.UTC(), nil
}

func readFloat(values map[string]any, key string) float64 {
	if len(values) == 0 {
		return 0
	}
	switch typed := values[key].(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err == nil {
			return parsed
		}
	}
	return 0
}

var _ core.Adapter = (*Adapter)(nil)
