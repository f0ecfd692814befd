package sqlstore

import (
	"time"

	"github.com/goliatone/go-wearables/core"
)

func newConnectedSourceRecord(in core.ConnectedSource) *connectedSourceRecord {
	return &connectedSourceRecord{
		ID:                    in.ID,
		CustomerID:            in.CustomerID,
		SourceType:            string(in.SourceType),
		EncryptedAccessToken:  cloneBytes(in.EncryptedAccessToken),
		EncryptedRefreshToken: cloneBytes(in.EncryptedRefreshToken),
		TokenExpiresAt:        cloneTimePointer(in.TokenExpiresAt),
		ScopesGranted:         copyStrings(in.ScopesGranted),
		SourceUserID:          in.SourceUserID,
		IsPrimarySource:       in.IsPrimarySource,
		SyncEnabled:           in.SyncEnabled,
		LastSyncAt:            cloneTimePointer(in.LastSyncAt),
		LastSyncStatus:        in.LastSyncStatus,
		LastError:             in.LastError,
		ConnectedAt:           in.ConnectedAt,
		DisconnectedAt:        cloneTimePointer(in.DisconnectedAt),
		CreatedAt:             in.CreatedAt,
		UpdatedAt:             in.UpdatedAt,
	}
}

func (r *connectedSourceRecord) toDomain() core.ConnectedSource {
	if r == nil {
		return core.ConnectedSource{}
	}
	return core.ConnectedSource{
		ID:                    r.ID,
		CustomerID:            r.CustomerID,
		SourceType:            core.SourceType(r.SourceType),
		EncryptedAccessToken:  cloneBytes(r.EncryptedAccessToken),
		EncryptedRefreshToken: cloneBytes(r.EncryptedRefreshToken),
		TokenExpiresAt:        cloneTimePointer(r.TokenExpiresAt),
		ScopesGranted:         copyStrings(r.ScopesGranted),
		SourceUserID:          r.SourceUserID,
		IsPrimarySource:       r.IsPrimarySource,
		SyncEnabled:           r.SyncEnabled,
		LastSyncAt:            cloneTimePointer(r.LastSyncAt),
		LastSyncStatus:        r.LastSyncStatus,
		LastError:             r.LastError,
		ConnectedAt:           r.ConnectedAt,
		DisconnectedAt:        cloneTimePointer(r.DisconnectedAt),
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func newSourcePriorityRecord(in core.SourcePriority, id string, now time.Time) *sourcePriorityRecord {
	ordered := make([]string, 0, len(in.Ordered))
	for _, source := range in.Ordered {
		ordered = append(ordered, string(source))
	}
	return &sourcePriorityRecord{
		ID:         id,
		CustomerID: in.CustomerID,
		DataType:   string(in.DataType),
		Ordered:    ordered,
		UpdatedAt:  now,
	}
}

func (r *sourcePriorityRecord) toDomain() *core.SourcePriority {
	if r == nil {
		return nil
	}
	ordered := make([]core.SourceType, 0, len(r.Ordered))
	for _, source := range r.Ordered {
		ordered = append(ordered, core.SourceType(source))
	}
	return &core.SourcePriority{
		CustomerID: r.CustomerID,
		DataType:   core.DataType(r.DataType),
		Ordered:    ordered,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newActivityRow(in core.ActivityRecord, id string, now time.Time) *activityRowRecord {
	return &activityRowRecord{
		ID:             id,
		CustomerID:     in.CustomerID,
		SourceType:     string(in.SourceType),
		SourceRecordID: in.SourceRecordID,
		Date:           core.DayOf(in.Date),
		Steps:          in.Steps,
		CaloriesOut:    in.CaloriesOut,
		DistanceMeters: in.DistanceMeters,
		ActiveMinutes:  in.ActiveMinutes,
		IsPrimary:      in.IsPrimary,
		DedupeGroupID:  in.DedupeGroupID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *activityRowRecord) toDomain() core.ActivityRecord {
	return core.ActivityRecord{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		SourceType:     core.SourceType(r.SourceType),
		SourceRecordID: r.SourceRecordID,
		Date:           r.Date.UTC(),
		Steps:          r.Steps,
		CaloriesOut:    r.CaloriesOut,
		DistanceMeters: r.DistanceMeters,
		ActiveMinutes:  r.ActiveMinutes,
		IsPrimary:      r.IsPrimary,
		DedupeGroupID:  r.DedupeGroupID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func newWorkoutRow(in core.WorkoutRecord, id string, now time.Time) *workoutRowRecord {
	return &workoutRowRecord{
		ID:              id,
		CustomerID:      in.CustomerID,
		SourceType:      string(in.SourceType),
		SourceRecordID:  in.SourceRecordID,
		StartTime:       in.StartTime.UTC(),
		EndTime:         in.EndTime.UTC(),
		WorkoutType:     string(in.WorkoutType),
		CaloriesOut:     in.CaloriesOut,
		DistanceMeters:  in.DistanceMeters,
		AvgHeartRateBPM: in.AvgHeartRateBPM,
		IsPrimary:       in.IsPrimary,
		DedupeGroupID:   in.DedupeGroupID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *workoutRowRecord) toDomain() core.WorkoutRecord {
	return core.WorkoutRecord{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		SourceType:      core.SourceType(r.SourceType),
		SourceRecordID:  r.SourceRecordID,
		StartTime:       r.StartTime.UTC(),
		EndTime:         r.EndTime.UTC(),
		WorkoutType:     core.WorkoutType(r.WorkoutType),
		CaloriesOut:     r.CaloriesOut,
		DistanceMeters:  r.DistanceMeters,
		AvgHeartRateBPM: r.AvgHeartRateBPM,
		IsPrimary:       r.IsPrimary,
		DedupeGroupID:   r.DedupeGroupID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func newSleepRow(in core.SleepRecord, id string, now time.Time) *sleepRowRecord {
	return &sleepRowRecord{
		ID:             id,
		CustomerID:     in.CustomerID,
		SourceType:     string(in.SourceType),
		SourceRecordID: in.SourceRecordID,
		Date:           core.DayOf(in.Date),
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime.UTC(),
		TotalMinutes:   in.TotalMinutes,
		DeepMinutes:    in.DeepMinutes,
		RemMinutes:     in.RemMinutes,
		LightMinutes:   in.LightMinutes,
		AwakeMinutes:   in.AwakeMinutes,
		Efficiency:     in.Efficiency,
		IsPrimary:      in.IsPrimary,
		DedupeGroupID:  in.DedupeGroupID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *sleepRowRecord) toDomain() core.SleepRecord {
	return core.SleepRecord{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		SourceType:     core.SourceType(r.SourceType),
		SourceRecordID: r.SourceRecordID,
		Date:           r.Date.UTC(),
		StartTime:      r.StartTime.UTC(),
		EndTime:        r.EndTime.UTC(),
		TotalMinutes:   r.TotalMinutes,
		DeepMinutes:    r.DeepMinutes,
		RemMinutes:     r.RemMinutes,
		LightMinutes:   r.LightMinutes,
		AwakeMinutes:   r.AwakeMinutes,
		Efficiency:     r.Efficiency,
		IsPrimary:      r.IsPrimary,
		DedupeGroupID:  r.DedupeGroupID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func newBodyRow(in core.BodyRecord, id string, now time.Time) *bodyRowRecord {
	return &bodyRowRecord{
		ID:             id,
		CustomerID:     in.CustomerID,
		SourceType:     string(in.SourceType),
		SourceRecordID: in.SourceRecordID,
		MeasuredAt:     in.MeasuredAt.UTC(),
		WeightKg:       in.WeightKg,
		BodyFatPercent: in.BodyFatPercent,
		MuscleMassKg:   in.MuscleMassKg,
		BMI:            in.BMI,
		IsPrimary:      in.IsPrimary,
		DedupeGroupID:  in.DedupeGroupID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *bodyRowRecord) toDomain() core.BodyRecord {
	return core.BodyRecord{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		SourceType:     core.SourceType(r.SourceType),
		SourceRecordID: r.SourceRecordID,
		MeasuredAt:     r.MeasuredAt.UTC(),
		WeightKg:       r.WeightKg,
		BodyFatPercent: r.BodyFatPercent,
		MuscleMassKg:   r.MuscleMassKg,
		BMI:            r.BMI,
		IsPrimary:      r.IsPrimary,
		DedupeGroupID:  r.DedupeGroupID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func newHeartRow(in core.HeartSample, id string, now time.Time) *heartRowRecord {
	return &heartRowRecord{
		ID:             id,
		CustomerID:     in.CustomerID,
		SourceType:     string(in.SourceType),
		SourceRecordID: in.SourceRecordID,
		RecordedAt:     in.RecordedAt.UTC(),
		BPM:            in.BPM,
		RestingBPM:     in.RestingBPM,
		HRVMillis:      in.HRVMillis,
		IsPrimary:      in.IsPrimary,
		DedupeGroupID:  in.DedupeGroupID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *heartRowRecord) toDomain() core.HeartSample {
	return core.HeartSample{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		SourceType:     core.SourceType(r.SourceType),
		SourceRecordID: r.SourceRecordID,
		RecordedAt:     r.RecordedAt.UTC(),
		BPM:            r.BPM,
		RestingBPM:     r.RestingBPM,
		HRVMillis:      r.HRVMillis,
		IsPrimary:      r.IsPrimary,
		DedupeGroupID:  r.DedupeGroupID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func newSyncRunRecord(in core.SyncRun) *syncRunRecord {
	return &syncRunRecord{
		ID:          in.ID,
		CustomerID:  in.CustomerID,
		SourceType:  string(in.SourceType),
		SyncType:    string(in.SyncType),
		Status:      string(in.Status),
		Fetched:     in.Fetched,
		Inserted:    in.Inserted,
		Updated:     in.Updated,
		Deduped:     in.Deduped,
		StartedAt:   in.StartedAt,
		CompletedAt: cloneTimePointer(in.CompletedAt),
		Error:       in.Error,
	}
}

func (r *syncRunRecord) toDomain() core.SyncRun {
	if r == nil {
		return core.SyncRun{}
	}
	return core.SyncRun{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		SourceType:  core.SourceType(r.SourceType),
		SyncType:    core.SyncRunType(r.SyncType),
		Status:      core.SyncRunStatus(r.Status),
		Fetched:     r.Fetched,
		Inserted:    r.Inserted,
		Updated:     r.Updated,
		Deduped:     r.Deduped,
		StartedAt:   r.StartedAt,
		CompletedAt: cloneTimePointer(r.CompletedAt),
		Error:       r.Error,
	}
}

func cloneTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
