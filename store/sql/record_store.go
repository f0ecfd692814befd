package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordStore persists normalized health records. Upserts are idempotent on
// (customer_id, source_type, source_record_id): replaying a provider window
// updates rows in place and reports insert vs update so sync run totals stay
// honest. Dedupe flags survive value updates; the engine reassigns them after
// every sync pass.
type RecordStore struct {
	db *bun.DB
}

func NewRecordStore(db *bun.DB) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RecordStore{db: db}, nil
}

func (s *RecordStore) UpsertActivities(ctx context.Context, records []core.ActivityRecord) (core.UpsertStats, error) {
	if s == nil || s.db == nil {
		return core.UpsertStats{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	stats := core.UpsertStats{}
	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, in := range records {
			if err := in.Validate(); err != nil {
				return err
			}
			existing := new(activityRowRecord)
			err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				record := newActivityRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}

			record := newActivityRow(in, uuid.NewString(), now)
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if !isUniqueViolation(err) {
					return err
				}
				if err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID); err != nil {
					return err
				}
				record = newActivityRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			stats.Inserted++
		}
		return nil
	})
	if err != nil {
		return core.UpsertStats{}, err
	}
	return stats, nil
}

func (s *RecordStore) UpsertWorkouts(ctx context.Context, records []core.WorkoutRecord) (core.UpsertStats, error) {
	if s == nil || s.db == nil {
		return core.UpsertStats{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	stats := core.UpsertStats{}
	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, in := range records {
			if err := in.Validate(); err != nil {
				return err
			}
			existing := new(workoutRowRecord)
			err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				record := newWorkoutRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}

			record := newWorkoutRow(in, uuid.NewString(), now)
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if !isUniqueViolation(err) {
					return err
				}
				if err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID); err != nil {
					return err
				}
				record = newWorkoutRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			stats.Inserted++
		}
		return nil
	})
	if err != nil {
		return core.UpsertStats{}, err
	}
	return stats, nil
}

func (s *RecordStore) UpsertSleep(ctx context.Context, records []core.SleepRecord) (core.UpsertStats, error) {
	if s == nil || s.db == nil {
		return core.UpsertStats{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	stats := core.UpsertStats{}
	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, in := range records {
			if err := in.Validate(); err != nil {
				return err
			}
			existing := new(sleepRowRecord)
			err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				record := newSleepRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}

			record := newSleepRow(in, uuid.NewString(), now)
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if !isUniqueViolation(err) {
					return err
				}
				if err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID); err != nil {
					return err
				}
				record = newSleepRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			stats.Inserted++
		}
		return nil
	})
	if err != nil {
		return core.UpsertStats{}, err
	}
	return stats, nil
}

func (s *RecordStore) UpsertBody(ctx context.Context, records []core.BodyRecord) (core.UpsertStats, error) {
	if s == nil || s.db == nil {
		return core.UpsertStats{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	stats := core.UpsertStats{}
	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, in := range records {
			if err := in.Validate(); err != nil {
				return err
			}
			existing := new(bodyRowRecord)
			err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				record := newBodyRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}

			record := newBodyRow(in, uuid.NewString(), now)
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if !isUniqueViolation(err) {
					return err
				}
				if err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID); err != nil {
					return err
				}
				record = newBodyRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			stats.Inserted++
		}
		return nil
	})
	if err != nil {
		return core.UpsertStats{}, err
	}
	return stats, nil
}

func (s *RecordStore) UpsertHeart(ctx context.Context, samples []core.HeartSample) (core.UpsertStats, error) {
	if s == nil || s.db == nil {
		return core.UpsertStats{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	stats := core.UpsertStats{}
	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, in := range samples {
			if err := in.Validate(); err != nil {
				return err
			}
			existing := new(heartRowRecord)
			err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				record := newHeartRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}

			record := newHeartRow(in, uuid.NewString(), now)
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if !isUniqueViolation(err) {
					return err
				}
				if err := scanRowTx(ctx, tx, existing, in.CustomerID, in.SourceType, in.SourceRecordID); err != nil {
					return err
				}
				record = newHeartRow(in, existing.ID, now)
				record.CreatedAt = existing.CreatedAt
				record.IsPrimary = existing.IsPrimary
				record.DedupeGroupID = existing.DedupeGroupID
				if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			stats.Inserted++
		}
		return nil
	})
	if err != nil {
		return core.UpsertStats{}, err
	}
	return stats, nil
}

func (s *RecordStore) ListActivities(ctx context.Context, customerID string, dateRange core.DateRange) ([]core.ActivityRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	var records []*activityRowRecord
	err := rangeQuery(s.db.NewSelect().Model(&records), customerID, "date", dateRange).Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ActivityRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RecordStore) ListWorkouts(ctx context.Context, customerID string, dateRange core.DateRange) ([]core.WorkoutRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	var records []*workoutRowRecord
	err := rangeQuery(s.db.NewSelect().Model(&records), customerID, "start_time", dateRange).Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.WorkoutRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RecordStore) ListSleep(ctx context.Context, customerID string, dateRange core.DateRange) ([]core.SleepRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	var records []*sleepRowRecord
	err := rangeQuery(s.db.NewSelect().Model(&records), customerID, "date", dateRange).Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.SleepRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RecordStore) ListBody(ctx context.Context, customerID string, dateRange core.DateRange) ([]core.BodyRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	var records []*bodyRowRecord
	err := rangeQuery(s.db.NewSelect().Model(&records), customerID, "measured_at", dateRange).Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.BodyRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RecordStore) ListHeart(ctx context.Context, customerID string, dateRange core.DateRange) ([]core.HeartSample, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	var records []*heartRowRecord
	err := rangeQuery(s.db.NewSelect().Model(&records), customerID, "recorded_at", dateRange).Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.HeartSample, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RecordStore) ApplyActivityDedupe(ctx context.Context, assignments []core.DedupeAssignment) error {
	return s.applyDedupe(ctx, (*activityRowRecord)(nil), assignments)
}

func (s *RecordStore) ApplyWorkoutDedupe(ctx context.Context, assignments []core.DedupeAssignment) error {
	return s.applyDedupe(ctx, (*workoutRowRecord)(nil), assignments)
}

func (s *RecordStore) ApplySleepDedupe(ctx context.Context, assignments []core.DedupeAssignment) error {
	return s.applyDedupe(ctx, (*sleepRowRecord)(nil), assignments)
}

func (s *RecordStore) ApplyBodyDedupe(ctx context.Context, assignments []core.DedupeAssignment) error {
	return s.applyDedupe(ctx, (*bodyRowRecord)(nil), assignments)
}

func (s *RecordStore) ApplyHeartDedupe(ctx context.Context, assignments []core.DedupeAssignment) error {
	return s.applyDedupe(ctx, (*heartRowRecord)(nil), assignments)
}

func (s *RecordStore) applyDedupe(ctx context.Context, model any, assignments []core.DedupeAssignment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: record store is not configured")
	}
	if len(assignments) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, assignment := range assignments {
			if assignment.RecordID == "" {
				return fmt.Errorf("sqlstore: dedupe assignment is missing a record id")
			}
			_, err := tx.NewUpdate().
				Model(model).
				Set("is_primary = ?", assignment.IsPrimary).
				Set("dedupe_group_id = ?", assignment.DedupeGroupID).
				Set("updated_at = ?", now).
				Where("?TableAlias.id = ?", assignment.RecordID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// scanRowTx fills dest with the row matching the idempotency key. dest must
// be a bun model carrying customer_id, source_type and source_record_id.
func scanRowTx(ctx context.Context, tx bun.Tx, dest any, customerID string, sourceType core.SourceType, sourceRecordID string) error {
	return tx.NewSelect().
		Model(dest).
		Where("?TableAlias.customer_id = ?", customerID).
		Where("?TableAlias.source_type = ?", string(sourceType)).
		Where("?TableAlias.source_record_id = ?", sourceRecordID).
		Limit(1).
		Scan(ctx)
}

// rangeQuery bounds a select by the customer and an inclusive day range. The
// end day counts whole, matching core.DateRange.Contains.
func rangeQuery(q *bun.SelectQuery, customerID string, column string, dateRange core.DateRange) *bun.SelectQuery {
	q = q.Where("?TableAlias.customer_id = ?", customerID)
	if !dateRange.IsZero() {
		q = q.
			Where("?TableAlias.? >= ?", bun.Ident(column), dateRange.Start).
			Where("?TableAlias.? < ?", bun.Ident(column), core.DayOf(dateRange.End).Add(24*time.Hour))
	}
	return q.Order(column + " ASC")
}

var _ core.RecordStore = (*RecordStore)(nil)
