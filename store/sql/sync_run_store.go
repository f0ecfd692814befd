package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-wearables/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SyncRunStore is the audit trail for sync executions.
type SyncRunStore struct {
	db   *bun.DB
	repo repository.Repository[*syncRunRecord]
}

func (s *SyncRunStore) Create(ctx context.Context, run core.SyncRun) (core.SyncRun, error) {
	if s == nil || s.repo == nil {
		return core.SyncRun{}, fmt.Errorf("sqlstore: sync run store is not configured")
	}
	if err := run.SourceType.Validate(); err != nil {
		return core.SyncRun{}, err
	}
	if strings.TrimSpace(run.CustomerID) == "" {
		return core.SyncRun{}, fmt.Errorf("sqlstore: customer id is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, newSyncRunRecord(run))
	if err != nil {
		return core.SyncRun{}, err
	}
	return created.toDomain(), nil
}

func (s *SyncRunStore) Update(ctx context.Context, run core.SyncRun) (core.SyncRun, error) {
	if s == nil || s.db == nil {
		return core.SyncRun{}, fmt.Errorf("sqlstore: sync run store is not configured")
	}
	if strings.TrimSpace(run.ID) == "" {
		return core.SyncRun{}, core.ErrSyncRunNotFound
	}
	record := newSyncRunRecord(run)
	result, err := s.db.NewUpdate().Model(record).WherePK().Exec(ctx)
	if err != nil {
		return core.SyncRun{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.SyncRun{}, core.ErrSyncRunNotFound
	}
	return record.toDomain(), nil
}

func (s *SyncRunStore) FindRunning(ctx context.Context, customerID string, sourceType core.SourceType) (core.SyncRun, bool, error) {
	if s == nil || s.db == nil {
		return core.SyncRun{}, false, fmt.Errorf("sqlstore: sync run store is not configured")
	}
	record := new(syncRunRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(customerID)).
		Where("?TableAlias.source_type = ?", string(sourceType)).
		Where("?TableAlias.status = ?", string(core.SyncRunStatusRunning)).
		Order("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SyncRun{}, false, nil
		}
		return core.SyncRun{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *SyncRunStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]core.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync run store is not configured")
	}
	var records []*syncRunRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(customerID)).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.SyncRun, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
