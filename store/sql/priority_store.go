package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PriorityStore persists per-customer source priority overrides. A customer
// without an override row falls back to the built-in ordering.
type PriorityStore struct {
	db *bun.DB
}

func NewPriorityStore(db *bun.DB) (*PriorityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &PriorityStore{db: db}, nil
}

func (s *PriorityStore) Get(ctx context.Context, customerID string, dataType core.DataType) (*core.SourcePriority, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: priority store is not configured")
	}
	record := new(sourcePriorityRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(customerID)).
		Where("?TableAlias.data_type = ?", string(dataType)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record.toDomain(), nil
}

func (s *PriorityStore) Put(ctx context.Context, priority core.SourcePriority) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: priority store is not configured")
	}
	if strings.TrimSpace(priority.CustomerID) == "" {
		return fmt.Errorf("sqlstore: customer id is required")
	}
	if strings.TrimSpace(string(priority.DataType)) == "" {
		return fmt.Errorf("sqlstore: data type is required")
	}
	for _, source := range priority.Ordered {
		if err := source.Validate(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing := new(sourcePriorityRecord)
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.customer_id = ?", strings.TrimSpace(priority.CustomerID)).
			Where("?TableAlias.data_type = ?", string(priority.DataType)).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			record := newSourcePriorityRecord(priority, existing.ID, now)
			record.CreatedAt = existing.CreatedAt
			_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
			return err
		}

		record := newSourcePriorityRecord(priority, uuid.NewString(), now)
		record.CreatedAt = now
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				revived := new(sourcePriorityRecord)
				if findErr := tx.NewSelect().
					Model(revived).
					Where("?TableAlias.customer_id = ?", strings.TrimSpace(priority.CustomerID)).
					Where("?TableAlias.data_type = ?", string(priority.DataType)).
					Limit(1).
					Scan(ctx); findErr != nil {
					return findErr
				}
				record = newSourcePriorityRecord(priority, revived.ID, now)
				record.CreatedAt = revived.CreatedAt
				_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
			}
			return err
		}
		return nil
	})
}

var _ core.PriorityStore = (*PriorityStore)(nil)
