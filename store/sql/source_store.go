package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-wearables/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SourceStore persists connected provider accounts. Disconnected rows stay
// readable so reconnects can revive them in place.
type SourceStore struct {
	db   *bun.DB
	repo repository.Repository[*connectedSourceRecord]
}

func (s *SourceStore) Upsert(ctx context.Context, source core.ConnectedSource) (core.ConnectedSource, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.ConnectedSource{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	if err := source.SourceType.Validate(); err != nil {
		return core.ConnectedSource{}, err
	}
	if strings.TrimSpace(source.CustomerID) == "" {
		return core.ConnectedSource{}, fmt.Errorf("sqlstore: customer id is required")
	}

	now := time.Now().UTC()
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	var out core.ConnectedSource
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findSourceTx(ctx, tx, source.CustomerID, source.SourceType)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if existing != nil {
			source.ID = existing.ID
			source.CreatedAt = existing.CreatedAt
			record := newConnectedSourceRecord(source)
			if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
				return err
			}
			out = record.toDomain()
			return nil
		}

		record := newConnectedSourceRecord(source)
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				revived, findErr := findSourceTx(ctx, tx, source.CustomerID, source.SourceType)
				if findErr != nil {
					return findErr
				}
				source.ID = revived.ID
				source.CreatedAt = revived.CreatedAt
				record = newConnectedSourceRecord(source)
				if _, updErr := tx.NewUpdate().Model(record).WherePK().Exec(ctx); updErr != nil {
					return updErr
				}
				out = record.toDomain()
				return nil
			}
			return err
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.ConnectedSource{}, err
	}
	return out, nil
}

func (s *SourceStore) Get(ctx context.Context, customerID string, sourceType core.SourceType) (core.ConnectedSource, error) {
	if s == nil || s.repo == nil {
		return core.ConnectedSource{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("customer_id", "=", strings.TrimSpace(customerID)),
		repository.SelectBy("source_type", "=", string(sourceType)),
	)
	if err != nil {
		return core.ConnectedSource{}, err
	}
	if len(records) == 0 {
		return core.ConnectedSource{}, core.ErrConnectedSourceNotFound
	}
	return records[0].toDomain(), nil
}

func (s *SourceStore) ListByCustomer(ctx context.Context, customerID string) ([]core.ConnectedSource, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: source store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("customer_id", "=", strings.TrimSpace(customerID)),
		repository.OrderBy("source_type ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConnectedSource, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SourceStore) FindBySourceUser(ctx context.Context, sourceType core.SourceType, sourceUserID string) (core.ConnectedSource, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSource{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	trimmed := strings.TrimSpace(sourceUserID)
	if trimmed == "" {
		return core.ConnectedSource{}, core.ErrConnectedSourceNotFound
	}
	record := new(connectedSourceRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.source_type = ?", string(sourceType)).
		Where("?TableAlias.source_user_id = ?", trimmed).
		Where("?TableAlias.disconnected_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ConnectedSource{}, core.ErrConnectedSourceNotFound
		}
		return core.ConnectedSource{}, err
	}
	return record.toDomain(), nil
}

func (s *SourceStore) Update(ctx context.Context, source core.ConnectedSource) (core.ConnectedSource, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSource{}, fmt.Errorf("sqlstore: source store is not configured")
	}
	if strings.TrimSpace(source.ID) == "" {
		return core.ConnectedSource{}, core.ErrConnectedSourceNotFound
	}
	source.UpdatedAt = time.Now().UTC()
	record := newConnectedSourceRecord(source)
	result, err := s.db.NewUpdate().Model(record).WherePK().Exec(ctx)
	if err != nil {
		return core.ConnectedSource{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.ConnectedSource{}, core.ErrConnectedSourceNotFound
	}
	return record.toDomain(), nil
}

func (s *SourceStore) SetPrimary(ctx context.Context, customerID string, sourceType core.SourceType) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: source store is not configured")
	}
	trimmed := strings.TrimSpace(customerID)
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		target, err := findSourceTx(ctx, tx, trimmed, sourceType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrConnectedSourceNotFound
			}
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*connectedSourceRecord)(nil)).
			Set("is_primary_source = ?", false).
			Set("updated_at = ?", now).
			Where("?TableAlias.customer_id = ?", trimmed).
			Where("?TableAlias.is_primary_source = ?", true).
			Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewUpdate().
			Model((*connectedSourceRecord)(nil)).
			Set("is_primary_source = ?", true).
			Set("updated_at = ?", now).
			Where("?TableAlias.id = ?", target.ID).
			Exec(ctx)
		return err
	})
}

func (s *SourceStore) Disconnect(ctx context.Context, customerID string, sourceType core.SourceType, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: source store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*connectedSourceRecord)(nil)).
		Set("encrypted_access_token = NULL").
		Set("encrypted_refresh_token = NULL").
		Set("token_expires_at = NULL").
		Set("sync_enabled = ?", false).
		Set("disconnected_at = ?", at.UTC()).
		Set("updated_at = ?", at.UTC()).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(customerID)).
		Where("?TableAlias.source_type = ?", string(sourceType)).
		Where("?TableAlias.disconnected_at IS NULL").
		Exec(ctx)
	return err
}

func findSourceTx(ctx context.Context, tx bun.Tx, customerID string, sourceType core.SourceType) (*connectedSourceRecord, error) {
	record := new(connectedSourceRecord)
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(customerID)).
		Where("?TableAlias.source_type = ?", string(sourceType)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
