package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:rate_limit_states,alias:rls"`

	ID             string         `bun:"id,pk"`
	Provider       string         `bun:"provider,notnull"`
	CustomerID     string         `bun:"customer_id,notnull"`
	Limit          int            `bun:"rate_limit,notnull"`
	Remaining      int            `bun:"remaining,notnull"`
	ResetAt        *time.Time     `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64         `bun:"retry_after_ms,nullzero"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	LastStatus     int            `bun:"last_status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newRateLimitStateRecord(state ratelimit.State, id string) *rateLimitStateRecord {
	record := &rateLimitStateRecord{
		ID:             id,
		Provider:       string(state.Key.Provider),
		CustomerID:     strings.TrimSpace(state.Key.CustomerID),
		Limit:          state.Limit,
		Remaining:      state.Remaining,
		ResetAt:        cloneTimePointer(state.ResetAt),
		ThrottledUntil: cloneTimePointer(state.ThrottledUntil),
		LastStatus:     state.LastStatus,
		Attempts:       state.Attempts,
		Metadata:       copyAnyMap(state.Metadata),
		UpdatedAt:      state.UpdatedAt,
	}
	if state.RetryAfter != nil {
		ms := state.RetryAfter.Milliseconds()
		record.RetryAfterMS = &ms
	}
	return record
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Key: ratelimit.Key{
			Provider:   core.SourceType(r.Provider),
			CustomerID: r.CustomerID,
		},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        cloneTimePointer(r.ResetAt),
		ThrottledUntil: cloneTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		Metadata:       copyAnyMap(r.Metadata),
		UpdatedAt:      r.UpdatedAt,
	}
	if r.RetryAfterMS != nil {
		retryAfter := time.Duration(*r.RetryAfterMS) * time.Millisecond
		state.RetryAfter = &retryAfter
	}
	return state
}

// RateLimitStateStore persists adaptive rate-limit state so provider budget
// observations survive restarts and are shared across instances.
type RateLimitStateStore struct {
	db *bun.DB
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RateLimitStateStore{db: db}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	record := new(rateLimitStateRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(key.Provider)).
		Where("?TableAlias.customer_id = ?", strings.TrimSpace(key.CustomerID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.State{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.State{}, err
	}
	return record.toDomain(), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	if err := state.Key.Provider.Validate(); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing := new(rateLimitStateRecord)
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.provider = ?", string(state.Key.Provider)).
			Where("?TableAlias.customer_id = ?", strings.TrimSpace(state.Key.CustomerID)).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			record := newRateLimitStateRecord(state, existing.ID)
			_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
			return err
		}

		record := newRateLimitStateRecord(state, uuid.NewString())
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				if findErr := tx.NewSelect().
					Model(existing).
					Where("?TableAlias.provider = ?", string(state.Key.Provider)).
					Where("?TableAlias.customer_id = ?", strings.TrimSpace(state.Key.CustomerID)).
					Limit(1).
					Scan(ctx); findErr != nil {
					return findErr
				}
				record = newRateLimitStateRecord(state, existing.ID)
				_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
			}
			return err
		}
		return nil
	})
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
