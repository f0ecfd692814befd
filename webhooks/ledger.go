package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord is the ledger's view of one provider notification.
type DeliveryRecord struct {
	ID            string
	ClaimID       string
	Source        string
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	LeaseUntil    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger claims delivery ids so provider retries of an
// already-processed notification never re-trigger a sync.
type DeliveryLedger interface {
	Claim(ctx context.Context, source string, deliveryID string, lease time.Duration) (DeliveryRecord, bool, error)
	Get(ctx context.Context, source string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// ErrDeliveryNotFound is returned when a ledger lookup misses.
var ErrDeliveryNotFound = fmt.Errorf("webhooks: delivery not found")

// MemoryLedger is an in-process DeliveryLedger for single-instance
// deployments and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*DeliveryRecord
	byClaim map[string]*DeliveryRecord
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: map[string]*DeliveryRecord{},
		byClaim: map[string]*DeliveryRecord{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithNow overrides the clock. Test hook.
func (l *MemoryLedger) WithNow(now func() time.Time) *MemoryLedger {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *MemoryLedger) Claim(_ context.Context, source string, deliveryID string, lease time.Duration) (DeliveryRecord, bool, error) {
	source = strings.TrimSpace(source)
	deliveryID = strings.TrimSpace(deliveryID)
	if source == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: source and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := ledgerKey(source, deliveryID)
	existing, ok := l.records[key]
	if ok {
		switch existing.Status {
		case DeliveryStatusProcessed, DeliveryStatusDead:
			return *existing, false, nil
		case DeliveryStatusProcessing:
			if existing.LeaseUntil != nil && now.Before(*existing.LeaseUntil) {
				return *existing, false, nil
			}
		case DeliveryStatusRetryReady:
			if existing.NextAttemptAt != nil && now.Before(*existing.NextAttemptAt) {
				return *existing, false, nil
			}
		}
		leaseUntil := now.Add(lease)
		existing.ClaimID = uuid.NewString()
		existing.Status = DeliveryStatusProcessing
		existing.Attempts++
		existing.LeaseUntil = &leaseUntil
		existing.NextAttemptAt = nil
		existing.UpdatedAt = now
		l.byClaim[existing.ClaimID] = existing
		return *existing, true, nil
	}

	leaseUntil := now.Add(lease)
	record := &DeliveryRecord{
		ID:         uuid.NewString(),
		ClaimID:    uuid.NewString(),
		Source:     source,
		DeliveryID: deliveryID,
		Status:     DeliveryStatusProcessing,
		Attempts:   1,
		LeaseUntil: &leaseUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.records[key] = record
	l.byClaim[record.ClaimID] = record
	return *record, true, nil
}

func (l *MemoryLedger) Get(_ context.Context, source string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ledgerKey(strings.TrimSpace(source), strings.TrimSpace(deliveryID))]
	if !ok {
		return DeliveryRecord{}, ErrDeliveryNotFound
	}
	return *record, nil
}

func (l *MemoryLedger) Complete(_ context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byClaim[strings.TrimSpace(claimID)]
	if !ok {
		return ErrDeliveryNotFound
	}
	record.Status = DeliveryStatusProcessed
	record.LeaseUntil = nil
	record.NextAttemptAt = nil
	record.LastError = ""
	record.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byClaim[strings.TrimSpace(claimID)]
	if !ok {
		return ErrDeliveryNotFound
	}
	record.LeaseUntil = nil
	record.UpdatedAt = l.now()
	if cause != nil {
		record.LastError = cause.Error()
	}
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		record.Status = DeliveryStatusDead
		record.NextAttemptAt = nil
		return nil
	}
	next := nextAttemptAt.UTC()
	record.Status = DeliveryStatusRetryReady
	record.NextAttemptAt = &next
	return nil
}

func ledgerKey(source, deliveryID string) string {
	return source + "::" + deliveryID
}

var _ DeliveryLedger = (*MemoryLedger)(nil)
