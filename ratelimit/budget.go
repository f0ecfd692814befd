package ratelimit

import (
	"sync"
	"time"

	"github.com/goliatone/go-wearables/core"
)

// BudgetTracker counts calls against the limits a provider declares up
// front, before any response headers exist to learn from. Windows are fixed
// and aligned to the clock (minute, hour, UTC day).
type BudgetTracker struct {
	mu      sync.Mutex
	buckets map[string]*budgetBucket
}

type budgetBucket struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	dayStart    time.Time
	dayCount    int
}

func NewBudgetTracker() *BudgetTracker {
	return &BudgetTracker{buckets: map[string]*budgetBucket{}}
}

// Reserve claims one call slot. When a window is exhausted it reports how
// long the caller should wait for that window to roll over and claims
// nothing.
func (t *BudgetTracker) Reserve(key Key, budget core.RateBudget, now time.Time) (time.Duration, bool) {
	if t == nil {
		return 0, true
	}
	if budget.PerMinute <= 0 && budget.PerHour <= 0 && budget.PerDay <= 0 {
		return 0, true
	}
	now = now.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	id := stateKey(normalizeKey(key))
	bucket, ok := t.buckets[id]
	if !ok {
		bucket = &budgetBucket{}
		t.buckets[id] = bucket
	}
	bucket.roll(now)

	if budget.PerMinute > 0 && bucket.minuteCount >= budget.PerMinute {
		return bucket.minuteStart.Add(time.Minute).Sub(now), false
	}
	if budget.PerHour > 0 && bucket.hourCount >= budget.PerHour {
		return bucket.hourStart.Add(time.Hour).Sub(now), false
	}
	if budget.PerDay > 0 && bucket.dayCount >= budget.PerDay {
		return bucket.dayStart.Add(24 * time.Hour).Sub(now), false
	}

	bucket.minuteCount++
	bucket.hourCount++
	bucket.dayCount++
	return 0, true
}

func (b *budgetBucket) roll(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !minute.Equal(b.minuteStart) {
		b.minuteStart = minute
		b.minuteCount = 0
	}
	hour := now.Truncate(time.Hour)
	if !hour.Equal(b.hourStart) {
		b.hourStart = hour
		b.hourCount = 0
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !day.Equal(b.dayStart) {
		b.dayStart = day
		b.dayCount = 0
	}
}
