package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-wearables/core"
)

type stubPriorityStore struct {
	mu       sync.Mutex
	override *core.SourcePriority
	getCalls int
	putCalls int
	getErr   error
	putErr   error
}

func (s *stubPriorityStore) Get(_ context.Context, _ string, _ core.DataType) (*core.SourcePriority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	return clonePriority(s.override), nil
}

func (s *stubPriorityStore) Put(_ context.Context, priority core.SourcePriority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	cloned := clonePriority(&priority)
	s.override = cloned
	return nil
}

func TestCachedPriorityStore_Get_MissFetchThenHit(t *testing.T) {
	cacheService := newTestPriorityCacheService(t)
	base := &stubPriorityStore{
		override: &core.SourcePriority{
			CustomerID: "cust-cache-1",
			DataType:   core.DataSleep,
			Ordered:    []core.SourceType{core.SourceFitbit, core.SourceOura},
		},
	}

	store, err := NewCachedPriorityStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached priority store: %v", err)
	}

	if _, err := store.Get(context.Background(), "cust-cache-1", core.DataSleep); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected first get to fetch base store once, got %d", base.getCalls)
	}

	if _, err := store.Get(context.Background(), "cust-cache-1", core.DataSleep); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedPriorityStore_Put_InvalidatesCachedKey(t *testing.T) {
	cacheService := newTestPriorityCacheService(t)
	base := &stubPriorityStore{
		override: &core.SourcePriority{
			CustomerID: "cust-cache-2",
			DataType:   core.DataActivity,
			Ordered:    []core.SourceType{core.SourceFitbit, core.SourceAppleHealth},
		},
	}

	store, err := NewCachedPriorityStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached priority store: %v", err)
	}

	if _, err := store.Get(context.Background(), "cust-cache-2", core.DataActivity); err != nil {
		t.Fatalf("prime cache with get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected one base read after cache prime, got %d", base.getCalls)
	}

	if err := store.Put(context.Background(), core.SourcePriority{
		CustomerID: "cust-cache-2",
		DataType:   core.DataActivity,
		Ordered:    []core.SourceType{core.SourceAppleHealth, core.SourceFitbit},
	}); err != nil {
		t.Fatalf("put through cached store: %v", err)
	}
	if base.putCalls != 1 {
		t.Fatalf("expected base put call count=1, got %d", base.putCalls)
	}

	refreshed, err := store.Get(context.Background(), "cust-cache-2", core.DataActivity)
	if err != nil {
		t.Fatalf("get after put invalidation: %v", err)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected invalidated key to force second base read, got %d", base.getCalls)
	}
	if refreshed == nil || refreshed.Ordered[0] != core.SourceAppleHealth {
		t.Fatalf("expected refreshed ordering, got %+v", refreshed)
	}
}

func TestCachedPriorityStore_CachesAbsentOverride(t *testing.T) {
	cacheService := newTestPriorityCacheService(t)
	base := &stubPriorityStore{}

	store, err := NewCachedPriorityStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached priority store: %v", err)
	}

	for i := 0; i < 2; i++ {
		override, err := store.Get(context.Background(), "cust-cache-3", core.DataBody)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if override != nil {
			t.Fatalf("expected nil for absent override, got %+v", override)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected absent override cached after first miss, base get calls=%d", base.getCalls)
	}
}

func TestPriorityCacheKey_Contract(t *testing.T) {
	key, err := PriorityCacheKey("Org/Alpha Customer", core.DataWorkout)
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}

	const expected = "go-wearables::source_priority::v1::Org%2FAlpha%20Customer::workout"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}

	if _, err := PriorityCacheKey("  ", core.DataWorkout); err == nil {
		t.Fatalf("expected blank customer id rejected")
	}
}

func TestCachedPriorityStore_PropagatesBaseErrors(t *testing.T) {
	cacheService := newTestPriorityCacheService(t)
	baseErr := errors.New("sqlstore: boom")
	base := &stubPriorityStore{getErr: baseErr}
	store, err := NewCachedPriorityStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached priority store: %v", err)
	}

	if _, err := store.Get(context.Background(), "cust-cache-404", core.DataHeart); !errors.Is(err, baseErr) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func newTestPriorityCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
