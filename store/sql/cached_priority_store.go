package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-wearables/core"
)

const priorityCacheKeyPrefix = "go-wearables::source_priority::v1"

// CachedPriorityStore fronts priority reads with a cache. The dedupe engine
// asks for the override on every sync pass, so the hot path is read heavy
// while overrides change rarely.
type CachedPriorityStore struct {
	base  core.PriorityStore
	cache repositorycache.CacheService
}

func NewCachedPriorityStore(base core.PriorityStore, cacheService repositorycache.CacheService) (*CachedPriorityStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base priority store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: priority cache service is required")
	}
	return &CachedPriorityStore{base: base, cache: cacheService}, nil
}

// PriorityCacheKey returns the deterministic cache key contract for priority
// reads: go-wearables::source_priority::v1::<customer_id>::<data_type> with
// each segment URL-path escaped.
func PriorityCacheKey(customerID string, dataType core.DataType) (string, error) {
	trimmed := strings.TrimSpace(customerID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: customer id is required")
	}
	if strings.TrimSpace(string(dataType)) == "" {
		return "", fmt.Errorf("sqlstore: data type is required")
	}
	segments := []string{
		url.PathEscape(trimmed),
		url.PathEscape(string(dataType)),
	}
	return strings.Join(append([]string{priorityCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedPriorityStore) Get(ctx context.Context, customerID string, dataType core.DataType) (*core.SourcePriority, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached priority store is not configured")
	}
	cacheKey, err := PriorityCacheKey(customerID, dataType)
	if err != nil {
		return nil, err
	}

	priority, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (*core.SourcePriority, error) {
		fetched, fetchErr := s.base.Get(ctx, customerID, dataType)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return clonePriority(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return clonePriority(priority), nil
}

func (s *CachedPriorityStore) Put(ctx context.Context, priority core.SourcePriority) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached priority store is not configured")
	}
	if err := s.base.Put(ctx, priority); err != nil {
		return err
	}
	cacheKey, err := PriorityCacheKey(priority.CustomerID, priority.DataType)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func clonePriority(in *core.SourcePriority) *core.SourcePriority {
	if in == nil {
		return nil
	}
	out := *in
	out.Ordered = make([]core.SourceType, len(in.Ordered))
	copy(out.Ordered, in.Ordered)
	return &out
}

var _ core.PriorityStore = (*CachedPriorityStore)(nil)
