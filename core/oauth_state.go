package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultOAuthStateTTL        = 15 * time.Minute
	defaultOAuthStateMaxEntries = 4096
)

// OAuthStateRecord is one pending authorization-code flow. States are single
// use and expire; the store never holds them indefinitely.
type OAuthStateRecord struct {
	State       string
	SourceType  SourceType
	CustomerID  string
	RedirectURI string
	Scopes      []string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type OAuthStateStore interface {
	Save(ctx context.Context, record OAuthStateRecord) error
	Consume(ctx context.Context, state string) (OAuthStateRecord, error)
	// Sweep drops expired entries; returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type MemoryOAuthStateStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]OAuthStateRecord
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	return NewMemoryOAuthStateStoreWithLimits(ttl, defaultOAuthStateMaxEntries)
}

func NewMemoryOAuthStateStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultOAuthStateMaxEntries
	}
	return &MemoryOAuthStateStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]OAuthStateRecord{},
	}
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, record OAuthStateRecord) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[state] = cloneOAuthStateRecord(record)
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (OAuthStateRecord, error) {
	if s == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state not found")
	}
	if !record.ExpiresAt.IsZero() && time.Now().UTC().After(record.ExpiresAt) {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state expired")
	}

	return cloneOAuthStateRecord(record), nil
}

func (s *MemoryOAuthStateStore) Sweep(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: oauth state store is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now.UTC()), nil
}

func (s *MemoryOAuthStateStore) pruneLocked(now time.Time) int {
	removed := 0
	for state, record := range s.entries {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.entries, state)
			removed++
		}
	}
	return removed
}

func (s *MemoryOAuthStateStore) evictOldestLocked() {
	oldestState := ""
	oldestAt := time.Time{}
	for state, record := range s.entries {
		if oldestState == "" || record.CreatedAt.Before(oldestAt) {
			oldestState = state
			oldestAt = record.CreatedAt
		}
	}
	if oldestState != "" {
		delete(s.entries, oldestState)
	}
}

// GenerateOAuthState returns a URL-safe random state token.
func GenerateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func cloneOAuthStateRecord(record OAuthStateRecord) OAuthStateRecord {
	cloned := record
	cloned.Scopes = append([]string(nil), record.Scopes...)
	if record.Metadata == nil {
		cloned.Metadata = map[string]any{}
	} else {
		cloned.Metadata = copyAnyMap(record.Metadata)
	}
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ OAuthStateStore = (*MemoryOAuthStateStore)(nil)
