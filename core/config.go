package core

import (
	"fmt"
	"strings"
	"time"
)

type DedupeConfig struct {
	// WorkoutStartTolerance groups workouts whose start times fall within
	// this window even when their ids differ across sources.
	WorkoutStartTolerance time.Duration `koanf:"workout_start_tolerance" mapstructure:"workout_start_tolerance"`
	// BodyStartTolerance is the grouping window for body measurements.
	BodyStartTolerance time.Duration `koanf:"body_start_tolerance" mapstructure:"body_start_tolerance"`
	// OverlapFraction groups time-ranged records whose overlap covers at
	// least this share of the shorter duration.
	OverlapFraction float64 `koanf:"overlap_fraction" mapstructure:"overlap_fraction"`
	// ValueSimilarityThreshold is the relative difference under which a
	// health-store aggregate is judged a mirror of a direct source.
	ValueSimilarityThreshold float64 `koanf:"value_similarity_threshold" mapstructure:"value_similarity_threshold"`
}

type SyncConfig struct {
	// FirstSyncLookbackDays bounds the initial fetch for a source that has
	// never synced.
	FirstSyncLookbackDays int `koanf:"first_sync_lookback_days" mapstructure:"first_sync_lookback_days"`
	// OverlapDays re-fetches this many trailing days on incremental syncs;
	// providers may still be finalizing the prior day's totals.
	OverlapDays int `koanf:"overlap_days" mapstructure:"overlap_days"`
	// WebhookWindow scopes webhook-triggered syncs.
	WebhookWindow time.Duration `koanf:"webhook_window" mapstructure:"webhook_window"`
}

type TokenConfig struct {
	// RefreshBuffer refreshes tokens expiring within this window before use.
	RefreshBuffer time.Duration `koanf:"refresh_buffer" mapstructure:"refresh_buffer"`
	// OAuthStateTTL bounds CSRF state lifetime.
	OAuthStateTTL time.Duration `koanf:"oauth_state_ttl" mapstructure:"oauth_state_ttl"`
}

type Config struct {
	ServiceName string       `koanf:"service_name" mapstructure:"service_name"`
	Tokens      TokenConfig  `koanf:"tokens" mapstructure:"tokens"`
	Sync        SyncConfig   `koanf:"sync" mapstructure:"sync"`
	Dedupe      DedupeConfig `koanf:"dedupe" mapstructure:"dedupe"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "wearables",
		Tokens: TokenConfig{
			RefreshBuffer: 5 * time.Minute,
			OAuthStateTTL: 15 * time.Minute,
		},
		Sync: SyncConfig{
			FirstSyncLookbackDays: 7,
			OverlapDays:           1,
			WebhookWindow:         24 * time.Hour,
		},
		Dedupe: DedupeConfig{
			WorkoutStartTolerance:    15 * time.Minute,
			BodyStartTolerance:       30 * time.Minute,
			OverlapFraction:          0.7,
			ValueSimilarityThreshold: 0.05,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Tokens.RefreshBuffer < 0 {
		return fmt.Errorf("core: tokens.refresh_buffer must not be negative")
	}
	if c.Sync.FirstSyncLookbackDays <= 0 {
		return fmt.Errorf("core: sync.first_sync_lookback_days must be positive")
	}
	if c.Sync.OverlapDays < 0 {
		return fmt.Errorf("core: sync.overlap_days must not be negative")
	}
	if c.Dedupe.OverlapFraction <= 0 || c.Dedupe.OverlapFraction > 1 {
		return fmt.Errorf("core: dedupe.overlap_fraction must be in (0, 1]")
	}
	if c.Dedupe.ValueSimilarityThreshold < 0 || c.Dedupe.ValueSimilarityThreshold >= 1 {
		return fmt.Errorf("core: dedupe.value_similarity_threshold must be in [0, 1)")
	}
	return nil
}
