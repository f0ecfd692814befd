package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticRawConfigLoader serves fixed values, mostly for tests and embedded
// hosts that assemble configuration themselves.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	tokens := map[string]any{}
	if includeZero || cfg.Tokens.RefreshBuffer > 0 {
		tokens["refresh_buffer"] = cfg.Tokens.RefreshBuffer
	}
	if includeZero || cfg.Tokens.OAuthStateTTL > 0 {
		tokens["oauth_state_ttl"] = cfg.Tokens.OAuthStateTTL
	}
	if len(tokens) > 0 {
		layer["tokens"] = tokens
	}
	sync := map[string]any{}
	if includeZero || cfg.Sync.FirstSyncLookbackDays > 0 {
		sync["first_sync_lookback_days"] = cfg.Sync.FirstSyncLookbackDays
	}
	if includeZero || cfg.Sync.OverlapDays > 0 {
		sync["overlap_days"] = cfg.Sync.OverlapDays
	}
	if includeZero || cfg.Sync.WebhookWindow > 0 {
		sync["webhook_window"] = cfg.Sync.WebhookWindow
	}
	if len(sync) > 0 {
		layer["sync"] = sync
	}
	dedupe := map[string]any{}
	if includeZero || cfg.Dedupe.WorkoutStartTolerance > 0 {
		dedupe["workout_start_tolerance"] = cfg.Dedupe.WorkoutStartTolerance
	}
	if includeZero || cfg.Dedupe.BodyStartTolerance > 0 {
		dedupe["body_start_tolerance"] = cfg.Dedupe.BodyStartTolerance
	}
	if includeZero || cfg.Dedupe.OverlapFraction > 0 {
		dedupe["overlap_fraction"] = cfg.Dedupe.OverlapFraction
	}
	if includeZero || cfg.Dedupe.ValueSimilarityThreshold > 0 {
		dedupe["value_similarity_threshold"] = cfg.Dedupe.ValueSimilarityThreshold
	}
	if len(dedupe) > 0 {
		layer["dedupe"] = dedupe
	}
	return layer
}

// ResolveConfig loads configuration through the provider and merges it with
// runtime overrides using the layered resolver.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}
