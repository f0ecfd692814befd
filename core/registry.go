package core

import (
	"fmt"
	"sort"
	"sync"
)

type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[SourceType]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[SourceType]Adapter)}
}

func (r *AdapterRegistry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("core: adapter is nil")
	}
	source := adapter.SourceType()
	if err := source.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[source]; exists {
		return fmt.Errorf("core: adapter already registered: %s", source)
	}
	r.adapters[source] = adapter
	return nil
}

func (r *AdapterRegistry) Get(source SourceType) (Adapter, bool) {
	if source.Validate() != nil {
		return nil, false
	}
	r.mu.RLock()
	adapter, ok := r.adapters[source]
	r.mu.RUnlock()
	return adapter, ok
}

func (r *AdapterRegistry) List() []Adapter {
	r.mu.RLock()
	keys := make([]string, 0, len(r.adapters))
	for source := range r.adapters {
		keys = append(keys, string(source))
	}
	r.mu.RUnlock()
	sort.Strings(keys)

	adapters := make([]Adapter, 0, len(keys))
	r.mu.RLock()
	for _, key := range keys {
		adapters = append(adapters, r.adapters[SourceType(key)])
	}
	r.mu.RUnlock()
	return adapters
}

var _ Registry = (*AdapterRegistry)(nil)
