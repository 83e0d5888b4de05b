package channel

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered channel adapters keyed by platform tag.
// Adding a provider means registering a new adapter here rather than
// extending string heuristics at the call sites.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Platform]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Platform]Adapter{},
	}
}

// Register adds an adapter under every platform tag it serves.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	tags := adapter.Platforms()
	if len(tags) == 0 {
		return fmt.Errorf("adapter serves no platforms")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tag := range tags {
		normalized := normalizePlatform(tag.String())
		if normalized == "" {
			return fmt.Errorf("platform tag is required")
		}
		if _, exists := r.adapters[normalized]; exists {
			return fmt.Errorf("platform already registered: %s", normalized)
		}
		r.adapters[normalized] = adapter
	}
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given platform.
func (r *Registry) Get(platform Platform) (Adapter, bool) {
	normalized := normalizePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[normalized]
	return adapter, ok
}

// GetReplySender returns the ReplySender for the given platform, or false
// if the platform is unknown or its adapter cannot send.
func (r *Registry) GetReplySender(platform Platform) (ReplySender, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(ReplySender)
	return sender, ok
}

// GetNormalizer returns the Normalizer for the given platform.
func (r *Registry) GetNormalizer(platform Platform) (Normalizer, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	normalizer, ok := adapter.(Normalizer)
	return normalizer, ok
}

// Platforms returns all registered platform tags.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Platform, 0, len(r.adapters))
	for tag := range r.adapters {
		items = append(items, tag)
	}
	return items
}

func normalizePlatform(raw string) Platform {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return ""
	}
	return Platform(normalized)
}
