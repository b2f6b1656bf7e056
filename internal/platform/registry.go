// Package platform holds the chat-platform adapters and their registry.
// Each adapter translates between its platform's webhook/send protocol and
// the canonical message types in internal/domain.
package platform

import (
	"sort"

	"chatrelay/internal/domain"
)

// Registry maps a platform identifier to its adapter. Built once at startup
// and passed explicitly to the HTTP layer; read-only afterwards.
type Registry struct {
	adapters map[string]domain.PlatformAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.PlatformAdapter)}
}

func (r *Registry) Register(a domain.PlatformAdapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (domain.PlatformAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered platform names, sorted for stable logs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
