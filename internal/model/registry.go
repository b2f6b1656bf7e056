// Package model implements the AI provider adapters behind
// domain.ModelAdapter. Exactly one adapter is active per process, selected by
// config; providers with asynchronous chat APIs hide their polling inside
// Chat so the coordinator always sees a synchronous call.
package model

import (
	"fmt"
	"log/slog"
	"sync"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
)

// Constructor builds an adapter from its config entry.
type Constructor func(pc config.ProviderConfig, deps Deps) (domain.ModelAdapter, error)

// Deps carries the shared collaborators adapters need.
type Deps struct {
	Store      domain.ConversationStore
	Threads    domain.ThreadStore
	Poll       config.PollConfig
	MaxHistory int
	Logger     *slog.Logger
}

// Registry creates and caches model adapters from config.
type Registry struct {
	cfg          *config.Config
	deps         Deps
	constructors map[string]Constructor
	cache        map[string]domain.ModelAdapter
	mu           sync.RWMutex
}

func NewRegistry(cfg *config.Config, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxHistory <= 0 {
		deps.MaxHistory = cfg.Store.MaxHistory
	}
	r := &Registry{
		cfg:          cfg,
		deps:         deps,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.ModelAdapter),
	}
	r.registerDefaults()
	return r
}

// RegisterConstructor adds (or replaces) an adapter constructor by name.
func (r *Registry) RegisterConstructor(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

func (r *Registry) registerDefaults() {
	r.constructors["ollama"] = func(pc config.ProviderConfig, deps Deps) (domain.ModelAdapter, error) {
		return NewOllama(OllamaConfig{
			APIBase:      pc.APIBase,
			Model:        pc.Model,
			SystemPrompt: pc.SystemPrompt,
			Store:        deps.Store,
			MaxHistory:   deps.MaxHistory,
			Logger:       deps.Logger,
		}), nil
	}

	r.constructors["openai"] = func(pc config.ProviderConfig, deps Deps) (domain.ModelAdapter, error) {
		return NewOpenAI(OpenAIConfig{
			APIKey:          pc.APIKey,
			APIBase:         pc.APIBase,
			Model:           pc.Model,
			TranscribeModel: pc.TranscribeModel,
			SystemPrompt:    pc.SystemPrompt,
			Store:           deps.Store,
			MaxHistory:      deps.MaxHistory,
			Logger:          deps.Logger,
		}), nil
	}

	r.constructors["assistant"] = func(pc config.ProviderConfig, deps Deps) (domain.ModelAdapter, error) {
		if pc.AssistantID == "" {
			return nil, fmt.Errorf("assistant provider requires assistantId")
		}
		return NewAssistant(AssistantConfig{
			APIKey:          pc.APIKey,
			APIBase:         pc.APIBase,
			AssistantID:     pc.AssistantID,
			TranscribeModel: pc.TranscribeModel,
			Poll:            deps.Poll,
			Threads:         deps.Threads,
			Logger:          deps.Logger,
		}), nil
	}
}

// Get returns the adapter with the given name, or the configured active one
// when name is empty. Created adapters are cached so the same instance is
// reused across calls.
func (r *Registry) Get(name string) (domain.ModelAdapter, error) {
	if name == "" {
		name = r.cfg.Model.Active
	}

	r.mu.RLock()
	if a, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[name]; ok {
		return a, nil
	}

	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown model provider: %s", name)
	}
	pc, ok := r.cfg.Model.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no configuration for model provider: %s", name)
	}

	a, err := ctor(pc, r.deps)
	if err != nil {
		return nil, fmt.Errorf("create model provider %s: %w", name, err)
	}
	r.cache[name] = a
	return a, nil
}

// Active resolves the configured active adapter.
func (r *Registry) Active() (domain.ModelAdapter, error) {
	return r.Get("")
}
