package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/logging"
)

// Registry maps model references to clients. A reference is a model name,
// "provider/model", or a bare provider name, which picks the first model
// registered for that provider.
type Registry struct {
	mu         sync.RWMutex
	models     map[string]Client
	byProvider map[string]string
	primary    string
	log        *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		models:     make(map[string]Client),
		byProvider: make(map[string]string),
		log:        log.Sub("llm.registry"),
	}
}

// Register adds client as model of provider. The first model registered
// becomes the primary that unknown references resolve to.
func (r *Registry) Register(provider, model string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = client
	if _, ok := r.byProvider[provider]; !ok {
		r.byProvider[provider] = model
	}
	if r.primary == "" {
		r.primary = model
	}
	r.log.Info().Str("provider", provider).Str("model", model).Msg("model registered")
}

// Lookup returns the client for ref without falling back to the primary.
func (r *Registry) Lookup(ref string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(ref)
}

func (r *Registry) lookup(ref string) (Client, bool) {
	model := ref
	if provider, name, ok := strings.Cut(ref, "/"); ok {
		if _, known := r.byProvider[provider]; known {
			model = name
		}
	}
	if c, ok := r.models[model]; ok {
		return c, true
	}
	if m, ok := r.byProvider[ref]; ok {
		return r.models[m], true
	}
	return nil, false
}

// Resolve returns the client for ref, or the primary model's client when
// ref names nothing registered.
func (r *Registry) Resolve(ref string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.lookup(ref); ok {
		return c, nil
	}
	if c, ok := r.models[r.primary]; ok {
		r.log.Debug().Str("ref", ref).Str("primary", r.primary).Msg("unknown model, using primary")
		return c, nil
	}
	return nil, fmt.Errorf("no model provider for %q", ref)
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewProvider builds the client for one provider/model pair.
func NewProvider(ctx context.Context, ref config.ModelRef) (Client, error) {
	if ref.Provider != "claude" && ref.Provider != "gemini" {
		return nil, fmt.Errorf("unknown model provider %q", ref.Provider)
	}
	if ref.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", ref.Provider)
	}
	if ref.Provider == "claude" {
		return NewClaudeAPIClient(ref.APIKey, ref.Model), nil
	}
	return NewGeminiClient(ctx, ref.APIKey, ref.Model)
}

// NewRegistryFromConfig registers the primary model and every fallback
// that can be built. A fallback without its own API key borrows the
// primary key when the provider matches. Only a broken primary is fatal.
func NewRegistryFromConfig(ctx context.Context, cfg config.ModelConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	primary := config.ModelRef{Provider: cfg.Provider, Model: cfg.Model, APIKey: cfg.APIKey}
	for i, ref := range append([]config.ModelRef{primary}, cfg.Fallbacks...) {
		if ref.APIKey == "" && ref.Provider == cfg.Provider {
			ref.APIKey = cfg.APIKey
		}
		client, err := NewProvider(ctx, ref)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("primary model: %w", err)
			}
			reg.log.Warn().Err(err).Str("model", ref.Model).Msg("skipping fallback model")
			continue
		}
		if cfg.RequestsPerSecond > 0 {
			client = NewRateLimited(client, cfg.RequestsPerSecond, cfg.Burst)
		}
		reg.Register(ref.Provider, ref.Model, client)
	}
	return reg, nil
}

// NewClientFromConfig returns the client the workflow uses: the primary
// model with failover to the configured fallbacks.
func NewClientFromConfig(ctx context.Context, cfg config.ModelConfig, log *logging.Logger) (Client, error) {
	reg, err := NewRegistryFromConfig(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	fallbacks := make([]string, 0, len(cfg.Fallbacks))
	for _, fb := range cfg.Fallbacks {
		fallbacks = append(fallbacks, fb.Model)
	}
	return NewFailoverClient(reg, cfg.Model, fallbacks, log), nil
}
