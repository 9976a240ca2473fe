package llm

import (
	"context"
	"fmt"
	"sync"
)

// Router picks a model per worker role so the translator and
// discriminator can run against different models (or model tiers) on
// the same underlying provider, without either caller touching the
// provider directly.
type Router struct {
	mu sync.RWMutex

	provider Provider

	translatorModel   string
	discriminatorModel string
	defaultModel      string
}

// NewRouter creates a router over provider, seeding every role with the
// provider's first advertised model until overridden.
func NewRouter(provider Provider) *Router {
	models := provider.Models()
	defaultModel := ""
	if len(models) > 0 {
		defaultModel = models[0]
	}

	return &Router{
		provider:           provider,
		translatorModel:    defaultModel,
		discriminatorModel: defaultModel,
		defaultModel:       defaultModel,
	}
}

// SetTranslatorModel pins the model used by translator-role completions.
func (r *Router) SetTranslatorModel(model string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translatorModel = model
	return r
}

// SetDiscriminatorModel pins the model used by discriminator-role completions.
func (r *Router) SetDiscriminatorModel(model string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discriminatorModel = model
	return r
}

// SetDefaultModel sets the fallback model for untagged requests.
func (r *Router) SetDefaultModel(model string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = model
	return r
}

// TranslatorModel returns the model pinned to the translator role.
func (r *Router) TranslatorModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.translatorModel
}

// DiscriminatorModel returns the model pinned to the discriminator role.
func (r *Router) DiscriminatorModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discriminatorModel
}

// ForTranslator returns a Provider that always completes against the
// translator model and tags requests with RoleTranslator.
func (r *Router) ForTranslator() Provider {
	return &routedProvider{router: r, model: r.TranslatorModel(), role: RoleTranslator}
}

// ForDiscriminator returns a Provider that always completes against the
// discriminator model and tags requests with RoleDiscriminator.
func (r *Router) ForDiscriminator() Provider {
	return &routedProvider{router: r, model: r.DiscriminatorModel(), role: RoleDiscriminator}
}

// Provider returns the underlying provider.
func (r *Router) Provider() Provider {
	return r.provider
}

// Name returns the router's display name.
func (r *Router) Name() string {
	return "router:" + r.provider.Name()
}

// Models returns the models the underlying provider exposes.
func (r *Router) Models() []string {
	return r.provider.Models()
}

// Complete routes to the default model when the request doesn't name one.
func (r *Router) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = r.defaultModel
	}
	return r.provider.Complete(ctx, req)
}

// Stream routes to the default model when the request doesn't name one.
func (r *Router) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if req.Model == "" {
		req.Model = r.defaultModel
	}
	return r.provider.Stream(ctx, req)
}

// CountTokens defers to the underlying provider.
func (r *Router) CountTokens(content string) (int, error) {
	return r.provider.CountTokens(content)
}

// routedProvider pins a role and model onto every request it forwards.
type routedProvider struct {
	router *Router
	model  string
	role   string
}

func (p *routedProvider) Name() string {
	return p.router.provider.Name()
}

func (p *routedProvider) Models() []string {
	return []string{p.model}
}

func (p *routedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	req.Model = p.model
	req.Role = p.role
	return p.router.provider.Complete(ctx, req)
}

func (p *routedProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	req.Model = p.model
	req.Role = p.role
	return p.router.provider.Stream(ctx, req)
}

func (p *routedProvider) CountTokens(content string) (int, error) {
	return p.router.provider.CountTokens(content)
}

// MultiProvider combines several providers with ordered fallback, used
// when a translator or discriminator role should fail over from e.g.
// Anthropic to a local Ollama model rather than stall the run.
type MultiProvider struct {
	providers []Provider
	primary   int
}

// NewMultiProvider wraps providers with the first entry as primary.
func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

// SetPrimary selects which provider is tried first.
func (mp *MultiProvider) SetPrimary(index int) error {
	if index < 0 || index >= len(mp.providers) {
		return fmt.Errorf("invalid provider index: %d", index)
	}
	mp.primary = index
	return nil
}

func (mp *MultiProvider) Name() string {
	if len(mp.providers) == 0 {
		return "multi:empty"
	}
	return "multi:" + mp.providers[mp.primary].Name()
}

func (mp *MultiProvider) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, p := range mp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	return models
}

// Complete tries the primary provider, then the rest in order, stopping
// immediately on an auth error rather than burning through fallbacks.
func (mp *MultiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if len(mp.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var lastErr error
	if resp, err := mp.providers[mp.primary].Complete(ctx, req); err == nil {
		return resp, nil
	} else {
		if IsAuthError(err) {
			return nil, err
		}
		lastErr = err
	}

	for i, p := range mp.providers {
		if i == mp.primary {
			continue
		}
		if resp, err := p.Complete(ctx, req); err == nil {
			return resp, nil
		} else {
			lastErr = err
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Stream behaves like Complete but for streaming completions.
func (mp *MultiProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if len(mp.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var lastErr error
	if ch, err := mp.providers[mp.primary].Stream(ctx, req); err == nil {
		return ch, nil
	} else {
		if IsAuthError(err) {
			return nil, err
		}
		lastErr = err
	}

	for i, p := range mp.providers {
		if i == mp.primary {
			continue
		}
		if ch, err := p.Stream(ctx, req); err == nil {
			return ch, nil
		} else {
			lastErr = err
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// CountTokens defers to the primary provider.
func (mp *MultiProvider) CountTokens(content string) (int, error) {
	if len(mp.providers) == 0 {
		return 0, fmt.Errorf("no providers configured")
	}
	return mp.providers[mp.primary].CountTokens(content)
}
