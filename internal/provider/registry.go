package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/cache"
	"github.com/hrygo/relaywatch/internal/config"
)

// modelListTTL bounds how long a provider's fetched model list is
// reused before FetchModels hits the upstream endpoint again.
const modelListTTL = 10 * time.Minute

// Registry holds one Provider per known backend, built once at startup
// in C0 and shared read-only afterward (§4.5). isConfigured is evaluated
// on every ListConfigured call: an unconfigured provider is simply
// absent from listing, never a runtime panic.
type Registry struct {
	providers map[string]Provider
	cache     *cache.Cache // optional; nil means no-op (§5)

	mu       sync.Mutex
	lastGood map[string][]Model // last successful list per provider key, §4.5
}

// NewRegistry builds every known variant from cfg.Providers. Variants
// whose credential is empty are still constructed (so FetchModels can
// report IsConfigured()==false consistently) but never selected for a
// live call.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{providers: make(map[string]Provider, 5), lastGood: make(map[string][]Model)}

	openaiCred := cfg.Providers[config.ProviderOpenAI]
	r.register(NewOpenAI(openaiCred.APIKey))

	anthropicCred := cfg.Providers[config.ProviderAnthropic]
	r.register(NewAnthropic(anthropicCred.APIKey, 0))

	geminiCred := cfg.Providers[config.ProviderGemini]
	r.register(NewGemini(geminiCred.APIKey))

	groqCred := cfg.Providers[config.ProviderGroq]
	r.register(NewGroq(groqCred.APIKey, groqCred.BaseURL))

	nvidiaCred := cfg.Providers[config.ProviderNVIDIA]
	r.register(NewNVIDIA(nvidiaCred.APIKey, nvidiaCred.BaseURL))

	return r
}

// NewRegistryFrom builds a Registry directly from a set of providers,
// bypassing config-driven construction — used by tests that need to
// substitute a scripted Provider for a real backend.
func NewRegistryFrom(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers)), lastGood: make(map[string][]Model)}
	for _, p := range providers {
		r.register(p)
	}
	return r
}

// SetCache attaches the optional process-wide cache (§5); a nil cache
// makes FetchModels's GetOrSet a pass-through to the upstream call.
func (r *Registry) SetCache(c *cache.Cache) { r.cache = c }

func (r *Registry) register(p Provider) { r.providers[p.Key()] = p }

// Get returns the provider for key, or false if no such key is known
// to the registry (distinct from "known but not configured").
func (r *Registry) Get(key string) (Provider, bool) {
	p, ok := r.providers[key]
	return p, ok
}

// ListConfigured returns the keys of every provider whose credential is
// present, sorted by key, for the API Gateway's provider-listing endpoint.
func (r *Registry) ListConfigured() []string {
	keys := make([]string, 0, len(r.providers))
	for key, p := range r.providers {
		if p.IsConfigured() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// FetchModels returns key's model catalog, reusing the last successful
// list (optionally through the process cache, always through an
// in-memory fallback) when the upstream call fails (§4.5, §8: "on
// upstream failure, the result equals the fallback"). Individual
// Provider implementations already substitute their own curated
// fallback list on a failed upstream call, so reaching this function's
// own error path means even that fallback was unavailable (e.g. a
// newly added provider with none defined).
func (r *Registry) FetchModels(ctx context.Context, key string) ([]Model, error) {
	p, ok := r.Get(key)
	if !ok {
		return nil, apperr.ErrInvalidArgument
	}

	models, err := cache.GetOrSet(ctx, r.cache, "models:"+key, modelListTTL, func() ([]Model, error) {
		return p.FetchModels(ctx)
	})
	if err != nil {
		r.mu.Lock()
		cached, haveCached := r.lastGood[key]
		r.mu.Unlock()
		if haveCached {
			return cached, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.lastGood[key] = models
	r.mu.Unlock()
	return models, nil
}
