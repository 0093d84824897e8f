// ABOUTME: Model route selection and failover-wrapped generation
// ABOUTME: User overrides beat tier defaults; transient failures walk the chain

package modelrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/havenjournal/haven-gateway/internal/fault"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// Operation identifies the request type being routed.
type Operation string

// Known operations
const (
	OpChat           Operation = "chat"
	OpAnalysis       Operation = "analysis"
	OpDeepReflection Operation = "deep_reflection"
	OpMonthlySummary Operation = "monthly_summary"
	OpPromptGen      Operation = "prompt_generation"
)

// Route selection sources
const (
	SourceProjectDefault = "project_default"
	SourceUserOverride   = "user_override"
)

// Route is one (provider, model) pair in a decision or fallback chain.
type Route struct {
	Provider Provider
	ModelID  string
}

// Credential carries what the provider client needs to authenticate.
// APIKey is the opened (plaintext) user key when Source is a user override
// with an own key; empty means the project credential is used.
type Credential struct {
	APIKey    string
	AccountID string
}

// Decision is the outcome of route selection. Not persisted; recomputed
// per request.
type Decision struct {
	Provider      Provider
	ModelID       string
	Source        string
	FallbackChain []Route
	Credential    Credential
}

// GenerateRequest is what the router hands to a provider client.
type GenerateRequest struct {
	Provider   Provider
	ModelID    string
	Credential Credential
	Prompt     string
}

// Client is the outbound provider surface the router depends on. One
// implementation multiplexes all providers; it is stateless and reentrant.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Validate performs a live credential/model probe without generating.
	Validate(ctx context.Context, req GenerateRequest) error
}

// ProviderError is the error shape provider clients return. Transient
// errors (timeouts, 5xx, upstream rate limits) trigger failover;
// anything else surfaces immediately.
type ProviderError struct {
	Provider  Provider
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether an error should trigger failover.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Router selects routes and runs failover-wrapped generation.
type Router struct {
	catalog Catalog
	client  Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewRouter creates a Router. timeout bounds each individual provider
// call; it must be shorter than the platform request timeout so a provider
// timeout can still be converted into a clean response.
func NewRouter(catalog Catalog, client Client, timeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		catalog: catalog,
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "modelrouter"),
	}
}

// defaultRoutes is the fixed (tier, operation) table. FREE always gets the
// fast default family; PAID gets the rich family for deep operations and
// the mid family for routine ones.
var defaultRoutes = map[string]map[Operation]Route{
	store.TierFree: {
		OpChat:           {ProviderGroq, "llama-3.1-8b-instant"},
		OpAnalysis:       {ProviderGroq, "llama-3.1-8b-instant"},
		OpDeepReflection: {ProviderGroq, "llama-3.1-8b-instant"},
		OpMonthlySummary: {ProviderGroq, "llama-3.1-8b-instant"},
		OpPromptGen:      {ProviderGroq, "llama-3.1-8b-instant"},
	},
	store.TierPaid: {
		OpChat:           {ProviderOpenAI, "gpt-4o-mini"},
		OpAnalysis:       {ProviderOpenAI, "gpt-4o-mini"},
		OpDeepReflection: {ProviderAnthropic, "claude-sonnet-4-20250514"},
		OpMonthlySummary: {ProviderAnthropic, "claude-sonnet-4-20250514"},
		OpPromptGen:      {ProviderOpenAI, "gpt-4o-mini"},
	},
}

// fallbacksFor returns the ordered fallback chain for a primary route.
// The chain never repeats the primary provider.
func (r *Router) fallbacksFor(primary Route) []Route {
	candidates := []Route{
		{ProviderGroq, "llama-3.1-8b-instant"},
		{ProviderGemini, "gemini-2.0-flash"},
		{ProviderOpenAI, "gpt-4o-mini"},
	}

	var chain []Route
	for _, c := range candidates {
		if c.Provider == primary.Provider {
			continue
		}
		if _, ok := r.catalog.Lookup(c.Provider); !ok {
			continue
		}
		chain = append(chain, c)
		if len(chain) == 2 {
			break
		}
	}
	return chain
}

// Select resolves the route for a request. A persisted user override takes
// precedence over the tier table; overrides never get a fallback chain
// because the user chose that exact provider.
func (r *Router) Select(tier string, op Operation, override *store.LLMConfig, openedKey string) (*Decision, error) {
	if override != nil {
		if _, ok := r.catalog.Lookup(Provider(override.Provider)); !ok {
			return nil, fault.InvalidArgument("unknown provider %q in saved configuration", override.Provider)
		}
		return &Decision{
			Provider: Provider(override.Provider),
			ModelID:  override.ModelID,
			Source:   SourceUserOverride,
			Credential: Credential{
				APIKey:    openedKey,
				AccountID: override.AccountID,
			},
		}, nil
	}

	routes, ok := defaultRoutes[tier]
	if !ok {
		routes = defaultRoutes[store.TierFree]
	}
	primary, ok := routes[op]
	if !ok {
		return nil, fault.InvalidArgument("unknown operation %q", op)
	}

	return &Decision{
		Provider:      primary.Provider,
		ModelID:       primary.ModelID,
		Source:        SourceProjectDefault,
		FallbackChain: r.fallbacksFor(primary),
	}, nil
}

// Generate runs the decision against the provider client with failover.
// Each attempt is bounded by the router timeout; transient failures move
// to the next chain entry, at most one attempt per entry. The returned
// route names the provider/model that actually served the request.
func (r *Router) Generate(ctx context.Context, decision *Decision, prompt string) (string, Route, error) {
	attempts := append([]Route{{decision.Provider, decision.ModelID}}, decision.FallbackChain...)

	var lastErr error
	for i, route := range attempts {
		text, err := r.generateOnce(ctx, route, decision.Credential, prompt)
		if err == nil {
			if i > 0 {
				r.logger.Info("failover served request",
					"provider", route.Provider,
					"model", route.ModelID,
					"attempts", i+1,
				)
			}
			return text, route, nil
		}

		lastErr = err
		if !IsTransient(err) {
			r.logger.Warn("provider returned terminal error",
				"provider", route.Provider,
				"error", err,
			)
			return "", route, err
		}

		r.logger.Warn("provider transient failure",
			"provider", route.Provider,
			"model", route.ModelID,
			"error", err,
		)
	}

	return "", Route{}, fmt.Errorf("%w: %v",
		fault.Unavailable("all providers unavailable, please try again shortly"), lastErr)
}

func (r *Router) generateOnce(ctx context.Context, route Route, cred Credential, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.Generate(callCtx, GenerateRequest{
		Provider:   route.Provider,
		ModelID:    route.ModelID,
		Credential: cred,
		Prompt:     prompt,
	})
}

// ValidateConfig performs a live probe of a candidate override before it
// may be persisted. Invalid keys or models must never reach the store.
func (r *Router) ValidateConfig(ctx context.Context, cfg *store.LLMConfig, rawKey string) error {
	capability, ok := r.catalog.Lookup(Provider(cfg.Provider))
	if !ok {
		return fault.InvalidArgument("unknown provider %q", cfg.Provider)
	}
	if capability.RequiresAccountID && cfg.AccountID == "" {
		return fault.InvalidArgument("provider %s requires an account id", cfg.Provider)
	}
	if cfg.UseProjectKey && !capability.SupportsProjectKey {
		return fault.InvalidArgument("provider %s does not support the project credential", cfg.Provider)
	}
	if !cfg.UseProjectKey && rawKey == "" {
		return fault.InvalidArgument("an API key is required for provider %s", cfg.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.client.Validate(callCtx, GenerateRequest{
		Provider: Provider(cfg.Provider),
		ModelID:  cfg.ModelID,
		Credential: Credential{
			APIKey:    rawKey,
			AccountID: cfg.AccountID,
		},
	})
	if err != nil {
		r.logger.Info("config validation failed",
			"provider", cfg.Provider,
			"model", cfg.ModelID,
			"error", err,
		)
		return fault.InvalidArgument("provider rejected the configuration: check the model id and API key")
	}

	return nil
}
