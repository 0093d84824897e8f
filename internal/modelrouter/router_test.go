// ABOUTME: Tests for route selection, failover, and config validation
// ABOUTME: Uses a scripted fake client; no real provider is ever called

package modelrouter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenjournal/haven-gateway/internal/fault"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// fakeClient scripts per-provider behavior.
type fakeClient struct {
	responses   map[Provider]string
	failures    map[Provider]error
	validateErr error
	calls       []Provider
}

func (f *fakeClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.calls = append(f.calls, req.Provider)
	if err, ok := f.failures[req.Provider]; ok {
		return "", err
	}
	if text, ok := f.responses[req.Provider]; ok {
		return text, nil
	}
	return "ok from " + string(req.Provider), nil
}

func (f *fakeClient) Validate(ctx context.Context, req GenerateRequest) error {
	return f.validateErr
}

func newTestRouter(t *testing.T, client *fakeClient) *Router {
	t.Helper()
	return NewRouter(builtinCatalog(), client, 5*time.Second, nil)
}

func transientErr(p Provider) error {
	return &ProviderError{Provider: p, Status: 503, Transient: true, Err: assert.AnError}
}

func terminalErr(p Provider) error {
	return &ProviderError{Provider: p, Status: 401, Transient: false, Err: assert.AnError}
}

func TestSelect_FreeTierAlwaysFastFamily(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	for _, op := range []Operation{OpChat, OpAnalysis, OpDeepReflection, OpMonthlySummary, OpPromptGen} {
		d, err := r.Select(store.TierFree, op, nil, "")
		require.NoError(t, err)
		assert.Equal(t, ProviderGroq, d.Provider, "op %s", op)
		assert.Equal(t, SourceProjectDefault, d.Source)
		assert.NotEmpty(t, d.FallbackChain)
	}
}

func TestSelect_PaidTierSplitsByOperation(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	d, err := r.Select(store.TierPaid, OpDeepReflection, nil, "")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, d.Provider)

	d, err = r.Select(store.TierPaid, OpChat, nil, "")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, d.Provider)
}

func TestSelect_UserOverrideWins(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	override := &store.LLMConfig{
		UserID:   "user-1",
		Provider: "gemini",
		ModelID:  "gemini-2.0-flash",
	}
	d, err := r.Select(store.TierPaid, OpDeepReflection, override, "raw-key")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, d.Provider)
	assert.Equal(t, SourceUserOverride, d.Source)
	assert.Equal(t, "raw-key", d.Credential.APIKey)
	assert.Empty(t, d.FallbackChain)
}

func TestSelect_UnknownProviderInOverride(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	_, err := r.Select(store.TierFree, OpChat, &store.LLMConfig{Provider: "mystery"}, "")
	require.Error(t, err)
	fe := fault.As(err)
	require.NotNil(t, fe)
	assert.Equal(t, fault.CodeInvalidArgument, fe.Code)
}

func TestSelect_FallbackChainSkipsPrimary(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	d, err := r.Select(store.TierFree, OpChat, nil, "")
	require.NoError(t, err)
	for _, route := range d.FallbackChain {
		assert.NotEqual(t, d.Provider, route.Provider)
	}
}

func TestGenerate_PrimarySucceeds(t *testing.T) {
	client := &fakeClient{responses: map[Provider]string{ProviderGroq: "hello"}}
	r := newTestRouter(t, client)

	d, err := r.Select(store.TierFree, OpChat, nil, "")
	require.NoError(t, err)

	text, served, err := r.Generate(context.Background(), d, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, ProviderGroq, served.Provider)
	assert.Len(t, client.calls, 1)
}

func TestGenerate_FailoverOnTransient(t *testing.T) {
	client := &fakeClient{
		failures:  map[Provider]error{ProviderGroq: transientErr(ProviderGroq)},
		responses: map[Provider]string{ProviderGemini: "from fallback"},
	}
	r := newTestRouter(t, client)

	d, err := r.Select(store.TierFree, OpChat, nil, "")
	require.NoError(t, err)

	text, served, err := r.Generate(context.Background(), d, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from fallback", text)
	assert.Equal(t, ProviderGemini, served.Provider)
	// Exactly one failure then one success, never an unbounded retry
	assert.Equal(t, []Provider{ProviderGroq, ProviderGemini}, client.calls)
}

func TestGenerate_TerminalErrorDoesNotFailOver(t *testing.T) {
	client := &fakeClient{
		failures: map[Provider]error{ProviderGroq: terminalErr(ProviderGroq)},
	}
	r := newTestRouter(t, client)

	d, err := r.Select(store.TierFree, OpChat, nil, "")
	require.NoError(t, err)

	_, _, err = r.Generate(context.Background(), d, "prompt")
	require.Error(t, err)
	assert.Len(t, client.calls, 1, "invalid credentials must not trigger failover")
}

func TestGenerate_AllProvidersDown(t *testing.T) {
	client := &fakeClient{
		failures: map[Provider]error{
			ProviderGroq:   transientErr(ProviderGroq),
			ProviderGemini: transientErr(ProviderGemini),
			ProviderOpenAI: transientErr(ProviderOpenAI),
		},
	}
	r := newTestRouter(t, client)

	d, err := r.Select(store.TierFree, OpChat, nil, "")
	require.NoError(t, err)

	_, _, err = r.Generate(context.Background(), d, "prompt")
	require.Error(t, err)
	fe := fault.As(err)
	require.NotNil(t, fe)
	assert.Equal(t, fault.CodeUnavailable, fe.Code)
	// One attempt per chain entry, then stop
	assert.Len(t, client.calls, 1+len(d.FallbackChain))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *store.LLMConfig
		rawKey      string
		validateErr error
		wantErr     bool
	}{
		{
			name:   "valid own key",
			cfg:    &store.LLMConfig{Provider: "groq", ModelID: "llama-3.1-8b-instant"},
			rawKey: "gsk-abc",
		},
		{
			name:    "unknown provider",
			cfg:     &store.LLMConfig{Provider: "mystery", ModelID: "m"},
			rawKey:  "k",
			wantErr: true,
		},
		{
			name:    "cloudflare without account id",
			cfg:     &store.LLMConfig{Provider: "cloudflare", ModelID: "m"},
			rawKey:  "k",
			wantErr: true,
		},
		{
			name:    "project key on unsupported provider",
			cfg:     &store.LLMConfig{Provider: "anthropic", ModelID: "m", UseProjectKey: true},
			wantErr: true,
		},
		{
			name:    "missing key",
			cfg:     &store.LLMConfig{Provider: "openai", ModelID: "m"},
			wantErr: true,
		},
		{
			name:        "provider rejects key",
			cfg:         &store.LLMConfig{Provider: "groq", ModelID: "m"},
			rawKey:      "bad",
			validateErr: terminalErr(ProviderGroq),
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &fakeClient{validateErr: tt.validateErr})
			err := r.ValidateConfig(context.Background(), tt.cfg, tt.rawKey)
			if tt.wantErr {
				require.Error(t, err)
				fe := fault.As(err)
				require.NotNil(t, fe)
				assert.Equal(t, fault.CodeInvalidArgument, fe.Code)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadCatalog_Builtin(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	capability, ok := catalog.Lookup(ProviderCloudflare)
	require.True(t, ok)
	assert.True(t, capability.RequiresAccountID)

	capability, ok = catalog.Lookup(ProviderGroq)
	require.True(t, ok)
	assert.True(t, capability.SupportsProjectKey)

	assert.Contains(t, catalog.Names(), "anthropic")
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.toml")
	data := `
[providers.groq]
display_name = "Groq"
supports_project_key = true
default_model_id = "llama-3.3-70b-versatile"

[providers.cloudflare]
display_name = "Cloudflare Workers AI"
requires_account_id = true
default_model_id = "@cf/meta/llama-3.1-8b-instruct"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	capability, ok := catalog.Lookup(ProviderGroq)
	require.True(t, ok)
	assert.Equal(t, "llama-3.3-70b-versatile", capability.DefaultModelID)

	// File replaces the builtin table entirely
	_, ok = catalog.Lookup(ProviderOpenAI)
	assert.False(t, ok)
}

func TestLoadCatalog_RejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.toml")
	require.NoError(t, os.WriteFile(path, []byte("[providers.groq]\ndisplay_name = \"Groq\"\n"), 0644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
