// ABOUTME: Tests for the provider HTTP client against local fake endpoints
// ABOUTME: Covers wire formats, credential selection, and error classification

package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenjournal/haven-gateway/internal/modelrouter"
)

func TestOpenAICompatibleGenerate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello back"}}]}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"groq": "gsk_project"}, WithBaseURL(modelrouter.ProviderGroq, srv.URL))

	text, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderGroq,
		ModelID:  "llama-3.1-8b-instant",
		Prompt:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", text)
	assert.Equal(t, "Bearer gsk_project", gotAuth)
	assert.Equal(t, "llama-3.1-8b-instant", gotBody["model"])
}

func TestUserCredentialBeatsProjectKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"openai": "sk_project"}, WithBaseURL(modelrouter.ProviderOpenAI, srv.URL))

	_, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider:   modelrouter.ProviderOpenAI,
		ModelID:    "gpt-4o-mini",
		Credential: modelrouter.Credential{APIKey: "sk_user"},
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_user", gotAuth)
}

func TestMissingCredentialIsTerminal(t *testing.T) {
	c := New(nil)

	_, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderOpenAI,
		ModelID:  "gpt-4o-mini",
		Prompt:   "hi",
	})
	require.Error(t, err)
	assert.False(t, modelrouter.IsTransient(err))
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"content":[{"text":"reflection"}]}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"anthropic": "sk-ant"}, WithBaseURL(modelrouter.ProviderAnthropic, srv.URL))

	text, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderAnthropic,
		ModelID:  "claude-sonnet-4-20250514",
		Prompt:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "reflection", text)
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		assert.Equal(t, "g_key", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"flash"}]}}]}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"gemini": "g_key"}, WithBaseURL(modelrouter.ProviderGemini, srv.URL))

	text, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderGemini,
		ModelID:  "gemini-2.0-flash",
		Prompt:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "flash", text)
}

func TestCloudflareRequiresAccountID(t *testing.T) {
	c := New(map[string]string{"cloudflare": "cf_key"})

	_, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderCloudflare,
		ModelID:  "@cf/meta/llama-3.1-8b-instruct",
		Prompt:   "hi",
	})
	require.Error(t, err)
	assert.False(t, modelrouter.IsTransient(err))
}

func TestCloudflareGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/accounts/acct-1/ai/run/")
		_, _ = w.Write([]byte(`{"result":{"response":"worker says hi"}}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"cloudflare": "cf_key"}, WithBaseURL(modelrouter.ProviderCloudflare, srv.URL))

	text, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider:   modelrouter.ProviderCloudflare,
		ModelID:    "@cf/meta/llama-3.1-8b-instruct",
		Credential: modelrouter.Credential{AccountID: "acct-1"},
		Prompt:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "worker says hi", text)
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := New(map[string]string{"groq": "k"}, WithBaseURL(modelrouter.ProviderGroq, srv.URL))
		_, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
			Provider: modelrouter.ProviderGroq,
			ModelID:  "m",
			Prompt:   "hi",
		})
		require.Error(t, err)
		assert.True(t, modelrouter.IsTransient(err), "status %d should be transient", status)
		srv.Close()
	}
}

func TestAuthErrorsAreTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := New(map[string]string{"groq": "k"}, WithBaseURL(modelrouter.ProviderGroq, srv.URL))
	_, err := c.Generate(context.Background(), modelrouter.GenerateRequest{
		Provider: modelrouter.ProviderGroq,
		ModelID:  "m",
		Prompt:   "hi",
	})
	require.Error(t, err)
	assert.False(t, modelrouter.IsTransient(err))

	var pe *modelrouter.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
}

func TestValidateCapsTokens(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer srv.Close()

	c := New(nil, WithBaseURL(modelrouter.ProviderGroq, srv.URL))

	err := c.Validate(context.Background(), modelrouter.GenerateRequest{
		Provider:   modelrouter.ProviderGroq,
		ModelID:    "m",
		Credential: modelrouter.Credential{APIKey: "user_key"},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), gotBody["max_tokens"])
}
