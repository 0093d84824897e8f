// ABOUTME: Outbound HTTP client multiplexing all supported model providers
// ABOUTME: Translates each provider's wire format behind the router's Client interface

package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/havenjournal/haven-gateway/internal/modelrouter"
)

// Default provider endpoints. Groq speaks the OpenAI wire format on its
// own host.
const (
	openAIBaseURL     = "https://api.openai.com/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	anthropicBaseURL  = "https://api.anthropic.com/v1"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	cloudflareBaseURL = "https://api.cloudflare.com/client/v4"
)

const anthropicVersion = "2023-06-01"

// Client is a stateless multiplexer over the provider HTTP APIs. It
// implements the router's Client interface; one instance serves all
// requests concurrently.
type Client struct {
	httpClient  *http.Client
	projectKeys map[string]string
	baseURLs    map[modelrouter.Provider]string
}

// Option adjusts a Client, mainly for tests.
type Option func(*Client)

// WithBaseURL overrides one provider's endpoint.
func WithBaseURL(p modelrouter.Provider, url string) Option {
	return func(c *Client) { c.baseURLs[p] = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client. projectKeys holds the shared credentials, keyed by
// provider name; a request with its own credential ignores them.
func New(projectKeys map[string]string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		projectKeys: projectKeys,
		baseURLs: map[modelrouter.Provider]string{
			modelrouter.ProviderOpenAI:     openAIBaseURL,
			modelrouter.ProviderGroq:       groqBaseURL,
			modelrouter.ProviderAnthropic:  anthropicBaseURL,
			modelrouter.ProviderGemini:     geminiBaseURL,
			modelrouter.ProviderCloudflare: cloudflareBaseURL,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ modelrouter.Client = (*Client)(nil)

// Generate sends one prompt and returns the reply text.
func (c *Client) Generate(ctx context.Context, req modelrouter.GenerateRequest) (string, error) {
	return c.generate(ctx, req, 0)
}

// Validate probes the credential and model with a one-token generation.
// Providers have no uniform dry-run endpoint, so the cheapest real call is
// the probe.
func (c *Client) Validate(ctx context.Context, req modelrouter.GenerateRequest) error {
	req.Prompt = "ping"
	_, err := c.generate(ctx, req, 1)
	return err
}

func (c *Client) generate(ctx context.Context, req modelrouter.GenerateRequest, maxTokens int) (string, error) {
	key, err := c.resolveKey(req)
	if err != nil {
		return "", err
	}

	switch req.Provider {
	case modelrouter.ProviderOpenAI, modelrouter.ProviderGroq:
		return c.openAICompatible(ctx, req, key, maxTokens)
	case modelrouter.ProviderAnthropic:
		return c.anthropic(ctx, req, key, maxTokens)
	case modelrouter.ProviderGemini:
		return c.gemini(ctx, req, key, maxTokens)
	case modelrouter.ProviderCloudflare:
		return c.cloudflare(ctx, req, key)
	default:
		return "", &modelrouter.ProviderError{
			Provider: req.Provider,
			Err:      fmt.Errorf("unsupported provider %q", req.Provider),
		}
	}
}

// resolveKey picks the user credential when present, the project credential
// otherwise.
func (c *Client) resolveKey(req modelrouter.GenerateRequest) (string, error) {
	if req.Credential.APIKey != "" {
		return req.Credential.APIKey, nil
	}
	if key, ok := c.projectKeys[string(req.Provider)]; ok && key != "" {
		return key, nil
	}
	return "", &modelrouter.ProviderError{
		Provider: req.Provider,
		Err:      fmt.Errorf("no credential configured for provider %q", req.Provider),
	}
}

func (c *Client) openAICompatible(ctx context.Context, req modelrouter.GenerateRequest, key string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": req.ModelID,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}

	headers := map[string]string{"Authorization": "Bearer " + key}
	data, err := c.post(ctx, req.Provider, c.baseURLs[req.Provider]+"/chat/completions", headers, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", c.malformed(req.Provider, err)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) anthropic(ctx context.Context, req modelrouter.GenerateRequest, key string, maxTokens int) (string, error) {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      req.ModelID,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}

	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}
	data, err := c.post(ctx, req.Provider, c.baseURLs[req.Provider]+"/messages", headers, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Content) == 0 {
		return "", c.malformed(req.Provider, err)
	}
	return parsed.Content[0].Text, nil
}

func (c *Client) gemini(ctx context.Context, req modelrouter.GenerateRequest, key string, maxTokens int) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": req.Prompt}}},
		},
	}
	if maxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": maxTokens}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURLs[req.Provider], req.ModelID)
	headers := map[string]string{"x-goog-api-key": key}
	data, err := c.post(ctx, req.Provider, url, headers, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil ||
		len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", c.malformed(req.Provider, err)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) cloudflare(ctx context.Context, req modelrouter.GenerateRequest, key string) (string, error) {
	if req.Credential.AccountID == "" {
		return "", &modelrouter.ProviderError{
			Provider: req.Provider,
			Err:      fmt.Errorf("cloudflare requires an account id"),
		}
	}

	body := map[string]any{"prompt": req.Prompt}
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s",
		c.baseURLs[req.Provider], req.Credential.AccountID, req.ModelID)
	headers := map[string]string{"Authorization": "Bearer " + key}
	data, err := c.post(ctx, req.Provider, url, headers, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Result struct {
			Response string `json:"response"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", c.malformed(req.Provider, err)
	}
	return parsed.Result.Response, nil
}

// post performs one JSON round trip. Timeouts, 429, and 5xx statuses are
// transient; everything else is terminal.
func (c *Client) post(ctx context.Context, provider modelrouter.Provider, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &modelrouter.ProviderError{
			Provider:  provider,
			Transient: isNetworkTransient(err),
			Err:       err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &modelrouter.ProviderError{Provider: provider, Transient: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &modelrouter.ProviderError{
			Provider:  provider,
			Status:    resp.StatusCode,
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)),
		}
	}
	return data, nil
}

func (c *Client) malformed(provider modelrouter.Provider, err error) error {
	if err == nil {
		err = fmt.Errorf("empty completion")
	}
	return &modelrouter.ProviderError{
		Provider: provider,
		Err:      fmt.Errorf("malformed response: %w", err),
	}
}

func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
