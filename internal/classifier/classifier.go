// ABOUTME: HTTP client for the external crisis classifier service
// ABOUTME: Errors propagate to the caller, which fails closed

package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/havenjournal/haven-gateway/internal/intervention"
)

// HTTPClassifier calls a crisis classifier service over HTTP. The service
// scores a text in [0, 1]; the caller maps the score onto intervention
// levels.
type HTTPClassifier struct {
	url        string
	httpClient *http.Client
}

// New creates an HTTPClassifier for the given endpoint.
func New(url string) *HTTPClassifier {
	return &HTTPClassifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithClient creates an HTTPClassifier with a custom HTTP client.
func NewWithClient(url string, hc *http.Client) *HTTPClassifier {
	return &HTTPClassifier{url: url, httpClient: hc}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Score            float64  `json:"score"`
	Level            string   `json:"level"`
	DetectedPatterns []string `json:"detectedPatterns"`
	Confidence       float64  `json:"confidence"`
}

// Classify scores one text. Any transport or decoding failure is returned
// as-is; the gateway treats a failed classification as a crisis signal.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (intervention.Assessment, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return intervention.Assessment{}, fmt.Errorf("encoding classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return intervention.Assessment{}, fmt.Errorf("building classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return intervention.Assessment{}, fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return intervention.Assessment{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, body)
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return intervention.Assessment{}, fmt.Errorf("decoding classifier response: %w", err)
	}
	if parsed.Score < 0 || parsed.Score > 1 {
		return intervention.Assessment{}, fmt.Errorf("classifier returned score %v outside [0, 1]", parsed.Score)
	}

	return intervention.Assessment{
		Score:            parsed.Score,
		Level:            parsed.Level,
		DetectedPatterns: parsed.DetectedPatterns,
		Confidence:       parsed.Confidence,
	}, nil
}
