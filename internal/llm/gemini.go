package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider for Google's Gemini API.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiProvider creates a Gemini provider. An empty baseURL uses the public endpoint.
func NewGeminiProvider(apiKey, baseURL string) *GeminiProvider {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

// CreateConversation opens a multi-turn chat on the given model.
func (p *GeminiProvider) CreateConversation(model string) (Conversation, error) {
	if model == "" {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrUnknownBackend}
	}
	return &geminiConversation{provider: p, model: model}, nil
}

type geminiConversation struct {
	provider *GeminiProvider
	model    string

	mu      sync.Mutex
	history []geminiContent
}

func (c *geminiConversation) Send(ctx context.Context, prompt string) (string, error) {
	turn := geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}}
	c.mu.Lock()
	contents := append(append([]geminiContent(nil), c.history...), turn)
	c.mu.Unlock()

	payload, err := json.Marshal(geminiRequest{Contents: contents})
	if err != nil {
		return "", c.fail(err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.provider.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", c.fail(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.provider.apiKey)

	httpResp, err := c.provider.client.Do(httpReq)
	if err != nil {
		return "", c.fail(fmt.Errorf("%w: %v", ErrGeneration, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", c.fail(fmt.Errorf("%w: %v", ErrGeneration, err))
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return "", c.fail(ErrQuotaExceeded)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", c.fail(fmt.Errorf("%w: HTTP %d: %s", ErrGeneration, httpResp.StatusCode, truncate(string(respBody), 200)))
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		return "", c.fail(fmt.Errorf("%w: decoding response: %v", ErrGeneration, err))
	}
	if len(gemResp.Candidates) == 0 {
		return "", c.fail(fmt.Errorf("%w: no candidates in response", ErrGeneration))
	}

	var content string
	for _, part := range gemResp.Candidates[0].Content.Parts {
		content += part.Text
	}

	// Only completed exchanges become context for later turns.
	reply := geminiContent{Role: "model", Parts: []geminiPart{{Text: content}}}
	c.mu.Lock()
	c.history = keepLast(append(c.history, turn, reply), 2*HistoryExchanges)
	c.mu.Unlock()
	return content, nil
}

func (c *geminiConversation) fail(err error) error {
	return &ProviderError{Provider: c.provider.Name(), Model: c.model, Err: err}
}

// Gemini API types
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
