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

// OpenAIProvider implements Provider for any OpenAI-compatible chat completions API
// (OpenAI, Groq, Mistral, OpenRouter, DeepSeek, local gateways).
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Name    string
	BaseURL string // e.g. "https://api.groq.com/openai/v1"
	APIKey  string
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// CreateConversation opens a chat on the given model id.
func (p *OpenAIProvider) CreateConversation(model string) (Conversation, error) {
	if model == "" {
		return nil, &ProviderError{Provider: p.name, Err: ErrUnknownBackend}
	}
	return &openAIConversation{provider: p, model: model}, nil
}

type openAIConversation struct {
	provider *OpenAIProvider
	model    string

	mu       sync.Mutex
	messages []Message
}

func (c *openAIConversation) Send(ctx context.Context, prompt string) (string, error) {
	userMsg := Message{Role: "user", Content: prompt}
	c.mu.Lock()
	body := openAIRequest{
		Model:    c.model,
		Messages: append(append([]Message(nil), c.messages...), userMsg),
	}
	c.mu.Unlock()

	payload, err := json.Marshal(body)
	if err != nil {
		return "", c.fail(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", c.fail(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.provider.apiKey)
	}

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

	var oaiResp openAIResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", c.fail(fmt.Errorf("%w: decoding response: %v", ErrGeneration, err))
	}
	if len(oaiResp.Choices) == 0 {
		return "", c.fail(fmt.Errorf("%w: no choices in response", ErrGeneration))
	}

	content := oaiResp.Choices[0].Message.Content
	c.mu.Lock()
	c.messages = keepLast(append(c.messages, userMsg, Message{Role: "assistant", Content: content}), 2*HistoryExchanges)
	c.mu.Unlock()
	return content, nil
}

func (c *openAIConversation) fail(err error) error {
	return &ProviderError{Provider: c.provider.name, Model: c.model, Err: err}
}

// OpenAI API types
type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}
