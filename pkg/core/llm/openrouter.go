package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// modelListTTL bounds how long a fetched model list is trusted.
	modelListTTL = time.Hour
)

// OpenRouterProvider speaks the OpenAI-compatible chat-completions protocol.
type OpenRouterProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *ModelCache
}

var _ Provider = (*OpenRouterProvider)(nil)

// NewOpenRouterProvider creates a provider with its own model-list cache.
func NewOpenRouterProvider(apiKey string) *OpenRouterProvider {
	return &OpenRouterProvider{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    defaultOpenRouterURL,
		apiKey:     apiKey,
		cache:      NewModelCache(modelListTTL),
	}
}

// SetBaseURL overrides the API base URL (used by tests).
func (p *OpenRouterProvider) SetBaseURL(base string) {
	p.baseURL = strings.TrimSuffix(base, "/")
}

// ModelCache exposes the provider's cache for clock injection in tests.
func (p *OpenRouterProvider) ModelCache() *ModelCache {
	return p.cache
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one completion request for the given model.
func (p *OpenRouterProvider) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("openrouter: api key not set")
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openrouter: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter: model %s returned status %d", model, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter: model %s returned no choices", model)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Models returns the provider's model identifiers through the expiry cache.
func (p *OpenRouterProvider) Models(ctx context.Context) ([]string, error) {
	return p.cache.Get(ctx, p.fetchModels)
}

func (p *OpenRouterProvider) fetchModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openrouter: build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter: models endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openrouter: decode models response: %w", err)
	}

	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return models, nil
}
