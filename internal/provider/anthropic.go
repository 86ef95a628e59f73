package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicModel          = "claude-sonnet-4-20250514"
	anthropicVersion        = "2023-06-01"
)

// Anthropic calls the messages endpoint. Roles pass through unchanged.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAnthropic(apiKey string) *Anthropic {
	return NewAnthropicWithBaseURL(apiKey, anthropicDefaultBaseURL)
}

// NewAnthropicWithBaseURL exists so tests can point the adapter at a local server.
func NewAnthropicWithBaseURL(apiKey, baseURL string) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:       anthropicModel,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    req.History,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("anthropic: empty response")
	}

	text := parsed.Content[0].Text
	if strings.TrimSpace(text) == "" {
		return "", errors.New("anthropic: empty response")
	}
	return text, nil
}
