package provider

import (
	"context"
	"net/http"
	"time"
)

// Every outbound completion call is bounded by this read timeout. There is
// deliberately no deadline spanning the whole fallback chain.
const requestTimeout = 60 * time.Second

// Message is one turn in the generic role vocabulary. Adapters translate
// roles into whatever their backend expects.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries one full prompt: system text plus the ordered
// transcript. A zero Temperature is omitted from the wire body.
type CompletionRequest struct {
	System      string
	History     []Message
	MaxTokens   int
	Temperature float64
}

// Client is a single LLM backend. Implementations make one synchronous call
// and never retry; advancing to another backend is the orchestrator's job.
type Client interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
