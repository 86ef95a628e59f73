package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/railsbot/railsbot/internal/model/chat"
	"github.com/railsbot/railsbot/internal/provider"
	chatservice "github.com/railsbot/railsbot/internal/service/chat"
	"github.com/railsbot/railsbot/internal/service/feed"
)

const (
	maxTokens   = 4096
	temperature = 0.9

	titleMaxTokens = 256
)

// ExhaustedError reports that every backend in the fallback chain failed.
// Last carries the final provider's error so the caller can classify it.
type ExhaustedError struct {
	Last error
}

func (e *ExhaustedError) Error() string {
	return "all providers failed: " + e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Service orchestrates completions: it owns the provider fallback chain,
// composes the system prompt from the static persona plus live feed context,
// persists turns, and schedules the one-time title derivation.
type Service struct {
	store     *chatservice.Service
	feed      *feed.Service
	providers []provider.Client
}

// NewService wires the orchestrator. Providers are tried in the order given.
func NewService(store *chatservice.Service, feedSvc *feed.Service, providers ...provider.Client) *Service {
	return &Service{
		store:     store,
		feed:      feedSvc,
		providers: providers,
	}
}

// Respond persists the user turn, runs the fallback chain over the full
// transcript, persists the assistant turn, and schedules title generation.
// On total provider failure it returns an *ExhaustedError and persists
// nothing further; writing the classified reply bubble is the caller's job.
func (s *Service) Respond(ctx context.Context, conversationID int64, userMessage string) (string, error) {
	if _, err := s.store.SaveMessage(ctx, conversationID, chat.RoleUser, userMessage); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}

	text, err := s.complete(ctx, conversationID, "")
	if err != nil {
		return "", err
	}

	if _, err := s.store.SaveMessage(ctx, conversationID, chat.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("save assistant message: %w", err)
	}

	s.maybeGenerateTitle(ctx, conversationID, userMessage)

	return text, nil
}

// Regenerate re-runs the chain for a transcript whose discarded assistant
// turn has already been removed. The prior user content is never re-added
// to history; it only serves as the prompt when the transcript is empty.
func (s *Service) Regenerate(ctx context.Context, conversationID int64, priorUserContent string) (string, error) {
	text, err := s.complete(ctx, conversationID, priorUserContent)
	if err != nil {
		return "", err
	}

	if _, err := s.store.SaveMessage(ctx, conversationID, chat.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("save assistant message: %w", err)
	}
	return text, nil
}

func (s *Service) complete(ctx context.Context, conversationID int64, fallbackUserContent string) (string, error) {
	history, err := s.history(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 && fallbackUserContent != "" {
		history = []provider.Message{{Role: chat.RoleUser, Content: fallbackUserContent}}
	}

	req := provider.CompletionRequest{
		System:      s.systemPrompt(ctx),
		History:     history,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	return s.tryProviders(ctx, req)
}

// tryProviders walks the chain strictly in order, advancing on any error and
// stopping on the first success.
func (s *Service) tryProviders(ctx context.Context, req provider.CompletionRequest) (string, error) {
	var lastErr error
	for _, p := range s.providers {
		text, err := p.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		log.Printf("[ai] provider %s failed, trying next: %v", p.Name(), err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return "", &ExhaustedError{Last: lastErr}
}

func (s *Service) history(ctx context.Context, conversationID int64) ([]provider.Message, error) {
	messages, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	history := make([]provider.Message, 0, len(messages))
	for _, msg := range messages {
		history = append(history, provider.Message{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}

func (s *Service) systemPrompt(ctx context.Context) string {
	feedContext := feedFallback
	if posts := s.feed.Fetch(ctx); len(posts) > 0 {
		feedContext = strings.Join(posts, "\n")
	}
	return fmt.Sprintf(systemPromptTemplate, feedContext)
}

// maybeGenerateTitle launches the detached title task when the conversation
// has just completed its first exchange and still carries the default title.
// The task is never awaited and its outcome never reaches the request path.
func (s *Service) maybeGenerateTitle(ctx context.Context, conversationID int64, firstUserMessage string) {
	count, err := s.store.CountMessages(ctx, conversationID)
	if err != nil || count != 2 {
		return
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil || conv.Title != chat.DefaultTitle {
		return
	}

	go s.generateTitle(conversationID, firstUserMessage)
}

func (s *Service) generateTitle(conversationID int64, firstUserMessage string) {
	ctx := context.Background()

	req := provider.CompletionRequest{
		System:    titlePrompt,
		History:   []provider.Message{{Role: chat.RoleUser, Content: firstUserMessage}},
		MaxTokens: titleMaxTokens,
	}
	text, err := s.tryProviders(ctx, req)
	if err != nil {
		log.Printf("[ai] title generation failed for conversation %d: %v", conversationID, err)
		return
	}

	title := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(text))
	if title == "" {
		return
	}

	if _, err := s.store.UpdateTitleIfDefault(ctx, conversationID, title); err != nil {
		log.Printf("[ai] title update failed for conversation %d: %v", conversationID, err)
	}
}
