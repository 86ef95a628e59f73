package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/railsbot/railsbot/internal/model/chat"
	"github.com/railsbot/railsbot/internal/provider"
	chatservice "github.com/railsbot/railsbot/internal/service/chat"
	"github.com/railsbot/railsbot/internal/service/feed"
)

type stubProvider struct {
	mu   sync.Mutex
	name string
	text string
	err  error
	reqs []provider.CompletionRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, req provider.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *stubProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *stubProvider) lastRequest() provider.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func newTestStore(t *testing.T) *chatservice.Service {
	t.Helper()
	store, err := chatservice.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestFeed serves the given texts as bluesky posts and leaves the blog
// source broken, keeping tests off the network.
func newTestFeed(t *testing.T, texts ...string) *feed.Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"feed":[`
		for i, text := range texts {
			if i > 0 {
				body += ","
			}
			body += `{"post":{"record":{"text":"` + text + `"}}}`
		}
		body += `]}`
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return feed.NewService(feed.Config{
		BlueskyURL: server.URL,
		AtomURL:    server.URL + "/not-a-feed",
	})
}

func seedExchange(t *testing.T, store *chatservice.Service, conversationID int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.SaveMessage(ctx, conversationID, chat.RoleUser, "earlier question"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveMessage(ctx, conversationID, chat.RoleAssistant, "earlier answer"); err != nil {
		t.Fatal(err)
	}
}

func waitForTitle(t *testing.T, store *chatservice.Service, conversationID int64) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conv, err := store.GetConversation(context.Background(), conversationID)
		if err != nil {
			t.Fatal(err)
		}
		if conv.Title != chat.DefaultTitle {
			return conv.Title
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("title was never generated")
	return ""
}

func TestRespondPersistsBothTurns(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "use validates :name, uniqueness: true"}
	svc := NewService(store, newTestFeed(t), primary)

	conv, err := store.CreateConversation(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	seedExchange(t, store, conv.ID)

	text, err := svc.Respond(context.Background(), conv.ID, "How do I validate uniqueness?")
	if err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	if text != primary.text {
		t.Fatalf("text = %q", text)
	}

	messages, err := store.Messages(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(messages))
	}
	last := messages[len(messages)-1]
	if last.Role != chat.RoleAssistant || last.Content != primary.text {
		t.Fatalf("last message = %+v", last)
	}

	req := primary.lastRequest()
	if req.MaxTokens != 4096 {
		t.Errorf("maxTokens = %d", req.MaxTokens)
	}
	if req.Temperature != 0.9 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.History) != 3 {
		t.Errorf("history len = %d, want 3 (new user turn included, not duplicated)", len(req.History))
	}
}

func TestRespondFallsBackToSecondary(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", err: errors.New("connection timed out")}
	secondary := &stubProvider{name: "secondary", text: "secondary completion"}
	svc := NewService(store, newTestFeed(t), primary, secondary)

	conv, _ := store.CreateConversation(context.Background())
	seedExchange(t, store, conv.ID)

	text, err := svc.Respond(context.Background(), conv.ID, "hello")
	if err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	if text != "secondary completion" {
		t.Fatalf("text = %q, want the secondary's completion", text)
	}
	if primary.calls() != 1 || secondary.calls() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls(), secondary.calls())
	}
}

func TestRespondExhaustedCarriesLastError(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", err: errors.New("first failure")}
	secondary := &stubProvider{name: "secondary", err: errors.New("billing problem")}
	svc := NewService(store, newTestFeed(t), primary, secondary)

	conv, _ := store.CreateConversation(context.Background())
	seedExchange(t, store, conv.ID)

	_, err := svc.Respond(context.Background(), conv.ID, "hello")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if exhausted.Last.Error() != "billing problem" {
		t.Fatalf("Last = %v, want the final provider's error", exhausted.Last)
	}

	// The user turn is persisted; no assistant turn is.
	messages, _ := store.Messages(context.Background(), conv.ID)
	if len(messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(messages))
	}
	if messages[len(messages)-1].Role != chat.RoleUser {
		t.Fatalf("last message role = %q", messages[len(messages)-1].Role)
	}
}

func TestRespondInjectsFeedContext(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "ok"}
	svc := NewService(store, newTestFeed(t, "shipping is a feature"), primary)

	conv, _ := store.CreateConversation(context.Background())
	seedExchange(t, store, conv.ID)

	if _, err := svc.Respond(context.Background(), conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	system := primary.lastRequest().System
	if !strings.Contains(system, "[Bluesky] shipping is a feature") {
		t.Fatalf("system prompt missing feed context")
	}
	if strings.Contains(system, feedFallback) {
		t.Fatal("fallback sentence should not appear when posts exist")
	}
}

func TestRespondUsesFallbackWhenFeedEmpty(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "ok"}
	svc := NewService(store, newTestFeed(t), primary)

	conv, _ := store.CreateConversation(context.Background())
	seedExchange(t, store, conv.ID)

	if _, err := svc.Respond(context.Background(), conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(primary.lastRequest().System, feedFallback) {
		t.Fatal("system prompt missing the static fallback sentence")
	}
}

func TestRespondSchedulesTitleOnFirstExchange(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "Validating Uniqueness"}
	svc := NewService(store, newTestFeed(t), primary)

	conv, _ := store.CreateConversation(context.Background())
	if _, err := svc.Respond(context.Background(), conv.ID, "How do I validate uniqueness in ActiveRecord?"); err != nil {
		t.Fatal(err)
	}

	if got := waitForTitle(t, store, conv.ID); got != "Validating Uniqueness" {
		t.Fatalf("title = %q", got)
	}
}

func TestTitleNotRegeneratedOnLaterExchanges(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "First Title"}
	svc := NewService(store, newTestFeed(t), primary)

	conv, _ := store.CreateConversation(context.Background())
	if _, err := svc.Respond(context.Background(), conv.ID, "first question"); err != nil {
		t.Fatal(err)
	}
	title := waitForTitle(t, store, conv.ID)

	primary.mu.Lock()
	primary.text = "Second Title"
	primary.mu.Unlock()

	if _, err := svc.Respond(context.Background(), conv.ID, "second question"); err != nil {
		t.Fatal(err)
	}

	conv2, _ := store.GetConversation(context.Background(), conv.ID)
	if conv2.Title != title {
		t.Fatalf("title changed from %q to %q", title, conv2.Title)
	}
}

func TestTitleSkippedWhenCustomTitleExists(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "Generated Title"}
	svc := NewService(store, newTestFeed(t), primary)

	conv, _ := store.CreateConversation(context.Background())
	if _, err := store.UpdateTitleIfDefault(context.Background(), conv.ID, "My Custom Title"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Respond(context.Background(), conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	// Only the completion call should have happened; no title request.
	if primary.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", primary.calls())
	}

	conv2, _ := store.GetConversation(context.Background(), conv.ID)
	if conv2.Title != "My Custom Title" {
		t.Fatalf("title = %q", conv2.Title)
	}
}

func TestGenerateTitleStripsQuotes(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: ` "Rails 'Migrations' Explained" `}
	svc := NewService(store, newTestFeed(t), primary)

	conv, _ := store.CreateConversation(context.Background())
	svc.generateTitle(conv.ID, "Explain migrations")

	conv2, _ := store.GetConversation(context.Background(), conv.ID)
	if conv2.Title != "Rails Migrations Explained" {
		t.Fatalf("title = %q", conv2.Title)
	}

	req := primary.lastRequest()
	if req.System != titlePrompt {
		t.Errorf("title system prompt = %q", req.System)
	}
	if req.Temperature != 0 {
		t.Errorf("title temperature = %v, want unset", req.Temperature)
	}
}

func TestRegenerateDoesNotDuplicateUserTurn(t *testing.T) {
	store := newTestStore(t)
	primary := &stubProvider{name: "primary", text: "a fresh take on migrations"}
	svc := NewService(store, newTestFeed(t), primary)

	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx)
	userMsg, err := store.SaveMessage(ctx, conv.ID, chat.RoleUser, "Explain migrations")
	if err != nil {
		t.Fatal(err)
	}
	assistantMsg, err := store.SaveMessage(ctx, conv.ID, chat.RoleAssistant, "a stale answer")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteMessage(ctx, assistantMsg.ID); err != nil {
		t.Fatal(err)
	}
	text, err := svc.Regenerate(ctx, conv.ID, userMsg.Content)
	if err != nil {
		t.Fatalf("Regenerate err: %v", err)
	}
	if text != "a fresh take on migrations" {
		t.Fatalf("text = %q", text)
	}

	messages, _ := store.Messages(ctx, conv.ID)
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(messages))
	}
	if messages[0].ID != userMsg.ID || messages[0].Content != "Explain migrations" {
		t.Fatalf("user message changed: %+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant || messages[1].ID == assistantMsg.ID {
		t.Fatalf("expected a new assistant message, got %+v", messages[1])
	}

	// History sent upstream ends with the user turn, no duplicate.
	req := primary.lastRequest()
	if len(req.History) != 1 || req.History[0].Content != "Explain migrations" {
		t.Fatalf("history = %+v", req.History)
	}
}
