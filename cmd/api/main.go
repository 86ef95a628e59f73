package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/railsbot/railsbot/internal/config"
	"github.com/railsbot/railsbot/internal/handler"
	"github.com/railsbot/railsbot/internal/provider"
	"github.com/railsbot/railsbot/internal/service/ai"
	chatservice "github.com/railsbot/railsbot/internal/service/chat"
	"github.com/railsbot/railsbot/internal/service/feed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := chatservice.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer store.Close()

	feedSvc := feed.NewService(feed.Config{
		BlueskyURL: cfg.Feed.BlueskyURL,
		AtomURL:    cfg.Feed.AtomURL,
		TTL:        cfg.Feed.TTL,
	})

	providers := buildProviders(cfg.AI)
	if len(providers) == 0 {
		log.Println("warning: no provider API keys configured, completions will fail")
	}

	aiSvc := ai.NewService(store, feedSvc, providers...)
	router := handler.NewRouter(store, aiSvc, cfg.Auth.Password)

	startServer(ctx, cfg.Server, router)
}

// buildProviders assembles the fallback chain in priority order: Gemini
// first, Anthropic second.
func buildProviders(cfg config.AIConfig) []provider.Client {
	var providers []provider.Client
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, provider.NewGemini(cfg.GeminiAPIKey))
		log.Println("Gemini provider enabled")
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, provider.NewAnthropic(cfg.AnthropicAPIKey))
		log.Println("Anthropic provider enabled")
	}
	return providers
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("RailsBot backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
