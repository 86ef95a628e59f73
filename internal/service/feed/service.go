package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBlueskyURL = "https://public.api.bsky.app/xrpc/app.bsky.feed.getAuthorFeed?actor=dhh.bsky.social&limit=10"
	defaultAtomURL    = "https://world.hey.com/dhh/feed.atom"
	defaultTTL        = time.Hour

	maxPosts       = 15
	maxBlogEntries = 5

	fetchTimeout = 60 * time.Second
)

// Config overrides the feed sources; zero values keep the defaults.
type Config struct {
	BlueskyURL string
	AtomURL    string
	TTL        time.Duration
}

// Service aggregates short text snippets from two independent sources and
// caches one process-wide snapshot for the TTL window.
type Service struct {
	blueskyURL string
	atomURL    string
	ttl        time.Duration
	client     *http.Client

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  []string
	expiresAt time.Time
}

func NewService(cfg Config) *Service {
	svc := &Service{
		blueskyURL: cfg.BlueskyURL,
		atomURL:    cfg.AtomURL,
		ttl:        cfg.TTL,
		client:     &http.Client{Timeout: fetchTimeout},
	}
	if svc.blueskyURL == "" {
		svc.blueskyURL = defaultBlueskyURL
	}
	if svc.atomURL == "" {
		svc.atomURL = defaultAtomURL
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTTL
	}
	return svc
}

// Fetch returns the current snapshot, refreshing it when the TTL has
// elapsed. It never fails: a broken source degrades to a partial (possibly
// empty) result, which is cached like any other. Concurrent misses coalesce
// into a single refresh; readers arriving mid-refresh may still see the
// stale snapshot.
func (s *Service) Fetch(ctx context.Context) []string {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot
	}
	s.mu.RUnlock()

	result, _, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx), nil
	})
	snapshot, _ := result.([]string)
	return snapshot
}

func (s *Service) refresh(ctx context.Context) []string {
	posts := s.fetchBluesky(ctx)
	posts = append(posts, s.fetchBlog(ctx)...)
	if len(posts) > maxPosts {
		posts = posts[:maxPosts]
	}

	s.mu.Lock()
	s.snapshot = posts
	s.expiresAt = time.Now().Add(s.ttl)
	s.mu.Unlock()

	return posts
}

func (s *Service) fetchBluesky(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blueskyURL, nil)
	if err != nil {
		log.Printf("[feed] bluesky request failed: %v", err)
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[feed] bluesky fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	var payload struct {
		Feed []struct {
			Post struct {
				Record struct {
					Text string `json:"text"`
				} `json:"record"`
			} `json:"post"`
		} `json:"feed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("[feed] bluesky decode failed: %v", err)
		return nil
	}

	var posts []string
	for _, item := range payload.Feed {
		text := strings.TrimSpace(item.Post.Record.Text)
		if text == "" {
			continue
		}
		posts = append(posts, "[Bluesky] "+text)
	}
	return posts
}

func (s *Service) fetchBlog(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.atomURL, nil)
	if err != nil {
		log.Printf("[feed] blog request failed: %v", err)
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[feed] blog fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		log.Printf("[feed] blog parse failed: %v", err)
		return nil
	}

	// First 5 entries are considered; blank titles among them are dropped.
	var titles []string
	for i, entry := range parsed.Items {
		if i == maxBlogEntries {
			break
		}
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}
		titles = append(titles, "[Blog] "+title)
	}
	return titles
}
