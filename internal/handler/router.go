package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/railsbot/railsbot/internal/handler/conversation"
	middlewarePkg "github.com/railsbot/railsbot/internal/middleware"
	"github.com/railsbot/railsbot/internal/service/ai"
	chatservice "github.com/railsbot/railsbot/internal/service/chat"
	"github.com/railsbot/railsbot/pkg/utils"
)

// NewRouter wires HTTP routes to core services. An empty authPassword
// disables basic auth entirely.
func NewRouter(chatSvc *chatservice.Service, aiSvc *ai.Service, authPassword string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	if authPassword != "" {
		r.Use(middlewarePkg.BasicAuth(authPassword))
	}

	conversationHandler := conversation.New(chatSvc, aiSvc)

	r.Route("/api", func(api chi.Router) {
		conversationHandler.RegisterRoutes(api)
	})

	r.Get("/up", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
