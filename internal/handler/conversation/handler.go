package conversation

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/railsbot/railsbot/internal/model/chat"
	"github.com/railsbot/railsbot/internal/service/ai"
	chatservice "github.com/railsbot/railsbot/internal/service/chat"
	"github.com/railsbot/railsbot/pkg/utils"
)

const perPage = 15

// Handler exposes conversations and their messages over HTTP.
type Handler struct {
	chatSvc *chatservice.Service
	aiSvc   *ai.Service
}

func New(chatSvc *chatservice.Service, aiSvc *ai.Service) *Handler {
	return &Handler{chatSvc: chatSvc, aiSvc: aiSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations", h.handleList)
	r.Get("/conversations/{conversationID}", h.handleShow)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
	r.Post("/conversations/{conversationID}/messages", h.handleCreateMessage)
	r.Post("/conversations/{conversationID}/messages/{messageID}/retry", h.handleRetryMessage)
	r.Patch("/conversations/{conversationID}/messages/{messageID}/feedback", h.handleFeedback)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.CreateConversation(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 1 {
			page = parsed
		}
	}

	conversations, hasMore, err := h.chatSvc.ListConversations(r.Context(), page, perPage)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"hasMore":       hasMore,
		"nextPage":      page + 1,
	})
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := urlID(w, r, "conversationID")
	if !ok {
		return
	}

	conv, err := h.chatSvc.GetConversation(r.Context(), conversationID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	messages, err := h.chatSvc.Messages(r.Context(), conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := urlID(w, r, "conversationID")
	if !ok {
		return
	}

	if err := h.chatSvc.DeleteConversation(r.Context(), conversationID); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleCreateMessage runs the primary response path. The request blocks
// until a completion or exhaustion; on exhaustion the classified reply is
// persisted so the thread always receives an assistant bubble.
func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := urlID(w, r, "conversationID")
	if !ok {
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusUnprocessableEntity, "content is required")
		return
	}

	if _, err := h.chatSvc.GetConversation(r.Context(), conversationID); err != nil {
		respondStoreError(w, err)
		return
	}

	text, err := h.aiSvc.Respond(r.Context(), conversationID, payload.Content)
	if err != nil {
		h.respondCompletionError(w, r, conversationID, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"content": text})
}

// handleRetryMessage discards an assistant message and regenerates it from
// the latest user message that precedes it. The user turn is never
// duplicated.
func (h *Handler) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := urlID(w, r, "conversationID")
	if !ok {
		return
	}
	messageID, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}

	msg, err := h.chatSvc.GetMessage(r.Context(), messageID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if msg.ConversationID != conversationID || msg.Role != chat.RoleAssistant {
		utils.RespondError(w, http.StatusUnprocessableEntity, "only assistant messages can be retried")
		return
	}

	userMsg, err := h.chatSvc.LatestUserMessageBefore(r.Context(), conversationID, messageID)
	if err != nil {
		if errors.Is(err, chatservice.ErrMessageNotFound) {
			utils.RespondError(w, http.StatusUnprocessableEntity, "no user message precedes this reply")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.chatSvc.DeleteMessage(r.Context(), messageID); err != nil {
		respondStoreError(w, err)
		return
	}

	text, err := h.aiSvc.Regenerate(r.Context(), conversationID, userMsg.Content)
	if err != nil {
		h.respondCompletionError(w, r, conversationID, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"content": text})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := urlID(w, r, "conversationID")
	if !ok {
		return
	}
	messageID, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}

	var payload struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.GetMessage(r.Context(), messageID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if msg.ConversationID != conversationID {
		utils.RespondError(w, http.StatusNotFound, chatservice.ErrMessageNotFound.Error())
		return
	}

	if err := h.chatSvc.SetFeedback(r.Context(), messageID, payload.Feedback); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondCompletionError turns provider exhaustion into a persisted canned
// reply; anything else is a plain server error.
func (h *Handler) respondCompletionError(w http.ResponseWriter, r *http.Request, conversationID int64, err error) {
	var exhausted *ai.ExhaustedError
	if !errors.As(err, &exhausted) {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[chat] all providers failed for conversation %d: %v", conversationID, err)
	reply := ai.Classify(exhausted.Last)
	if _, saveErr := h.chatSvc.SaveMessage(r.Context(), conversationID, chat.RoleAssistant, reply); saveErr != nil {
		utils.RespondError(w, http.StatusInternalServerError, saveErr.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"content": reply})
}

func respondStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chatservice.ErrConversationNotFound), errors.Is(err, chatservice.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatservice.ErrInvalidRole), errors.Is(err, chatservice.ErrEmptyContent),
		errors.Is(err, chatservice.ErrInvalidFeedback):
		status = http.StatusUnprocessableEntity
	}
	utils.RespondError(w, status, err.Error())
}

func urlID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}
