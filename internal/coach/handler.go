package coach

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lymhealth/coaching-engine/internal/http/middleware"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// Handler wires HTTP requests to the coaching service.
type Handler struct {
	service Service
	logger  *logging.Logger
}

// NewHandler creates a coaching handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Start handles POST /v1/coach/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode start request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if claims, ok := middleware.UserClaimsFromContext(r.Context()); ok {
		req.UserID = claims.Subject
		req.Tier = Tier(claims.Tier)
	}
	if req.UserID == "" {
		http.Error(w, "Missing user identity", http.StatusBadRequest)
		return
	}

	resp, err := h.service.StartConversation(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to start conversation", "error", err)
		http.Error(w, "Failed to start conversation", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// Message handles POST /v1/coach/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if claims, ok := middleware.UserClaimsFromContext(r.Context()); ok {
		req.UserID = claims.Subject
		req.Tier = Tier(claims.Tier)
	}
	if req.UserID == "" {
		http.Error(w, "Missing user identity", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "conversation_id and message are required", http.StatusBadRequest)
		return
	}
	if tz := r.Header.Get("X-User-Timezone"); tz != "" && req.Timezone == "" {
		req.Timezone = tz
	}

	resp, err := h.service.ProcessMessage(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to process message", "error", err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// History handles GET /v1/coach/history/{conversationID}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if conversationID == "" {
		http.Error(w, "Missing conversation id", http.StatusBadRequest)
		return
	}

	turns, err := h.service.GetHistory(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to load history", "error", err, "conversation_id", conversationID)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"turns":           turns,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
