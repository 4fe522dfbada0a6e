package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/auth"
	"gwi.com/cited-answers/internal/core"
	"gwi.com/cited-answers/internal/resolver"
	"gwi.com/cited-answers/internal/store"
)

const maxBodyBytes = 1 << 20

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext returns the authenticated user id set by JWTAuthMiddleware.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// FrontendSettings are the UI switches served to clients.
type FrontendSettings struct {
	FeedbackEnabled bool   `json:"feedback_enabled"`
	SanitizeAnswer  bool   `json:"sanitize_answer"`
	MarkerGrammar   string `json:"marker_grammar"`
	HistoryPageSize int    `json:"history_page_size"`
}

type APIHandler struct {
	chatService    *core.ChatService
	contentService resolver.Fetcher
	settings       FrontendSettings
	jwtSecret      string
	logger         *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, content resolver.Fetcher, settings FrontendSettings, jwtSecret string, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		chatService:    cs,
		contentService: content,
		settings:       settings,
		jwtSecret:      jwtSecret,
		logger:         logger,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			h.logger.Debug("Rejected token", zap.Error(err))
			respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) FrontendSettingsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.settings)
}

// ConversationResponse is a conversation with its messages.
type ConversationResponse struct {
	ConversationID string          `json:"conversation_id"`
	Title          *string         `json:"title,omitempty"`
	Messages       []store.Message `json:"messages"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	conversations, err := h.chatService.ListConversations(userID, offset)
	if err != nil {
		h.logger.Error("Error listing conversations", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	respondJSON(w, http.StatusOK, conversations)
}

type ConversationIDRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *APIHandler) ReadConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req ConversationIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	conv, messages, err := h.chatService.GetConversation(req.ConversationID, userID)
	if err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("Conversation %s was not found", req.ConversationID))
			return
		}
		h.logger.Error("Error reading conversation", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to read conversation")
		return
	}
	respondJSON(w, http.StatusOK, ConversationResponse{ConversationID: conv.ID, Title: conv.Title, Messages: messages})
}

type AskRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

// GenerateConversationHandler starts a new conversation from its first message.
func (h *APIHandler) GenerateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ConversationID = ""
	h.ask(w, r, req, http.StatusCreated)
}

// ConversationHandler continues a conversation, or starts one when no id is given.
func (h *APIHandler) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.ask(w, r, req, http.StatusOK)
}

func (h *APIHandler) ask(w http.ResponseWriter, r *http.Request, req AskRequest, status int) {
	userID := UserIDFromContext(r.Context())
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "Message content cannot be empty")
		return
	}

	conv, messages, err := h.chatService.Ask(r.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrConversationNotFound):
			respondError(w, http.StatusNotFound, fmt.Sprintf("Conversation %s was not found", req.ConversationID))
		case errors.Is(err, core.ErrGenerationDisabled):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error("Error answering message", zap.String("user_id", userID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to answer message")
		}
		return
	}
	respondJSON(w, status, ConversationResponse{ConversationID: conv.ID, Title: conv.Title, Messages: messages})
}

type RenameRequest struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

func (h *APIHandler) RenameConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "conversation_id and title are required")
		return
	}

	if err := h.chatService.RenameConversation(req.ConversationID, userID, strings.TrimSpace(req.Title)); err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("Conversation %s was not found", req.ConversationID))
			return
		}
		h.logger.Error("Error renaming conversation", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to rename conversation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"conversation_id": req.ConversationID, "title": strings.TrimSpace(req.Title)})
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req ConversationIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	if err := h.chatService.DeleteConversation(req.ConversationID, userID); err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("Conversation %s was not found", req.ConversationID))
			return
		}
		h.logger.Error("Error deleting conversation", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message":         "Successfully deleted conversation and messages",
		"conversation_id": req.ConversationID,
	})
}

func (h *APIHandler) DeleteAllConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	if _, err := h.chatService.DeleteAllConversations(userID); err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("No conversations for %s were found", userID))
			return
		}
		h.logger.Error("Error deleting conversation history", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to delete conversations")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Successfully deleted conversation and messages for user %s", userID),
	})
}

func (h *APIHandler) ClearMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req ConversationIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	if err := h.chatService.ClearMessages(req.ConversationID, userID); err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("Conversation %s was not found", req.ConversationID))
			return
		}
		h.logger.Error("Error clearing messages", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to clear messages")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message":         "Successfully deleted messages in conversation",
		"conversation_id": req.ConversationID,
	})
}

type FeedbackRequest struct {
	MessageID       string `json:"message_id"`
	MessageFeedback string `json:"message_feedback"`
}

func (h *APIHandler) MessageFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		respondError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	if req.MessageFeedback == "" {
		respondError(w, http.StatusBadRequest, "message_feedback is required")
		return
	}

	err := h.chatService.SetMessageFeedback(userID, req.MessageID, req.MessageFeedback)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidFeedback):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, core.ErrMessageNotFound):
			respondError(w, http.StatusNotFound, fmt.Sprintf("Unable to update message %s. It either does not exist or the user does not have access to it.", req.MessageID))
		default:
			h.logger.Error("Error setting feedback", zap.String("message_id", req.MessageID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to set feedback")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message":    "Successfully updated message with feedback " + req.MessageFeedback,
		"message_id": req.MessageID,
	})
}

type CitationContentRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (h *APIHandler) FetchCitationContentHandler(w http.ResponseWriter, r *http.Request) {
	var req CitationContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "URL is required")
		return
	}

	content, err := h.contentService.FetchContent(r.Context(), req.URL, req.Title)
	if err != nil {
		if errors.Is(err, core.ErrContentNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Warn("Error fetching citation content", zap.String("url", req.URL), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, content)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
