package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/feedback"
	"gwi.com/cited-answers/internal/metrics"
	"gwi.com/cited-answers/internal/store"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidFeedback      = errors.New("invalid feedback value")
	ErrGenerationDisabled   = errors.New("answer generation is not configured")
)

const (
	titleTimeout     = 30 * time.Second
	fallbackTitleLen = 40

	generationFailedAnswer = "I'm sorry, I encountered an error while processing your request."
)

type Titler interface {
	GenerateTitle(ctx context.Context, conversationStart string) (string, error)
}

type ChatService struct {
	dbStore    *store.SQLiteStore
	ragService *RAGService // nil when no model is configured
	titler     Titler      // For title generation, optional
	pageSize   int
	logger     *zap.Logger

	titles sync.WaitGroup
}

func NewChatService(db *store.SQLiteStore, rag *RAGService, titler Titler, pageSize int, logger *zap.Logger) *ChatService {
	return &ChatService{
		dbStore:    db,
		ragService: rag,
		titler:     titler,
		pageSize:   pageSize,
		logger:     logger,
	}
}

func (s *ChatService) PageSize() int { return s.pageSize }

func (s *ChatService) ListConversations(userID string, offset int) ([]store.Conversation, error) {
	if offset < 0 {
		offset = 0
	}
	return s.dbStore.ListConversations(userID, offset, s.pageSize)
}

func (s *ChatService) GetConversation(conversationID, userID string) (*store.Conversation, []store.Message, error) {
	conv, err := s.dbStore.GetConversation(conversationID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, nil, ErrConversationNotFound
	}

	messages, err := s.dbStore.GetMessages(conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for conversation: %w", err)
	}
	return conv, messages, nil
}

// Ask stores the user's message, generates a cited answer and stores it. An empty
// conversationID starts a new conversation. The returned messages are the user message
// followed by the answer.
func (s *ChatService) Ask(ctx context.Context, userID, conversationID, content string) (*store.Conversation, []store.Message, error) {
	if s.ragService == nil {
		return nil, nil, ErrGenerationDisabled
	}

	var conv *store.Conversation
	var history []store.Message
	var err error
	if conversationID == "" {
		conv, err = s.dbStore.CreateConversation(userID, nil) // Title is generated after the first exchange
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create conversation in DB: %w", err)
		}
	} else {
		conv, err = s.dbStore.GetConversation(conversationID, userID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to verify conversation: %w", err)
		}
		if conv == nil {
			return nil, nil, ErrConversationNotFound
		}
		history, err = s.dbStore.GetLastNMessages(conv.ID, HistoryWindow)
		if err != nil {
			s.logger.Warn("Proceeding without history", zap.String("conversation_id", conv.ID), zap.Error(err))
			history = nil
		}
	}

	userMsg := store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        content,
	}
	if err := s.dbStore.CreateMessage(&userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to store user message: %w", err)
	}

	answer, err := s.ragService.GenerateResponse(ctx, history, content)
	if err != nil {
		s.logger.Error("Error generating answer", zap.String("conversation_id", conv.ID), zap.Error(err))
		metrics.AnswersGenerated.WithLabelValues("error").Inc()
		answer = &GeneratedAnswer{Content: generationFailedAnswer}
	} else {
		metrics.AnswersGenerated.WithLabelValues("ok").Inc()
		metrics.AnswerCitations.Observe(float64(len(answer.Citations)))
	}

	assistantMsg := store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        answer.Content,
		Citations:      answer.Citations,
	}
	if err := s.dbStore.CreateMessage(&assistantMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to store answer: %w", err)
	}

	if conv.Title == nil || *conv.Title == "" {
		s.titles.Add(1)
		go s.generateAndSaveTitle(conv.ID, userID, content)
	}

	return conv, []store.Message{userMsg, assistantMsg}, nil
}

func (s *ChatService) RenameConversation(conversationID, userID, title string) error {
	err := s.dbStore.RenameConversation(conversationID, userID, title)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

func (s *ChatService) DeleteConversation(conversationID, userID string) error {
	err := s.dbStore.DeleteConversation(conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// DeleteAllConversations removes the user's whole history. A user with no
// conversations gets ErrConversationNotFound.
func (s *ChatService) DeleteAllConversations(userID string) (int, error) {
	n, err := s.dbStore.DeleteAllConversations(userID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrConversationNotFound
	}
	s.logger.Info("Deleted conversation history", zap.String("user_id", userID), zap.Int("conversations", n))
	return n, nil
}

// ClearMessages empties a conversation without deleting it.
func (s *ChatService) ClearMessages(conversationID, userID string) error {
	err := s.dbStore.ClearMessages(conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// SetMessageFeedback persists a feedback value for a message in one of the user's
// conversations. The value uses the same token grammar the feedback machine commits.
func (s *ChatService) SetMessageFeedback(userID, messageID, value string) error {
	if !feedback.ValidValue(value) {
		metrics.FeedbackUpdates.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, value)
	}
	err := s.dbStore.UpdateMessageFeedback(userID, messageID, value)
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.FeedbackUpdates.WithLabelValues("not_found").Inc()
		return ErrMessageNotFound
	case err != nil:
		metrics.FeedbackUpdates.WithLabelValues("error").Inc()
		return err
	}
	metrics.FeedbackUpdates.WithLabelValues("ok").Inc()
	return nil
}

// WaitForTitles blocks until background title generation has finished.
func (s *ChatService) WaitForTitles() {
	s.titles.Wait()
}

func (s *ChatService) generateAndSaveTitle(conversationID, userID, basisContent string) {
	defer s.titles.Done()

	title := fallbackTitle(basisContent)
	if s.titler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		generated, err := s.titler.GenerateTitle(ctx, basisContent)
		if err != nil {
			s.logger.Warn("Failed to generate title, using message prefix", zap.String("conversation_id", conversationID), zap.Error(err))
		} else if cleaned := CleanTitle(generated); cleaned != "" {
			title = cleaned
		}
	}

	if err := s.dbStore.RenameConversation(conversationID, userID, title); err != nil {
		s.logger.Warn("Failed to save generated title", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	s.logger.Debug("Saved conversation title", zap.String("conversation_id", conversationID), zap.String("title", title))
}

func fallbackTitle(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if utf8.RuneCountInString(line) <= fallbackTitleLen {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:fallbackTitleLen])) + "..."
}
