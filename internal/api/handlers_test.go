package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/cited-answers/internal/auth"
	"gwi.com/cited-answers/internal/core"
	"gwi.com/cited-answers/internal/resolver"
	"gwi.com/cited-answers/internal/store"
)

const testSecret = "test-secret"

type stubEmbedder struct{}

func (stubEmbedder) GetEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubCompleter struct{}

func (stubCompleter) GetChatCompletion(context.Context, []*genai.Content) (string, error) {
	return "Restart the router [doc1].", nil
}

type testServer struct {
	*httptest.Server
	chat *core.ChatService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateDocument(&store.Document{
		Title: "Router guide", URL: "https://docs.example/router", Content: "Unplug it.", Embedding: []float32{1, 0},
	}))

	rag, err := core.NewRAGService(db, stubEmbedder{}, stubCompleter{}, logger)
	require.NoError(t, err)
	chat := core.NewChatService(db, rag, nil, 2, logger)

	content := resolver.FetcherFunc(func(_ context.Context, url, title string) (resolver.Content, error) {
		switch url {
		case "https://docs.example/router":
			return resolver.Content{Content: "Unplug it.", Title: title}, nil
		case "https://docs.example/missing":
			return resolver.Content{}, core.ErrContentNotFound
		default:
			return resolver.Content{}, errors.New("search service returned status 502")
		}
	})

	settings := FrontendSettings{FeedbackEnabled: true, SanitizeAnswer: true, MarkerGrammar: "doc", HistoryPageSize: 2}
	h := NewAPIHandler(chat, content, settings, testSecret, logger)
	srv := httptest.NewServer(NewRouter(h, []string{"*"}, logger))
	t.Cleanup(srv.Close)
	t.Cleanup(chat.WaitForTitles)
	return &testServer{Server: srv, chat: chat}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		token, err := auth.GenerateJWT(testSecret, user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPublicRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = srv.do(t, http.MethodGet, "/api/frontend_settings", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["feedback_enabled"])
	assert.Equal(t, true, body["sanitize_answer"])
	assert.Equal(t, "doc", body["marker_grammar"])

	resp, _ = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/api/history/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/history/list", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)
}

func TestConversationFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodPost, "/api/history/generate", "alice", AskRequest{Content: "router down"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	convID := body["conversation_id"].(string)
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	answer := messages[1].(map[string]interface{})
	assert.Equal(t, "Restart the router [doc1].", answer["content"])
	require.Len(t, answer["citations"], 1)
	srv.chat.WaitForTitles()

	resp, body = srv.do(t, http.MethodPost, "/api/conversation", "alice", AskRequest{ConversationID: convID, Content: "still down"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, convID, body["conversation_id"])

	resp, _ = srv.do(t, http.MethodPost, "/api/conversation", "alice", AskRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPost, "/api/conversation", "bob", AskRequest{ConversationID: convID, Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPost, "/api/history/read", "alice", ConversationIDRequest{ConversationID: convID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["messages"], 4)
	assert.Equal(t, "router down", body["title"])

	resp, _ = srv.do(t, http.MethodPost, "/api/history/read", "alice", ConversationIDRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPost, "/api/history/rename", "alice", RenameRequest{ConversationID: convID, Title: "Outage"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = srv.do(t, http.MethodPost, "/api/history/rename", "bob", RenameRequest{ConversationID: convID, Title: "Mine"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = srv.do(t, http.MethodDelete, "/api/history/delete", "alice", ConversationIDRequest{ConversationID: convID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, convID, body["conversation_id"])
	resp, _ = srv.do(t, http.MethodDelete, "/api/history/delete", "alice", ConversationIDRequest{ConversationID: convID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBulkHistoryHandlers(t *testing.T) {
	srv := newTestServer(t)

	var ids []string
	for i := 0; i < 2; i++ {
		resp, body := srv.do(t, http.MethodPost, "/api/history/generate", "alice", AskRequest{Content: "router down"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, body["conversation_id"].(string))
	}
	srv.chat.WaitForTitles()

	resp, body := srv.do(t, http.MethodPost, "/api/history/clear", "alice", ConversationIDRequest{ConversationID: ids[0]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ids[0], body["conversation_id"])
	resp, body = srv.do(t, http.MethodPost, "/api/history/read", "alice", ConversationIDRequest{ConversationID: ids[0]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["messages"])

	resp, _ = srv.do(t, http.MethodPost, "/api/history/clear", "alice", ConversationIDRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = srv.do(t, http.MethodPost, "/api/history/clear", "bob", ConversationIDRequest{ConversationID: ids[1]})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/api/history/delete_all", "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = srv.do(t, http.MethodDelete, "/api/history/delete_all", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["message"], "alice")
	resp, _ = srv.do(t, http.MethodPost, "/api/history/read", "alice", ConversationIDRequest{ConversationID: ids[1]})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryListPaging(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		resp, _ := srv.do(t, http.MethodPost, "/api/history/generate", "alice", AskRequest{Content: "q"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	srv.chat.WaitForTitles()

	list := func(query string) (int, []interface{}) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/history/list"+query, nil)
		token, _ := auth.GenerateJWT(testSecret, "alice", time.Hour)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out []interface{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, page := list("")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, page, 2)

	status, page = list("?offset=2")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, page, 1)

	status, _ = list("?offset=-1")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMessageFeedbackHandler(t *testing.T) {
	srv := newTestServer(t)
	_, body := srv.do(t, http.MethodPost, "/api/history/generate", "alice", AskRequest{Content: "router down"})
	answerID := body["messages"].([]interface{})[1].(map[string]interface{})["id"].(string)

	cases := []struct {
		name   string
		user   string
		req    FeedbackRequest
		status int
	}{
		{"missing id", "alice", FeedbackRequest{MessageFeedback: "positive"}, http.StatusBadRequest},
		{"missing value", "alice", FeedbackRequest{MessageID: answerID}, http.StatusBadRequest},
		{"unknown value", "alice", FeedbackRequest{MessageID: answerID, MessageFeedback: "meh"}, http.StatusBadRequest},
		{"unknown message", "alice", FeedbackRequest{MessageID: "nope", MessageFeedback: "positive"}, http.StatusNotFound},
		{"other user", "bob", FeedbackRequest{MessageID: answerID, MessageFeedback: "positive"}, http.StatusNotFound},
		{"reasons", "alice", FeedbackRequest{MessageID: answerID, MessageFeedback: "missing_citation,other_unhelpful"}, http.StatusOK},
		{"neutral", "alice", FeedbackRequest{MessageID: answerID, MessageFeedback: "neutral"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/api/history/message_feedback", tc.user, tc.req)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusOK {
				assert.Equal(t, answerID, body["message_id"])
				assert.Contains(t, body["message"], tc.req.MessageFeedback)
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestFetchCitationContentHandler(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodPost, "/api/fetch-citation-content", "alice", CitationContentRequest{URL: "https://docs.example/router", Title: "Router guide"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Unplug it.", body["content"])
	assert.Equal(t, "Router guide", body["title"])

	resp, body = srv.do(t, http.MethodPost, "/api/fetch-citation-content", "alice", CitationContentRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "URL is required", body["error"])

	resp, _ = srv.do(t, http.MethodPost, "/api/fetch-citation-content", "alice", CitationContentRequest{URL: "https://docs.example/missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPost, "/api/fetch-citation-content", "alice", CitationContentRequest{URL: "https://search.example/x"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["error"], "502")
}
