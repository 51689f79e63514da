package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1})
	router := server.Router()

	w := performRequest(router, http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, http.MethodGet, "/conversations", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListConversationsIsScopedToUser(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1, "bob-token": 2})
	mine := server.SeedConversation(models.KindDirect, "", 1, 2)
	server.SeedConversation(models.KindDirect, "", 2, 3)
	router := server.Router()

	w := performRequest(router, http.MethodGet, "/conversations", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, mine.ID, resp.Conversations[0].ID)
}

func TestPostMessageRequiresMembership(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1, "carol-token": 3})
	conv := server.SeedConversation(models.KindDirect, "", 1, 2)
	router := server.Router()

	w := performRequest(router, http.MethodPost, "/conversations/"+conv.ID+"/messages", "carol-token",
		map[string]string{"content": "let me in"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(router, http.MethodPost, "/conversations/missing/messages", "alice-token",
		map[string]string{"content": "hello?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessagePagination(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1})
	conv := server.SeedConversation(models.KindTeam, "general", 1, 2)
	var seeded []models.Message
	for _, content := range []string{"one", "two", "three"} {
		msg, err := server.SeedMessage(conv.ID, 2, content)
		require.NoError(t, err)
		seeded = append(seeded, msg)
	}
	router := server.Router()

	w := performRequest(router, http.MethodGet, "/conversations/"+conv.ID+"/messages?page_size=2", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var first struct {
		Messages   []models.Message `json:"messages"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "two", first.Messages[0].Content)
	assert.Equal(t, "three", first.Messages[1].Content)
	require.Equal(t, seeded[1].ID, first.NextCursor)

	w = performRequest(router, http.MethodGet,
		"/conversations/"+conv.ID+"/messages?page_size=2&cursor="+first.NextCursor, "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var second struct {
		Messages   []models.Message `json:"messages"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "one", second.Messages[0].Content)
	assert.Empty(t, second.NextCursor)
}

func TestCreateConversationDeduplicatesDirectPairs(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1})
	router := server.Router()

	w := performRequest(router, http.MethodPost, "/conversations", "alice-token",
		map[string]int{"participant_id": 2})
	require.Equal(t, http.StatusOK, w.Code)
	var firstConv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &firstConv))

	w = performRequest(router, http.MethodPost, "/conversations", "alice-token",
		map[string]int{"participant_id": 2})
	require.Equal(t, http.StatusOK, w.Code)
	var secondConv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &secondConv))

	assert.Equal(t, firstConv.ID, secondConv.ID)

	w = performRequest(router, http.MethodPost, "/conversations", "alice-token",
		map[string]int{"participant_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkReadRecordsPosition(t *testing.T) {
	server := NewServer(map[string]int{"alice-token": 1})
	conv := server.SeedConversation(models.KindDirect, "", 1, 2)
	msg, err := server.SeedMessage(conv.ID, 2, "hello")
	require.NoError(t, err)
	router := server.Router()

	w := performRequest(router, http.MethodPost, "/conversations/"+conv.ID+"/read", "alice-token",
		map[string]string{"message_id": msg.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(router, http.MethodPost, "/conversations/missing/read", "alice-token",
		map[string]string{"message_id": msg.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
