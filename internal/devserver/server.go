// Package devserver is an in-memory chat backend implementing the REST and
// websocket boundaries the sync client consumes. It backs the demo binary and
// the integration-style tests; it persists nothing.
package devserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const defaultPageSize = 50

// Server wires the store, the hub and the HTTP surface together.
type Server struct {
	store  *store
	hub    *Hub
	tokens map[string]int
}

// NewServer constructs a Server. tokens maps bearer tokens to user ids.
func NewServer(tokens map[string]int) *Server {
	return &Server{
		store:  newStore(time.Now),
		hub:    NewHub(),
		tokens: tokens,
	}
}

// SeedConversation creates a conversation directly in the store, bypassing the
// API. Intended for demo and test setup.
func (s *Server) SeedConversation(kind models.ConversationKind, title string, participantIDs ...int) models.Conversation {
	return s.store.createConversation(kind, title, participantIDs)
}

// SeedMessage appends a confirmed message directly to the store.
func (s *Server) SeedMessage(conversationID string, authorID int, content string) (models.Message, error) {
	return s.store.appendMessage(conversationID, authorID, content)
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync-devserver"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWebsocket)

	authed := router.Group("/", s.authMiddleware())
	authed.GET("/conversations", s.listConversations)
	authed.POST("/conversations", s.createConversation)
	authed.GET("/conversations/:conversation_id/messages", s.getMessages)
	authed.POST("/conversations/:conversation_id/messages", s.postMessage)
	authed.POST("/conversations/:conversation_id/read", s.markRead)

	return router
}

// authMiddleware resolves the bearer token against the token table.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, ok := s.tokens[parts[1]]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.GetInt("userID")
	conversations := s.store.listConversations(userID)
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.ParticipantID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	conv := s.store.createConversation(models.KindDirect, "", []int{userID, req.ParticipantID})
	s.hub.BroadcastToUsers(conv.ParticipantIDs, models.NewEvent(models.EventConversationCreated, conv.ID, conv, time.Now()))
	c.JSON(http.StatusOK, conv)
}

func (s *Server) getMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetInt("userID")

	member, err := s.store.isParticipant(conversationID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	pageSize := defaultPageSize
	if raw := c.Query("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	messages, nextCursor := s.store.page(conversationID, c.Query("cursor"), pageSize)
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "next_cursor": nextCursor})
}

func (s *Server) postMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetInt("userID")

	member, err := s.store.isParticipant(conversationID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	var req struct {
		Content      string `json:"content" binding:"required"`
		ClientTempID string `json:"client_temp_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.store.appendMessage(conversationID, userID, req.Content)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	s.hub.BroadcastToConversation(conversationID, models.NewEvent(models.EventMessageCreated, conversationID, msg, msg.CreatedAt), nil)
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) markRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetInt("userID")

	var req struct {
		MessageID string `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.markRead(conversationID, userID, req.MessageID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
