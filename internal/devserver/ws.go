package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket upgrades the connection, announces presence and pumps
// client commands until the socket closes.
func (s *Server) handleWebsocket(c *gin.Context) {
	token := bearerToken(c)
	userID, ok := s.tokens[token]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{conn: conn, userID: userID, joined: make(map[string]struct{})}
	s.hub.add(cl)
	s.hub.BroadcastAll(models.NewEvent(models.EventPresenceOnline, "",
		models.PresencePayload{UserID: userID, LastSeen: time.Now()}, time.Now()))

	go s.readPump(cl)
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.hub.remove(cl)
		cl.conn.Close()
		s.hub.BroadcastAll(models.NewEvent(models.EventPresenceOffline, "",
			models.PresencePayload{UserID: cl.userID, LastSeen: time.Now()}, time.Now()))
	}()

	for {
		var cmd models.Command
		if err := cl.conn.ReadJSON(&cmd); err != nil {
			return
		}

		switch cmd.Action {
		case models.ActionJoin:
			member, err := s.store.isParticipant(cmd.ConversationID, cl.userID)
			if err != nil || !member {
				continue
			}
			cl.join(cmd.ConversationID)
		case models.ActionLeave:
			cl.leave(cmd.ConversationID)
		case models.ActionTyping:
			if !cl.hasJoined(cmd.ConversationID) {
				continue
			}
			payload := models.TypingPayload{
				ConversationID: cmd.ConversationID,
				UserID:         cl.userID,
				IsTyping:       cmd.IsTyping,
			}
			ev := models.NewEvent(models.EventPresenceTyping, cmd.ConversationID, payload, time.Now())
			s.hub.BroadcastToConversation(cmd.ConversationID, ev, cl)
		}
	}
}

// bearerToken reads the token from the Authorization header or, for websocket
// clients that cannot set headers, the token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
