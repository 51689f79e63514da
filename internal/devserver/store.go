package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
)

var (
	errConversationNotFound = errors.New("conversation not found")
	errNotParticipant       = errors.New("not a participant")
)

// store holds the dev server's in-memory chat state.
type store struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	reads         map[string]map[int]string
	now           func() time.Time
}

func newStore(now func() time.Time) *store {
	return &store{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		reads:         make(map[string]map[int]string),
		now:           now,
	}
}

func (s *store) createConversation(kind models.ConversationKind, title string, participantIDs []int) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == models.KindDirect && len(participantIDs) == 2 {
		if conv, ok := s.findDirectLocked(participantIDs[0], participantIDs[1]); ok {
			return conv
		}
	}

	conv := models.Conversation{
		ID:             uuid.NewString(),
		Kind:           kind,
		Title:          title,
		ParticipantIDs: append([]int(nil), participantIDs...),
		CreatedAt:      s.now(),
	}
	s.conversations[conv.ID] = conv
	return conv
}

func (s *store) findDirectLocked(a, b int) (models.Conversation, bool) {
	for _, conv := range s.conversations {
		if conv.Kind != models.KindDirect || len(conv.ParticipantIDs) != 2 {
			continue
		}
		p := conv.ParticipantIDs
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func (s *store) conversation(id string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, errConversationNotFound
	}
	return conv, nil
}

func (s *store) isParticipant(conversationID string, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, errConversationNotFound
	}
	for _, id := range conv.ParticipantIDs {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// listConversations returns the user's conversations with last-message
// previews, most recently active first.
func (s *store) listConversations(userID int) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Conversation
	for _, conv := range s.conversations {
		member := false
		for _, id := range conv.ParticipantIDs {
			if id == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		if msgs := s.messages[conv.ID]; len(msgs) > 0 {
			conv.LastMessage = msgs[len(msgs)-1].Summary()
		}
		out = append(out, conv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return activityTime(out[i]).After(activityTime(out[j]))
	})
	return out
}

func activityTime(conv models.Conversation) time.Time {
	if conv.LastMessage != nil {
		return conv.LastMessage.Timestamp
	}
	return conv.CreatedAt
}

func (s *store) appendMessage(conversationID string, authorID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return models.Message{}, errConversationNotFound
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		CreatedAt:      s.now(),
		DeliveryState:  models.DeliveryConfirmed,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

// page returns up to pageSize messages older than the cursor message id, in
// ascending order. The next cursor is the id of the oldest returned message,
// empty once history is exhausted.
func (s *store) page(conversationID, cursor string, pageSize int) ([]models.Message, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	end := len(msgs)
	if cursor != "" {
		for i, m := range msgs {
			if m.ID == cursor {
				end = i
				break
			}
		}
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	page := make([]models.Message, end-start)
	copy(page, msgs[start:end])

	nextCursor := ""
	if start > 0 && len(page) > 0 {
		nextCursor = page[0].ID
	}
	return page, nextCursor
}

func (s *store) markRead(conversationID string, userID int, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return errConversationNotFound
	}
	if s.reads[conversationID] == nil {
		s.reads[conversationID] = make(map[int]string)
	}
	s.reads[conversationID][userID] = messageID
	return nil
}
