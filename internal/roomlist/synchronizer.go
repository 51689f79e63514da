package roomlist

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// DefaultTypingDecay is how long a typing flag survives without a refreshing
// event.
const DefaultTypingDecay = 4 * time.Second

// Options tune a Synchronizer.
type Options struct {
	// TypingDecay overrides DefaultTypingDecay when positive.
	TypingDecay time.Duration
	// Clock overrides time.Now for tests.
	Clock func() time.Time
	// OnChange is invoked after every visible mutation.
	OnChange func()
}

type typingKey struct {
	conversationID string
	userID         int
}

// Synchronizer keeps the ordered conversation-summary list current as events
// arrive, independent of which conversation is open.
type Synchronizer struct {
	apiClient api.API
	userID    int
	decay     time.Duration
	clock     func() time.Time
	onChange  func()

	mu           sync.Mutex
	rooms        []models.ConversationSummary
	activeID     string
	typing       map[typingKey]bool
	typingTimers map[typingKey]*time.Timer
	online       map[int]bool
	lastSeen     map[int]time.Time
}

// NewSynchronizer constructs a Synchronizer for the session user identified by
// userID.
func NewSynchronizer(apiClient api.API, userID int, opts Options) *Synchronizer {
	decay := opts.TypingDecay
	if decay <= 0 {
		decay = DefaultTypingDecay
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	return &Synchronizer{
		apiClient:    apiClient,
		userID:       userID,
		decay:        decay,
		clock:        clock,
		onChange:     onChange,
		typing:       make(map[typingKey]bool),
		typingTimers: make(map[typingKey]*time.Timer),
		online:       make(map[int]bool),
		lastSeen:     make(map[int]time.Time),
	}
}

// Load performs the initial list fetch. On failure the list stays empty and
// the error is returned; no state is synthesized.
func (s *Synchronizer) Load(ctx context.Context) error {
	conversations, err := s.apiClient.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rooms = make([]models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		s.rooms = append(s.rooms, models.ConversationSummary{Conversation: conv})
	}
	s.sortLocked()
	s.mu.Unlock()
	s.onChange()
	return nil
}

// ApplyMessageEvent updates the matching conversation's last-message preview
// and re-sorts the list. Events for unknown conversations are ignored; room
// creation arrives through ApplyConversationCreated. The unread flag is set
// only when the conversation is not the open one and the author is not the
// session user.
func (s *Synchronizer) ApplyMessageEvent(ev models.Event) {
	msg, err := ev.DecodeMessage()
	if err != nil {
		log.Printf("undecodable message event for conversation %s: %v", ev.ConversationID, err)
		return
	}

	s.mu.Lock()
	idx := s.indexLocked(ev.ConversationID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.rooms[idx].LastMessage = msg.Summary()
	if ev.ConversationID != s.activeID && msg.AuthorID != s.userID {
		s.rooms[idx].Unread = true
	}
	s.sortLocked()
	s.mu.Unlock()

	observability.IncRoomListResort()
	s.onChange()
}

// ApplyConversationCreated inserts a conversation if absent. A duplicate
// creation notification racing a manual refresh is a no-op.
func (s *Synchronizer) ApplyConversationCreated(conv models.Conversation) {
	s.mu.Lock()
	if s.indexLocked(conv.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.rooms = append(s.rooms, models.ConversationSummary{Conversation: conv})
	s.sortLocked()
	s.mu.Unlock()
	s.onChange()
}

// ApplyConversationUpdated refreshes a conversation's metadata in place,
// preserving the derived unread flag. Unknown conversations are ignored.
func (s *Synchronizer) ApplyConversationUpdated(conv models.Conversation) {
	s.mu.Lock()
	idx := s.indexLocked(conv.ID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	if conv.LastMessage == nil {
		conv.LastMessage = s.rooms[idx].LastMessage
	}
	s.rooms[idx].Conversation = conv
	s.sortLocked()
	s.mu.Unlock()
	s.onChange()
}

// SetActive marks a conversation as open: its unread flag clears immediately,
// before server acknowledgment, and the read position is reported to the
// backend best-effort.
func (s *Synchronizer) SetActive(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.activeID = conversationID
	var lastMessageID string
	if idx := s.indexLocked(conversationID); idx >= 0 {
		s.rooms[idx].Unread = false
		if s.rooms[idx].LastMessage != nil {
			lastMessageID = s.rooms[idx].LastMessage.MessageID
		}
	}
	s.mu.Unlock()
	s.onChange()

	if lastMessageID == "" {
		return
	}
	go func() {
		if err := s.apiClient.MarkRead(ctx, conversationID, lastMessageID); err != nil {
			log.Printf("mark read failed for conversation %s: %v", conversationID, err)
		}
	}()
}

// ClearActive records that no conversation is open.
func (s *Synchronizer) ClearActive() {
	s.mu.Lock()
	s.activeID = ""
	s.mu.Unlock()
}

// ApplyTyping sets or clears a typing flag. Each (conversation, user) pair
// decays on its own timer, reset by every refreshing event, so concurrent
// typists in different conversations expire independently. The session user's
// own indicator is not tracked.
func (s *Synchronizer) ApplyTyping(ev models.Event) {
	p, err := ev.DecodeTyping()
	if err != nil {
		log.Printf("undecodable typing event for conversation %s: %v", ev.ConversationID, err)
		return
	}
	if p.UserID == s.userID {
		return
	}
	key := typingKey{conversationID: p.ConversationID, userID: p.UserID}

	s.mu.Lock()
	if !p.IsTyping {
		changed := s.typing[key]
		s.clearTypingLocked(key)
		s.mu.Unlock()
		if changed {
			s.onChange()
		}
		return
	}

	changed := !s.typing[key]
	s.typing[key] = true
	if timer, ok := s.typingTimers[key]; ok {
		timer.Reset(s.decay)
	} else {
		s.typingTimers[key] = time.AfterFunc(s.decay, func() { s.expireTyping(key) })
	}
	s.mu.Unlock()

	if changed {
		s.onChange()
	}
}

// ApplyPresence records an online/offline transition.
func (s *Synchronizer) ApplyPresence(ev models.Event) {
	p, err := ev.DecodePresence()
	if err != nil {
		log.Printf("undecodable presence event: %v", err)
		return
	}

	s.mu.Lock()
	s.online[p.UserID] = ev.Type == models.EventPresenceOnline
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = ev.ServerTimestamp
	}
	s.lastSeen[p.UserID] = lastSeen
	s.mu.Unlock()
	s.onChange()
}

// Rooms returns a render-ready copy of the ordered summary list.
func (s *Synchronizer) Rooms() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Typing returns the ids of users currently typing in a conversation.
func (s *Synchronizer) Typing(conversationID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []int
	for key, active := range s.typing {
		if active && key.conversationID == conversationID {
			users = append(users, key.userID)
		}
	}
	sort.Ints(users)
	return users
}

// Presence returns a copy of the online flags and last-seen timestamps.
func (s *Synchronizer) Presence() (map[int]bool, map[int]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	online := make(map[int]bool, len(s.online))
	for id, v := range s.online {
		online[id] = v
	}
	seen := make(map[int]time.Time, len(s.lastSeen))
	for id, v := range s.lastSeen {
		seen[id] = v
	}
	return online, seen
}

func (s *Synchronizer) expireTyping(key typingKey) {
	s.mu.Lock()
	changed := s.typing[key]
	s.clearTypingLocked(key)
	s.mu.Unlock()
	if changed {
		s.onChange()
	}
}

func (s *Synchronizer) clearTypingLocked(key typingKey) {
	delete(s.typing, key)
	if timer, ok := s.typingTimers[key]; ok {
		timer.Stop()
		delete(s.typingTimers, key)
	}
}

// sortLocked orders by last-activity timestamp descending, conversation
// creation time standing in when no message exists yet. The sort is stable so
// equal timestamps keep their relative order.
func (s *Synchronizer) sortLocked() {
	sort.SliceStable(s.rooms, func(i, j int) bool {
		return s.rooms[i].ActivityTime().After(s.rooms[j].ActivityTime())
	})
}

func (s *Synchronizer) indexLocked(conversationID string) int {
	for i, room := range s.rooms {
		if room.ID == conversationID {
			return i
		}
	}
	return -1
}
