package connection

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/session"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusErrored      Status = "errored"
)

// typingSendInterval caps how often a typing-start indicator is written per
// conversation.
const typingSendInterval = 2 * time.Second

// Handler receives one realtime event. It is an alias so consumers can depend
// on a plain func signature without importing this package's types.
type Handler = func(models.Event)

// StatusHandler receives connection status transitions.
type StatusHandler = func(Status)

// Manager owns exactly one live transport connection per session and fans
// structured events out to subscribers. It is the single writer on the
// transport; consumers only touch the Subscribe/Join/SendTyping surface.
type Manager struct {
	url    string
	dialer Dialer
	tokens session.TokenSupplier

	mu             sync.Mutex
	status         Status
	conn           Conn
	epoch          int
	sessionID      string
	joined         map[string]struct{}
	subs           map[models.EventKind]map[int]Handler
	statusSubs     map[int]StatusHandler
	nextSubID      int
	typingLimiters map[string]*rate.Limiter
}

// NewManager constructs a Manager. Construct one per authenticated session and
// Disconnect it on logout; never share it through ambient global state.
func NewManager(url string, dialer Dialer, tokens session.TokenSupplier) *Manager {
	return &Manager{
		url:            url,
		dialer:         dialer,
		tokens:         tokens,
		status:         StatusDisconnected,
		sessionID:      uuid.NewString(),
		joined:         make(map[string]struct{}),
		subs:           make(map[models.EventKind]map[int]Handler),
		statusSubs:     make(map[int]StatusHandler),
		typingLimiters: make(map[string]*rate.Limiter),
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SessionID identifies this manager instance in telemetry.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Joined returns the ids of the conversations currently joined.
func (m *Manager) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.joined))
	for id := range m.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connect establishes the transport connection. It is idempotent: a second
// call while connecting or connected returns without dialing again. A missing
// credential fails with session.ErrAuthMissing before any network activity.
func (m *Manager) Connect(ctx context.Context) error {
	ctx, span := otel.Tracer("chat-sync/connection").Start(ctx, "connection.connect")
	defer span.End()

	m.mu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}

	token, err := m.tokens()
	if err != nil || token == "" {
		notify := m.setStatusLocked(StatusErrored)
		m.mu.Unlock()
		notify()
		if err == nil {
			err = session.ErrAuthMissing
		}
		return err
	}

	notify := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	notify()

	conn, dialErr := m.dialer.Dial(ctx, m.url, token)

	m.mu.Lock()
	if m.status != StatusConnecting {
		// Disconnect raced the dial; drop the late connection.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if dialErr != nil {
		notify = m.setStatusLocked(StatusErrored)
		m.mu.Unlock()
		notify()
		return fmt.Errorf("connect: %w", dialErr)
	}

	m.conn = conn
	m.epoch++
	epoch := m.epoch
	notify = m.setStatusLocked(StatusConnected)
	m.mu.Unlock()
	notify()

	go m.readLoop(conn, epoch)
	return nil
}

// Disconnect tears down the transport and clears joined conversations. It is
// safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.epoch++
	m.joined = make(map[string]struct{})
	notify := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()
	notify()
}

// JoinConversation scopes the event stream to include a conversation. It is an
// idempotent set operation and is silently dropped when not connected; callers
// re-issue joins after a reconnect via OnStatusChange.
func (m *Manager) JoinConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusConnected || m.conn == nil {
		return
	}
	if _, ok := m.joined[id]; ok {
		return
	}
	if err := m.conn.WriteCommand(models.Command{Action: models.ActionJoin, ConversationID: id}); err != nil {
		log.Printf("join command failed for conversation %s: %v", id, err)
		return
	}
	m.joined[id] = struct{}{}
}

// LeaveConversation removes a conversation from the event scope.
func (m *Manager) LeaveConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusConnected || m.conn == nil {
		return
	}
	if _, ok := m.joined[id]; !ok {
		return
	}
	if err := m.conn.WriteCommand(models.Command{Action: models.ActionLeave, ConversationID: id}); err != nil {
		log.Printf("leave command failed for conversation %s: %v", id, err)
	}
	delete(m.joined, id)
}

// SendTyping emits a typing indicator for the session user. Start events are
// throttled per conversation so key-repeat does not flood the socket; stop
// events always go through.
func (m *Manager) SendTyping(conversationID string, isTyping bool) {
	m.mu.Lock()
	if m.status != StatusConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	limiter, ok := m.typingLimiters[conversationID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(typingSendInterval), 1)
		m.typingLimiters[conversationID] = limiter
	}
	conn := m.conn
	m.mu.Unlock()

	if isTyping && !limiter.Allow() {
		return
	}
	cmd := models.Command{Action: models.ActionTyping, ConversationID: conversationID, IsTyping: isTyping}
	if err := conn.WriteCommand(cmd); err != nil {
		log.Printf("typing command failed for conversation %s: %v", conversationID, err)
	}
}

// Subscribe registers a handler for one event kind and returns a disposer that
// removes exactly that registration. Independent subscribers to the same kind
// do not interfere with each other's disposal.
func (m *Manager) Subscribe(kind models.EventKind, handler Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[kind] == nil {
		m.subs[kind] = make(map[int]Handler)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[kind][id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[kind], id)
	}
}

// OnStatusChange registers a handler for lifecycle transitions so callers can
// re-run their join logic after a reconnect.
func (m *Manager) OnStatusChange(handler StatusHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.statusSubs[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.statusSubs, id)
	}
}

// readLoop pumps events off one connection in delivery order. The epoch guard
// keeps a superseded connection's loop from touching manager state.
func (m *Manager) readLoop(conn Conn, epoch int) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			m.mu.Lock()
			if m.epoch != epoch {
				m.mu.Unlock()
				conn.Close()
				return
			}
			log.Printf("transport read failed: %v", err)
			m.conn = nil
			m.joined = make(map[string]struct{})
			notify := m.setStatusLocked(StatusDisconnected)
			m.mu.Unlock()
			notify()
			conn.Close()
			return
		}
		m.dispatch(ev)
	}
}

// dispatch delivers one event to all subscribers of its kind, in registration
// order, synchronously. A panicking handler is recovered so it cannot prevent
// delivery of subsequent events.
func (m *Manager) dispatch(ev models.Event) {
	m.mu.Lock()
	handlers := orderedHandlers(m.subs[ev.Type])
	m.mu.Unlock()

	observability.IncEventDispatched(string(ev.Type))
	for _, h := range handlers {
		callRecovered(func() { h(ev) })
	}
}

// setStatusLocked records the transition and returns the notification closure
// to run after the lock is released; status handlers may re-enter the Manager.
func (m *Manager) setStatusLocked(status Status) func() {
	if m.status == status {
		return func() {}
	}
	log.Printf("connection status %s -> %s", m.status, status)
	m.status = status
	observability.SetConnectionStatus(string(status))

	handlers := make([]StatusHandler, 0, len(m.statusSubs))
	for _, id := range sortedKeys(m.statusSubs) {
		handlers = append(handlers, m.statusSubs[id])
	}
	sessionID := m.sessionID

	return func() {
		observability.PublishConnectionEvent(context.Background(), "status_"+string(status), sessionID, map[string]interface{}{
			"status": string(status),
		})
		for _, h := range handlers {
			h := h
			callRecovered(func() { h(status) })
		}
	}
}

func orderedHandlers(set map[int]Handler) []Handler {
	handlers := make([]Handler, 0, len(set))
	for _, id := range sortedKeys(set) {
		handlers = append(handlers, set[id])
	}
	return handlers
}

func sortedKeys[V any](set map[int]V) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func callRecovered(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panic recovered: %v", r)
			observability.IncHandlerPanic()
		}
	}()
	fn()
}
