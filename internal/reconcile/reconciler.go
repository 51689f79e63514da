package reconcile

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// DefaultMatchWindow bounds how old a pending message may be and still be
// matched against an incoming confirmation.
const DefaultMatchWindow = 30 * time.Second

// Options tune a Reconciler.
type Options struct {
	// MatchWindow overrides DefaultMatchWindow when positive.
	MatchWindow time.Duration
	// Clock overrides time.Now for tests.
	Clock func() time.Time
	// OnChange is invoked after every visible mutation of the message list.
	OnChange func()
}

type entry struct {
	msg         models.Message
	seq         int
	submittedAt time.Time
}

// Reconciler produces the authoritative ordered message list for one actively
// viewed conversation, merging page fetches, locally-submitted optimistic
// messages and server-confirmed events.
type Reconciler struct {
	apiClient api.API
	authorID  int
	window    time.Duration
	clock     func() time.Time
	onChange  func()

	mu             sync.Mutex
	conversationID string
	epoch          int
	entries        []entry
	nextSeq        int
}

// NewReconciler constructs a Reconciler for the session user identified by
// authorID.
func NewReconciler(apiClient api.API, authorID int, opts Options) *Reconciler {
	window := opts.MatchWindow
	if window <= 0 {
		window = DefaultMatchWindow
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	return &Reconciler{
		apiClient: apiClient,
		authorID:  authorID,
		window:    window,
		clock:     clock,
		onChange:  onChange,
	}
}

// Reset switches the active conversation. Any in-flight page fetch or send
// response for the previous conversation is discarded when it lands.
func (r *Reconciler) Reset(conversationID string) {
	r.mu.Lock()
	r.conversationID = conversationID
	r.epoch++
	r.entries = nil
	r.nextSeq = 0
	r.mu.Unlock()
	r.onChange()
}

// ConversationID returns the active conversation id.
func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

// Submit appends an optimistic pending message and requests the send in the
// background. It returns the pending message immediately and never blocks on
// network I/O.
func (r *Reconciler) Submit(ctx context.Context, content string) models.Message {
	r.mu.Lock()
	msg := models.Message{
		ClientTempID:   uuid.NewString(),
		ConversationID: r.conversationID,
		AuthorID:       r.authorID,
		Content:        content,
		CreatedAt:      r.clock(),
		DeliveryState:  models.DeliveryPending,
	}
	r.insertLocked(msg)
	epoch := r.epoch
	r.mu.Unlock()

	observability.IncReconcileOp("submitted")
	r.onChange()

	go r.send(ctx, msg, epoch)
	return msg
}

// Retry re-sends a failed message, returning it to the pending state. It is a
// no-op if the temp id is unknown or the message is not failed.
func (r *Reconciler) Retry(ctx context.Context, clientTempID string) {
	r.mu.Lock()
	idx := r.indexByTempIDLocked(clientTempID)
	if idx < 0 || r.entries[idx].msg.DeliveryState != models.DeliveryFailed {
		r.mu.Unlock()
		return
	}
	r.entries[idx].msg.DeliveryState = models.DeliveryPending
	r.entries[idx].submittedAt = r.clock()
	msg := r.entries[idx].msg
	epoch := r.epoch
	r.mu.Unlock()

	r.onChange()
	go r.send(ctx, msg, epoch)
}

// Remove drops a failed message from the list. Pending and confirmed entries
// are never removed this way.
func (r *Reconciler) Remove(clientTempID string) {
	r.mu.Lock()
	idx := r.indexByTempIDLocked(clientTempID)
	if idx < 0 || r.entries[idx].msg.DeliveryState != models.DeliveryFailed {
		r.mu.Unlock()
		return
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	r.mu.Unlock()
	r.onChange()
}

func (r *Reconciler) send(ctx context.Context, msg models.Message, epoch int) {
	confirmed, err := r.apiClient.SendMessage(ctx, msg.ConversationID, msg.Content, msg.ClientTempID)
	if err != nil {
		log.Printf("send failed for message %s: %v", msg.ClientTempID, err)
		r.applyFailed(msg.ClientTempID, epoch)
		return
	}
	r.applyConfirmed(confirmed, epoch)
}

// OnConfirmed merges a server-confirmed message. A message whose id is already
// present is a duplicate event and is silently absorbed. A pending message
// from this session with equal author and content inside the match window is
// replaced in place; anything else (remote authors, the user's other sessions)
// is appended.
func (r *Reconciler) OnConfirmed(server models.Message) {
	r.mu.Lock()
	r.applyConfirmedLocked(server)
}

// OnSendFailed transitions the matching pending message to failed. The message
// stays visible so the caller can offer retry or removal; it is never retried
// automatically.
func (r *Reconciler) OnSendFailed(clientTempID, reason string) {
	r.mu.Lock()
	idx := r.indexByTempIDLocked(clientTempID)
	if idx < 0 || r.entries[idx].msg.DeliveryState != models.DeliveryPending {
		r.mu.Unlock()
		return
	}
	log.Printf("message %s failed: %s", clientTempID, reason)
	r.entries[idx].msg.DeliveryState = models.DeliveryFailed
	r.mu.Unlock()

	observability.IncReconcileOp("failed")
	r.onChange()
}

// LoadPage fetches one page of history and merges it without disturbing
// already-present entries. A response arriving after Reset switched the active
// conversation is discarded, not applied and not surfaced as an error. The
// returned cursor pages further into history; it is empty when exhausted.
func (r *Reconciler) LoadPage(ctx context.Context, cursor string, pageSize int) (string, error) {
	r.mu.Lock()
	conversationID := r.conversationID
	epoch := r.epoch
	r.mu.Unlock()

	page, err := r.apiClient.GetConversationPage(ctx, conversationID, cursor, pageSize)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		observability.IncReconcileOp("page_stale")
		return "", nil
	}
	changed := false
	for _, msg := range page.Messages {
		if msg.ID != "" && r.indexByIDLocked(msg.ID) >= 0 {
			continue
		}
		msg.DeliveryState = models.DeliveryConfirmed
		r.insertLocked(msg)
		changed = true
	}
	r.mu.Unlock()

	observability.IncReconcileOp("page_merged")
	if changed {
		r.onChange()
	}
	return page.NextCursor, nil
}

// Snapshot returns a render-ready copy of the ordered message list.
func (r *Reconciler) Snapshot() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}

// applyConfirmed guards OnConfirmed semantics with the epoch captured when the
// send was issued, so a response landing after a conversation switch is
// dropped.
func (r *Reconciler) applyConfirmed(server models.Message, epoch int) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		observability.IncReconcileOp("stale_send")
		return
	}
	r.applyConfirmedLocked(server)
}

func (r *Reconciler) applyFailed(clientTempID string, epoch int) {
	r.mu.Lock()
	stale := r.epoch != epoch
	r.mu.Unlock()
	if stale {
		observability.IncReconcileOp("stale_send")
		return
	}
	r.OnSendFailed(clientTempID, "send request failed")
}

// applyConfirmedLocked consumes the held lock and releases it before running
// the change callback.
func (r *Reconciler) applyConfirmedLocked(server models.Message) {
	if server.ID != "" && r.indexByIDLocked(server.ID) >= 0 {
		r.mu.Unlock()
		observability.IncReconcileOp("duplicate")
		return
	}

	server.DeliveryState = models.DeliveryConfirmed
	now := r.clock()

	if idx := r.matchPendingLocked(server, now); idx >= 0 {
		seq := r.entries[idx].seq
		server.ClientTempID = ""
		r.entries[idx] = entry{msg: server, seq: seq}
		r.sortLocked()
		r.mu.Unlock()
		observability.IncReconcileOp("replaced")
		r.onChange()
		return
	}

	server.ClientTempID = ""
	r.insertLocked(server)
	r.mu.Unlock()
	observability.IncReconcileOp("confirmed")
	r.onChange()
}

// matchPendingLocked finds the oldest pending message from this session with
// the same author and content whose age is inside the match window.
func (r *Reconciler) matchPendingLocked(server models.Message, now time.Time) int {
	for i, e := range r.entries {
		if e.msg.DeliveryState != models.DeliveryPending {
			continue
		}
		if e.msg.AuthorID != server.AuthorID || e.msg.Content != server.Content {
			continue
		}
		if now.Sub(e.submittedAt) > r.window {
			continue
		}
		return i
	}
	return -1
}

func (r *Reconciler) insertLocked(msg models.Message) {
	e := entry{msg: msg, seq: r.nextSeq}
	if msg.DeliveryState == models.DeliveryPending {
		e.submittedAt = r.clock()
	}
	r.nextSeq++
	r.entries = append(r.entries, e)
	r.sortLocked()
}

// sortLocked keeps the visible sequence monotonically non-decreasing by
// timestamp, ties broken by insertion order. Pending messages sort by local
// submission time until they adopt the server timestamp on confirmation; the
// resulting reorder is accepted rather than hidden.
func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		a, b := r.entries[i], r.entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})
}

func (r *Reconciler) indexByIDLocked(id string) int {
	for i, e := range r.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) indexByTempIDLocked(tempID string) int {
	for i, e := range r.entries {
		if e.msg.ClientTempID == tempID {
			return i
		}
	}
	return -1
}
