package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/connection"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/session"
)

type dialRecorder struct {
	mu    sync.Mutex
	count int
	conn  *mocks.ScriptedConn
	err   error
}

func (d *dialRecorder) Dial(ctx context.Context, url, token string) (connection.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *dialRecorder) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func newConnectedManager(t *testing.T) (*connection.Manager, *mocks.ScriptedConn, *dialRecorder) {
	t.Helper()
	dialer := &dialRecorder{conn: mocks.NewScriptedConn()}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken("tok"))
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(m.Disconnect)
	return m, dialer.conn, dialer
}

func TestConnectIsIdempotent(t *testing.T) {
	m, _, dialer := newConnectedManager(t)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, dialer.dials())
	assert.Equal(t, connection.StatusConnected, m.Status())
}

func TestConnectWithoutTokenFailsBeforeDialing(t *testing.T) {
	dialer := &dialRecorder{conn: mocks.NewScriptedConn()}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken(""))

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, session.ErrAuthMissing)
	assert.Equal(t, 0, dialer.dials())
	assert.Equal(t, connection.StatusErrored, m.Status())
}

func TestConnectDialFailureSetsErrored(t *testing.T) {
	dialer := &dialRecorder{err: errors.New("refused")}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken("tok"))

	require.Error(t, m.Connect(context.Background()))
	assert.Equal(t, connection.StatusErrored, m.Status())
}

func TestDisconnectIsIdempotentAndClearsJoins(t *testing.T) {
	m, _, _ := newConnectedManager(t)
	m.JoinConversation("c1")
	require.Equal(t, []string{"c1"}, m.Joined())

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, connection.StatusDisconnected, m.Status())
	assert.Empty(t, m.Joined())
}

func TestJoinIsIdempotentSetOperation(t *testing.T) {
	m, conn, _ := newConnectedManager(t)

	m.JoinConversation("c1")
	m.JoinConversation("c1")
	m.JoinConversation("c2")
	m.LeaveConversation("c1")
	m.LeaveConversation("c1")

	assert.Equal(t, []string{"c2"}, m.Joined())

	var joins, leaves int
	for _, cmd := range conn.Commands() {
		switch cmd.Action {
		case models.ActionJoin:
			joins++
		case models.ActionLeave:
			leaves++
		}
	}
	assert.Equal(t, 2, joins)
	assert.Equal(t, 1, leaves)
}

func TestJoinWhileDisconnectedIsDropped(t *testing.T) {
	dialer := &dialRecorder{conn: mocks.NewScriptedConn()}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken("tok"))

	m.JoinConversation("c1")

	assert.Empty(t, m.Joined())
	assert.Empty(t, dialer.conn.Commands())
}

func TestTypingStartIsThrottledPerConversation(t *testing.T) {
	m, conn, _ := newConnectedManager(t)

	m.SendTyping("c1", true)
	m.SendTyping("c1", true)
	m.SendTyping("c1", true)
	m.SendTyping("c2", true)
	m.SendTyping("c1", false)

	var startsC1, startsC2, stops int
	for _, cmd := range conn.Commands() {
		if cmd.Action != models.ActionTyping {
			continue
		}
		switch {
		case cmd.IsTyping && cmd.ConversationID == "c1":
			startsC1++
		case cmd.IsTyping && cmd.ConversationID == "c2":
			startsC2++
		case !cmd.IsTyping:
			stops++
		}
	}
	assert.Equal(t, 1, startsC1, "repeat typing starts should be throttled")
	assert.Equal(t, 1, startsC2, "throttling is per conversation")
	assert.Equal(t, 1, stops, "stop events bypass the throttle")
}

func TestSubscribersReceiveEventsInDeliveryOrder(t *testing.T) {
	m, conn, _ := newConnectedManager(t)

	var mu sync.Mutex
	var got []string
	off := m.Subscribe(models.EventMessageCreated, func(ev models.Event) {
		mu.Lock()
		got = append(got, ev.ConversationID)
		mu.Unlock()
	})
	defer off()

	conn.Deliver(models.NewEvent(models.EventMessageCreated, "a", nil, time.Now()))
	conn.Deliver(models.NewEvent(models.EventMessageCreated, "b", nil, time.Now()))
	conn.Deliver(models.NewEvent(models.EventMessageCreated, "c", nil, time.Now()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDisposerRemovesOnlyItsOwnSubscription(t *testing.T) {
	m, conn, _ := newConnectedManager(t)

	var mu sync.Mutex
	var first, second int
	offFirst := m.Subscribe(models.EventMessageCreated, func(models.Event) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	offSecond := m.Subscribe(models.EventMessageCreated, func(models.Event) {
		mu.Lock()
		second++
		mu.Unlock()
	})
	defer offSecond()

	offFirst()
	conn.Deliver(models.NewEvent(models.EventMessageCreated, "c1", nil, time.Now()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return second == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, first)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	m, conn, _ := newConnectedManager(t)

	var mu sync.Mutex
	var survived int
	offBad := m.Subscribe(models.EventMessageCreated, func(models.Event) {
		panic("handler bug")
	})
	defer offBad()
	offGood := m.Subscribe(models.EventMessageCreated, func(models.Event) {
		mu.Lock()
		survived++
		mu.Unlock()
	})
	defer offGood()

	conn.Deliver(models.NewEvent(models.EventMessageCreated, "c1", nil, time.Now()))
	conn.Deliver(models.NewEvent(models.EventMessageCreated, "c1", nil, time.Now()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return survived == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReadFailureTransitionsToDisconnected(t *testing.T) {
	m, conn, _ := newConnectedManager(t)
	m.JoinConversation("c1")

	conn.Close()

	require.Eventually(t, func() bool {
		return m.Status() == connection.StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Joined())
}

func TestStatusHandlersSeeLifecycleTransitions(t *testing.T) {
	dialer := &dialRecorder{conn: mocks.NewScriptedConn()}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken("tok"))

	var mu sync.Mutex
	var transitions []connection.Status
	off := m.OnStatusChange(func(status connection.Status) {
		mu.Lock()
		transitions = append(transitions, status)
		mu.Unlock()
	})
	defer off()

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []connection.Status{
		connection.StatusConnecting,
		connection.StatusConnected,
		connection.StatusDisconnected,
	}, transitions)
}

func TestStatusHandlerMayReenterManager(t *testing.T) {
	dialer := &dialRecorder{conn: mocks.NewScriptedConn()}
	m := connection.NewManager("ws://test/ws", dialer, session.StaticToken("tok"))

	off := m.OnStatusChange(func(status connection.Status) {
		if status == connection.StatusConnected {
			m.JoinConversation("c1")
		}
	})
	defer off()

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	assert.Equal(t, []string{"c1"}, m.Joined())
}
