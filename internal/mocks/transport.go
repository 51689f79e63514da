package mocks

import (
	"context"
	"errors"
	"sync"

	"chat-sync/internal/connection"
	"chat-sync/internal/models"
)

// DialerFunc adapts a function to the connection.Dialer interface.
type DialerFunc func(ctx context.Context, url, token string) (connection.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url, token string) (connection.Conn, error) {
	return f(ctx, url, token)
}

var _ connection.Dialer = (DialerFunc)(nil)

// ScriptedConn is an in-memory transport connection for tests. Events pushed
// with Deliver come out of ReadEvent in order; written commands are recorded.
type ScriptedConn struct {
	events chan models.Event
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	commands []models.Command
}

// NewScriptedConn builds a ScriptedConn with room for buffered events.
func NewScriptedConn() *ScriptedConn {
	return &ScriptedConn{
		events: make(chan models.Event, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues an event for ReadEvent.
func (c *ScriptedConn) Deliver(ev models.Event) {
	c.events <- ev
}

func (c *ScriptedConn) ReadEvent() (models.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return models.Event{}, errors.New("connection closed")
	}
}

func (c *ScriptedConn) WriteCommand(cmd models.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *ScriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Commands returns a copy of the recorded writes.
func (c *ScriptedConn) Commands() []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Command, len(c.commands))
	copy(out, c.commands)
	return out
}

var _ connection.Conn = (*ScriptedConn)(nil)
