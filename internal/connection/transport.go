package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
)

// Conn is a live transport connection. ReadEvent blocks until the next event
// arrives or the connection fails.
type Conn interface {
	ReadEvent() (models.Event, error)
	WriteCommand(cmd models.Command) error
	Close() error
}

// Dialer opens transport connections. The Manager owns exactly one at a time.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// DialerOptions tune the websocket dialer.
type DialerOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// DefaultDialerOptions returns the timeouts used when none are supplied.
func DefaultDialerOptions() DialerOptions {
	return DialerOptions{
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// WebsocketDialer dials the event stream over gorilla/websocket.
type WebsocketDialer struct {
	opts DialerOptions
}

// NewWebsocketDialer constructs a dialer; zero-valued options fall back to
// defaults.
func NewWebsocketDialer(opts DialerOptions) *WebsocketDialer {
	defaults := DefaultDialerOptions()
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaults.PingInterval
	}
	return &WebsocketDialer{opts: opts}
}

// Dial opens the websocket and starts the keepalive ping loop.
func (d *WebsocketDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
		return nil
	})

	wc := &wsConn{
		conn:     conn,
		opts:     d.opts,
		stopPing: make(chan struct{}),
	}
	go wc.pingLoop()
	return wc, nil
}

type wsConn struct {
	conn     *websocket.Conn
	opts     DialerOptions
	writeMu  sync.Mutex
	stopPing chan struct{}
	stopOnce sync.Once
}

func (c *wsConn) ReadEvent() (models.Event, error) {
	var ev models.Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return models.Event{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	return ev, nil
}

func (c *wsConn) WriteCommand(cmd models.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(cmd)
}

func (c *wsConn) Close() error {
	c.stopOnce.Do(func() { close(c.stopPing) })
	return c.conn.Close()
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
