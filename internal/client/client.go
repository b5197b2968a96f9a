// Package client is a capture/viewer client for the relay with fixed-backoff
// reconnection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/ws"
)

// DefaultBackoff is the delay between reconnection attempts.
const DefaultBackoff = 5 * time.Second

var (
	// ErrRejected means the server refused the token; retrying cannot help.
	ErrRejected = errors.New("server rejected the access token")

	// ErrSuperseded means another capture connection for the same user took over.
	ErrSuperseded = errors.New("superseded by a newer capture connection")

	// ErrNotConnected is returned by Send between connections.
	ErrNotConnected = errors.New("not connected")
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server's HTTP address, e.g. http://localhost:3001.
	BaseURL string
	Token   string
	Role    ws.Role

	// Backoff between attempts. Zero means DefaultBackoff.
	Backoff time.Duration

	// OnConnect runs after every successful dial.
	OnConnect func()
	// OnMessage receives every message from the server, unparsed.
	OnMessage func(data []byte)
}

// Client keeps one relay connection open until Close.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	attempts int

	writeMu sync.Mutex
}

// New creates a Client. Nothing is dialed until Run.
func New(cfg Config) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Role == "" {
		cfg.Role = ws.RoleViewer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run connects and reconnects until ctx is done, Close is called, or the
// server rejects or supersedes the connection. It returns nil on a
// deliberate stop.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	target, err := c.endpoint()
	if err != nil {
		return err
	}

	for {
		err := c.session(ctx, target)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrSuperseded) {
			return err
		}

		log.Warn().Str("module", "client").Err(err).Dur("backoff", c.cfg.Backoff).Msg("disconnected, retrying")
		timer := time.NewTimer(c.cfg.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"role": {string(c.cfg.Role)}}.Encode()
	return u.String(), nil
}

func (c *Client) session(ctx context.Context, target string) error {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, _, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close()
	}()

	// a deliberate stop says goodbye and unblocks the read below
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	log.Info().Str("module", "client").Str("role", string(c.cfg.Role)).Msg("connected")
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return classify(err)
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}
}

func classify(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case ws.ClosePolicyViolation:
			return fmt.Errorf("%w: %s", ErrRejected, ce.Text)
		case ws.CloseSuperseded:
			return ErrSuperseded
		}
	}
	return err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Attempts returns how many times the client has dialed.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Send writes msg on the current connection.
func (c *Client) Send(msg ws.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes an already encoded message on the current connection.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close stops Run and cancels any pending retry.
func (c *Client) Close() {
	c.cancel()
}
