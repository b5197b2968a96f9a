package ws

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/remote-mirror/backend/internal/model"
)

// Close codes sent to peers.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation

	// CloseSuperseded is sent to a capture connection replaced by a newer one
	// for the same identity.
	CloseSuperseded = 4001
)

var (
	// ErrBackpressure is returned by TrySend when the outbound queue is full.
	ErrBackpressure = errors.New("outbound queue full")

	// ErrConnectionClosed is returned by TrySend after Close.
	ErrConnectionClosed = errors.New("connection closed")
)

// Role is the part a connection plays in its session.
type Role string

const (
	RoleCapture Role = "capture"
	RoleViewer  Role = "viewer"
)

// ParseRole maps the role query parameter to a Role. An empty value means viewer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleViewer:
		return RoleViewer, nil
	case RoleCapture:
		return RoleCapture, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// State is a position in the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// allowed lists every legal edge of the lifecycle. Closed has none.
var allowed = map[State]State{
	StateConnecting: StateAuthenticating,
	StateActive:     StateClosing,
	StateClosing:    StateClosed,
}

func canTransition(from, to State) bool {
	if from == StateAuthenticating {
		return to == StateActive || to == StateClosed
	}
	next, ok := allowed[from]
	return ok && next == to
}

// ConnectionID identifies one socket for its lifetime.
type ConnectionID string

// Connection is the relay's view of one WebSocket. The socket itself is owned
// by the supervisor goroutines; everything else reaches the peer through the
// bounded outbound queue.
type Connection struct {
	id          ConnectionID
	identity    model.UserID
	role        Role
	connectedAt time.Time

	state        atomic.Int32
	lastActivity atomic.Int64

	send    chan []byte
	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

func newConnection(role Role, queueSize int) *Connection {
	now := time.Now()
	c := &Connection{
		id:          ConnectionID(uuid.NewString()),
		role:        role,
		connectedAt: now,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// bind attaches the verified identity. Called once, before registration.
func (c *Connection) bind(identity model.UserID) {
	c.identity = identity
}

// advance moves the connection from one state to the next. It fails if the
// edge is not part of the lifecycle or the connection is not in from.
func (c *Connection) advance(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("transition %s -> %s: connection is %s", from, to, c.State())
	}
	return nil
}

// ID returns the connection id.
func (c *Connection) ID() ConnectionID { return c.id }

// Identity returns the verified identity, empty before authentication.
func (c *Connection) Identity() model.UserID { return c.identity }

// Role returns the connection role.
func (c *Connection) Role() Role { return c.role }

// ConnectedAt returns when the socket was accepted.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Sent returns how many messages were queued for the peer.
func (c *Connection) Sent() uint64 { return c.sent.Load() }

// Dropped returns how many messages were discarded because the queue was full.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} { return c.done }

// LastActivityAt returns when the peer was last heard from.
func (c *Connection) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Open reports whether the connection is Active and has not been asked to close.
func (c *Connection) Open() bool {
	if c.State() != StateActive {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// TrySend queues data for the write pump without blocking. When the queue is
// full the data is discarded and the drop counter increments.
func (c *Connection) TrySend(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		c.sent.Add(1)
		return nil
	default:
		c.dropped.Add(1)
		return ErrBackpressure
	}
}

// Close asks the supervisor to close the socket with code and reason.
// Only the first call has an effect; it reports whether this call won.
func (c *Connection) Close(code int, reason string) bool {
	first := false
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
		first = true
	})
	return first
}

// CloseStatus returns the code and reason given to Close. Valid once Done is closed.
func (c *Connection) CloseStatus() (int, string) {
	<-c.done
	return c.closeCode, c.closeReason
}

// ConnectionInfo is a point-in-time description of a connection.
type ConnectionInfo struct {
	ID             ConnectionID `json:"id"`
	Role           Role         `json:"role"`
	State          string       `json:"state"`
	ConnectedAt    time.Time    `json:"connectedAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Sent           uint64       `json:"sent"`
	Dropped        uint64       `json:"dropped"`
}

// Info returns a snapshot of the connection's counters and timestamps.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:             c.id,
		Role:           c.role,
		State:          c.State().String(),
		ConnectedAt:    c.connectedAt,
		LastActivityAt: c.LastActivityAt(),
		Sent:           c.Sent(),
		Dropped:        c.Dropped(),
	}
}
