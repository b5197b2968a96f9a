package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/auth"
	"github.com/remote-mirror/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	defaultPingPeriod = (defaultPongWait * 9) / 10

	// Time allowed between accepting a socket and verifying its token.
	defaultHandshakeTimeout = 10 * time.Second

	// Maximum message size allowed from peer. Frames carry whole screenshots.
	defaultMaxMessageSize = 8 << 20

	// Frames queued per viewer before new frames are dropped.
	defaultSendQueueSize = 8
)

// Options tunes connection supervision. Zero fields take defaults.
type Options struct {
	HandshakeTimeout time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	SendQueueSize    int

	// CheckOrigin is passed to the upgrader. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// Verifier turns an access token into the identity it was issued for.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Hub accepts relay connections and wires them to the registry, the frame
// relay and the interaction router.
type Hub struct {
	opts     Options
	verifier Verifier
	upgrader websocket.Upgrader

	registry *Registry
	relay    *FrameRelay
	router   *InteractionRouter
	metrics  *Metrics

	mu      sync.Mutex
	live    map[ConnectionID]*supervisor
	wg      sync.WaitGroup
	closing bool
}

// NewHub creates a Hub that authenticates connections with verifier.
func NewHub(verifier Verifier, opts Options) *Hub {
	opts = opts.withDefaults()
	registry := NewRegistry()
	metrics := &Metrics{}

	return &Hub{
		opts:     opts,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		registry: registry,
		relay:    NewFrameRelay(registry, metrics),
		router:   NewInteractionRouter(registry, metrics),
		metrics:  metrics,
		live:     make(map[ConnectionID]*supervisor),
	}
}

// Registry returns the hub's session registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Stats returns the hub's counters.
func (h *Hub) Stats() Stats {
	return h.metrics.snapshot(h.registry)
}

// SessionInfo describes one identity's session.
type SessionInfo struct {
	Identity model.UserID     `json:"identity"`
	Capture  *ConnectionInfo  `json:"capture"`
	Viewers  []ConnectionInfo `json:"viewers"`
}

// Session returns the current session of identity. A user with no
// connections gets an empty session.
func (h *Hub) Session(identity model.UserID) SessionInfo {
	snap := h.registry.Resolve(identity)
	info := SessionInfo{
		Identity: identity,
		Viewers:  make([]ConnectionInfo, 0, len(snap.Viewers)),
	}
	if snap.Capture != nil {
		ci := snap.Capture.Info()
		info.Capture = &ci
	}
	for _, v := range snap.Viewers {
		info.Viewers = append(info.Viewers, v.Info())
	}
	return info
}

func (h *Hub) track(s *supervisor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.wg.Add(1)
	h.live[s.conn.id] = s
	return true
}

func (h *Hub) untrack(s *supervisor) {
	h.mu.Lock()
	delete(h.live, s.conn.id)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every connection with CloseGoingAway and waits for their
// supervisors to finish, or for ctx to expire. New connections are refused
// from the moment Shutdown is called.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	live := make([]*supervisor, 0, len(h.live))
	for _, s := range h.live {
		live = append(live, s)
	}
	h.mu.Unlock()

	log.Info().Str("module", "ws.hub").Int("connections", len(live)).Msg("closing connections")
	for _, s := range live {
		s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
