package ws

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/model"
)

var (
	// ErrUnboundConnection is returned when registering a connection that has no identity.
	ErrUnboundConnection = errors.New("connection has no identity")

	// ErrNotRegistrable is returned for connections that are neither
	// authenticating nor active.
	ErrNotRegistrable = errors.New("connection cannot be registered")
)

// Snapshot is a read-only copy of one identity's session membership.
type Snapshot struct {
	Capture *Connection
	Viewers []*Connection
}

// session holds one identity's connections. A session marked dead has been
// removed from the table and must not receive new members.
type session struct {
	mu      sync.RWMutex
	capture *Connection
	viewers map[ConnectionID]*Connection
	dead    bool
}

func (s *session) empty() bool {
	return s.capture == nil && len(s.viewers) == 0
}

// Registry maps identities to their live connections. Mutation is serialized
// per identity; distinct identities never share a lock.
type Registry struct {
	sessions sync.Map // model.UserID -> *session
	conns    sync.Map // ConnectionID -> *Connection

	active    atomic.Int64
	count     atomic.Int64
	evictions atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs c in its identity's session. An authenticating
// connection becomes Active under the session lock, so it is never visible
// to the relay before it can receive. A capture connection evicts any
// existing capture, which is told to close with CloseSuperseded.
func (r *Registry) Register(c *Connection) (ConnectionID, error) {
	if c.identity == "" {
		return "", ErrUnboundConnection
	}

	for {
		s := r.load(c.identity)
		s.mu.Lock()
		if s.dead {
			// lost a race with the last Unregister; retry on a fresh session
			s.mu.Unlock()
			continue
		}
		if err := activate(c); err != nil {
			r.discardIfEmpty(c.identity, s)
			s.mu.Unlock()
			return "", err
		}

		var evicted *Connection
		if c.role == RoleCapture {
			if s.capture != nil {
				evicted = s.capture
				r.conns.Delete(evicted.id)
				evicted.Close(CloseSuperseded, "superseded")
				r.active.Add(-1)
				r.evictions.Add(1)
			}
			s.capture = c
		} else {
			s.viewers[c.id] = c
		}
		r.conns.Store(c.id, c)
		r.active.Add(1)
		s.mu.Unlock()

		if evicted != nil {
			log.Info().Str("module", "ws.registry").
				Str("user", string(c.identity)).
				Str("evicted", string(evicted.id)).
				Str("conn", string(c.id)).
				Msg("capture connection superseded")
		}
		return c.id, nil
	}
}

func activate(c *Connection) error {
	switch c.State() {
	case StateActive:
		return nil
	case StateAuthenticating:
		if err := c.advance(StateAuthenticating, StateActive); err != nil {
			return fmt.Errorf("%w: %v", ErrNotRegistrable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: connection is %s", ErrNotRegistrable, c.State())
}

func (r *Registry) load(identity model.UserID) *session {
	if v, ok := r.sessions.Load(identity); ok {
		return v.(*session)
	}
	fresh := &session{viewers: make(map[ConnectionID]*Connection)}
	v, loaded := r.sessions.LoadOrStore(identity, fresh)
	if !loaded {
		r.count.Add(1)
	}
	return v.(*session)
}

// Unregister removes a connection from its session and discards the session
// once it is empty. Unknown or already removed ids are ignored, so a
// connection evicted by a successor never removes the successor.
func (r *Registry) Unregister(id ConnectionID) {
	v, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	c := v.(*Connection)

	sv, ok := r.sessions.Load(c.identity)
	if !ok {
		return
	}
	s := sv.(*session)

	s.mu.Lock()
	removed := false
	if s.capture == c {
		s.capture = nil
		removed = true
	} else if _, ok := s.viewers[c.id]; ok {
		delete(s.viewers, c.id)
		removed = true
	}
	if removed {
		// an eviction that raced this call already did the accounting
		r.active.Add(-1)
	}
	r.discardIfEmpty(c.identity, s)
	s.mu.Unlock()
}

// discardIfEmpty drops an empty session from the table. s.mu must be held.
func (r *Registry) discardIfEmpty(identity model.UserID, s *session) {
	if !s.empty() {
		return
	}
	s.dead = true
	if r.sessions.CompareAndDelete(identity, s) {
		r.count.Add(-1)
	}
}

// Resolve returns a copy of identity's current membership. Viewers are
// ordered by connect time.
func (r *Registry) Resolve(identity model.UserID) Snapshot {
	v, ok := r.sessions.Load(identity)
	if !ok {
		return Snapshot{}
	}
	s := v.(*session)

	s.mu.RLock()
	snap := Snapshot{
		Capture: s.capture,
		Viewers: make([]*Connection, 0, len(s.viewers)),
	}
	for _, c := range s.viewers {
		snap.Viewers = append(snap.Viewers, c)
	}
	s.mu.RUnlock()

	sort.Slice(snap.Viewers, func(i, j int) bool {
		return snap.Viewers[i].connectedAt.Before(snap.Viewers[j].connectedAt)
	})
	return snap
}

// Lookup returns the registered connection with the given id.
func (r *Registry) Lookup(id ConnectionID) (*Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Range calls fn for every registered connection until fn returns false.
func (r *Registry) Range(fn func(*Connection) bool) {
	r.conns.Range(func(_, v any) bool {
		return fn(v.(*Connection))
	})
}

// Active returns the number of registered connections.
func (r *Registry) Active() int64 { return r.active.Load() }

// Sessions returns the number of identities with at least one connection.
func (r *Registry) Sessions() int64 { return r.count.Load() }

// Evictions returns how many capture connections have been superseded.
func (r *Registry) Evictions() uint64 { return r.evictions.Load() }
