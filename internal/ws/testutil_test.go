package ws

import (
	"testing"

	"github.com/remote-mirror/backend/internal/model"
)

// newActiveConnection builds a bound connection already in StateActive.
func newActiveConnection(t *testing.T, identity model.UserID, role Role, queueSize int) *Connection {
	t.Helper()

	c := newConnection(role, queueSize)
	c.bind(identity)
	if err := c.advance(StateConnecting, StateAuthenticating); err != nil {
		t.Fatalf("advance to authenticating: %v", err)
	}
	if err := c.advance(StateAuthenticating, StateActive); err != nil {
		t.Fatalf("advance to active: %v", err)
	}
	return c
}

func setupTestRelay() (*Registry, *FrameRelay, *InteractionRouter, *Metrics) {
	registry := NewRegistry()
	metrics := &Metrics{}
	return registry, NewFrameRelay(registry, metrics), NewInteractionRouter(registry, metrics), metrics
}

func mustRegister(t *testing.T, r *Registry, c *Connection) {
	t.Helper()
	if _, err := r.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

// drain returns every message currently queued on c.
func drain(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}
