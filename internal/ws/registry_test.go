package ws

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/remote-mirror/backend/internal/model"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	capture := newActiveConnection(t, "alice", RoleCapture, 1)
	v1 := newActiveConnection(t, "alice", RoleViewer, 1)
	v2 := newActiveConnection(t, "alice", RoleViewer, 1)
	other := newActiveConnection(t, "bob", RoleViewer, 1)

	for _, c := range []*Connection{capture, v1, v2, other} {
		mustRegister(t, r, c)
	}

	snap := r.Resolve("alice")
	if snap.Capture != capture {
		t.Errorf("expected alice's capture in snapshot")
	}
	if len(snap.Viewers) != 2 {
		t.Fatalf("expected 2 viewers, got %d", len(snap.Viewers))
	}
	for _, v := range snap.Viewers {
		if v.Identity() != "alice" {
			t.Errorf("snapshot leaked connection of %s", v.Identity())
		}
	}

	if r.Active() != 4 {
		t.Errorf("expected 4 active connections, got %d", r.Active())
	}
	if r.Sessions() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Sessions())
	}

	if got := r.Resolve("nobody"); got.Capture != nil || len(got.Viewers) != 0 {
		t.Errorf("expected empty snapshot for unknown identity")
	}
}

func TestRegistryRejectsUnboundConnection(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(newConnection(RoleViewer, 1)); err != ErrUnboundConnection {
		t.Errorf("expected ErrUnboundConnection, got %v", err)
	}
}

func TestRegistryActivatesOnRegister(t *testing.T) {
	newAuthenticating := func(role Role) *Connection {
		c := newConnection(role, 4)
		c.bind("alice")
		if err := c.advance(StateConnecting, StateAuthenticating); err != nil {
			t.Fatalf("advance to authenticating: %v", err)
		}
		return c
	}

	t.Run("capture is routable as soon as it is registered", func(t *testing.T) {
		registry, _, router, metrics := setupTestRelay()
		viewer := newActiveConnection(t, "alice", RoleViewer, 4)
		mustRegister(t, registry, viewer)

		old := newAuthenticating(RoleCapture)
		mustRegister(t, registry, old)
		successor := newAuthenticating(RoleCapture)
		mustRegister(t, registry, successor)

		if successor.State() != StateActive || !successor.Open() {
			t.Fatalf("expected registered capture to be open, state %s", successor.State())
		}
		if err := router.Route(viewer, []byte(`{"type":"interaction","kind":"type","text":"a"}`)); err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if metrics.NoRoute() != 0 {
			t.Errorf("expected no NoRoute, got %d", metrics.NoRoute())
		}
		if got := len(drain(successor)); got != 1 {
			t.Errorf("expected 1 queued interaction on the successor, got %d", got)
		}
	})

	t.Run("closed connection is refused", func(t *testing.T) {
		r := NewRegistry()
		c := newAuthenticating(RoleViewer)
		if err := c.advance(StateAuthenticating, StateClosed); err != nil {
			t.Fatalf("advance to closed: %v", err)
		}
		if _, err := r.Register(c); !errors.Is(err, ErrNotRegistrable) {
			t.Errorf("expected ErrNotRegistrable, got %v", err)
		}
		if r.Active() != 0 || r.Sessions() != 0 {
			t.Errorf("refused connection left state behind: active %d sessions %d", r.Active(), r.Sessions())
		}
	})
}

func TestRegistryCaptureSupersession(t *testing.T) {
	r := NewRegistry()

	first := newActiveConnection(t, "alice", RoleCapture, 1)
	second := newActiveConnection(t, "alice", RoleCapture, 1)
	viewer := newActiveConnection(t, "alice", RoleViewer, 1)

	mustRegister(t, r, first)
	mustRegister(t, r, viewer)
	mustRegister(t, r, second)

	select {
	case <-first.Done():
	default:
		t.Fatal("first capture was not told to close")
	}
	if code, reason := first.CloseStatus(); code != CloseSuperseded || reason != "superseded" {
		t.Errorf("expected superseded close, got %d %q", code, reason)
	}
	if r.Resolve("alice").Capture != second {
		t.Error("second capture is not installed")
	}
	if r.Evictions() != 1 {
		t.Errorf("expected 1 eviction, got %d", r.Evictions())
	}
	if r.Active() != 2 {
		t.Errorf("expected 2 active connections, got %d", r.Active())
	}

	// the evicted connection's late cleanup must not touch its successor
	r.Unregister(first.ID())
	if r.Resolve("alice").Capture != second {
		t.Error("late Unregister of evicted capture removed its successor")
	}
	if r.Active() != 2 {
		t.Errorf("expected 2 active connections after late unregister, got %d", r.Active())
	}

	select {
	case <-viewer.Done():
		t.Error("viewer was closed by capture supersession")
	default:
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()

	capture := newActiveConnection(t, "alice", RoleCapture, 1)
	viewer := newActiveConnection(t, "alice", RoleViewer, 1)
	mustRegister(t, r, capture)
	mustRegister(t, r, viewer)

	t.Run("capture leaves, viewer stays", func(t *testing.T) {
		r.Unregister(capture.ID())
		snap := r.Resolve("alice")
		if snap.Capture != nil {
			t.Error("capture still registered")
		}
		if len(snap.Viewers) != 1 || snap.Viewers[0] != viewer {
			t.Error("viewer lost when capture left")
		}
		if r.Sessions() != 1 {
			t.Errorf("expected 1 session, got %d", r.Sessions())
		}
	})

	t.Run("last connection discards session", func(t *testing.T) {
		r.Unregister(viewer.ID())
		if r.Sessions() != 0 {
			t.Errorf("expected 0 sessions, got %d", r.Sessions())
		}
		if r.Active() != 0 {
			t.Errorf("expected 0 active, got %d", r.Active())
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		r.Unregister(viewer.ID())
		r.Unregister("never-registered")
		if r.Active() != 0 {
			t.Errorf("expected 0 active, got %d", r.Active())
		}
	})

	t.Run("register after discard", func(t *testing.T) {
		again := newActiveConnection(t, "alice", RoleViewer, 1)
		mustRegister(t, r, again)
		if len(r.Resolve("alice").Viewers) != 1 {
			t.Error("viewer not registered on a fresh session")
		}
		if _, ok := r.Lookup(again.ID()); !ok {
			t.Error("Lookup did not find the new viewer")
		}
	})
}

// TestRegistryConcurrentChurn registers and unregisters from many goroutines
// across a few identities and checks nothing leaks.
func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			identity := model.UserID(fmt.Sprintf("user-%d", w%4))
			for i := 0; i < rounds; i++ {
				role := RoleViewer
				if i%5 == 0 {
					role = RoleCapture
				}
				c := newConnection(role, 1)
				c.bind(identity)
				_ = c.advance(StateConnecting, StateAuthenticating)
				if _, err := r.Register(c); err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				r.Unregister(c.ID())
			}
		}(w)
	}
	wg.Wait()

	if r.Active() != 0 {
		t.Errorf("expected 0 active connections, got %d", r.Active())
	}
	if r.Sessions() != 0 {
		t.Errorf("expected 0 sessions, got %d", r.Sessions())
	}
	n := 0
	r.Range(func(*Connection) bool { n++; return true })
	if n != 0 {
		t.Errorf("expected empty connection table, got %d", n)
	}
}
