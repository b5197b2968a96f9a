package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/remote-mirror/backend/api/handlers"
	"github.com/remote-mirror/backend/internal/auth"
	"github.com/remote-mirror/backend/internal/db"
	"github.com/remote-mirror/backend/internal/model"
	"github.com/remote-mirror/backend/internal/repository"
	"github.com/remote-mirror/backend/internal/ws"
)

type testServer struct {
	srv *httptest.Server
	hub *ws.Hub
}

func setupTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()

	database, err := db.NewTestDB()
	require.NoError(t, err)

	authenticator, err := auth.NewAuthenticator(
		repository.NewUserRepository(database),
		auth.NewTokenSigner([]byte("test-secret"), time.Hour),
		bcrypt.MinCost,
	)
	require.NoError(t, err)

	hub := ws.NewHub(authenticator, ws.Options{})
	srv := httptest.NewServer(handlers.SetupRouter(handlers.RouterConfig{
		Mode:     gin.TestMode,
		Accounts: authenticator,
		Verifier: authenticator,
		Hub:      hub,
	}))

	return &testServer{srv: srv, hub: hub}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
		database.Close()
	}
}

// login registers username and returns its id and a token.
func (ts *testServer) login(t *testing.T, username string) (model.UserID, string) {
	t.Helper()
	ctx := context.Background()

	id, err := Register(ctx, ts.srv.URL, username, "pw123")
	require.NoError(t, err)
	token, err := Login(ctx, ts.srv.URL, username, "pw123")
	require.NoError(t, err)
	return id, token
}

func runAsync(c *Client) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRegisterAndLoginHelpers(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	id, err := Register(ctx, ts.srv.URL+"/", "alice", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = Register(ctx, ts.srv.URL, "alice", "pw123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), handlers.CodeDuplicateUsername)

	_, err = Login(ctx, ts.srv.URL, "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), handlers.CodeInvalidCredentials)
}

func TestClientRelaysFramesAndInput(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	id, token := ts.login(t, "alice")

	frames := make(chan []byte, 4)
	viewer := New(Config{
		BaseURL:   ts.srv.URL,
		Token:     token,
		Role:      ws.RoleViewer,
		OnMessage: func(data []byte) { frames <- data },
	})
	taps := make(chan []byte, 4)
	capture := New(Config{
		BaseURL:   ts.srv.URL,
		Token:     token,
		Role:      ws.RoleCapture,
		OnMessage: func(data []byte) { taps <- data },
	})

	viewerDone := runAsync(viewer)
	captureDone := runAsync(capture)

	require.Eventually(t, func() bool {
		snap := ts.hub.Registry().Resolve(id)
		return snap.Capture != nil && snap.Capture.Open() && len(snap.Viewers) == 1 && snap.Viewers[0].Open()
	}, 3*time.Second, 10*time.Millisecond)

	// the server may register us before Dial has returned on our side
	frame := ws.ScreenUpdate(ws.FrameMetadata{Width: 1080, Height: 2340, Density: 420}, "Zm9v")
	require.Eventually(t, func() bool { return capture.Send(frame) == nil }, 2*time.Second, 10*time.Millisecond)
	select {
	case f := <-frames:
		msg, err := ws.ParseMessage(f)
		require.NoError(t, err)
		assert.Equal(t, ws.MessageTypeScreenUpdate, msg.Type)
		assert.Equal(t, "Zm9v", msg.ImageData)
	case <-time.After(2 * time.Second):
		t.Fatal("viewer did not receive frame")
	}

	swipe := ws.Swipe(0.5, 0.9, 0.5, 0.1)
	require.Eventually(t, func() bool { return viewer.Send(swipe) == nil }, 2*time.Second, 10*time.Millisecond)
	select {
	case raw := <-taps:
		msg, err := ws.ParseMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, ws.InteractionSwipe, msg.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not receive swipe")
	}

	viewer.Close()
	capture.Close()
	assert.NoError(t, waitResult(t, viewerDone))
	assert.NoError(t, waitResult(t, captureDone))
}

func TestClientReconnects(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	id, token := ts.login(t, "alice")

	var mu sync.Mutex
	connects := 0
	c := New(Config{
		BaseURL: ts.srv.URL,
		Token:   token,
		Backoff: 50 * time.Millisecond,
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
	})
	done := runAsync(c)
	defer func() {
		c.Close()
		waitResult(t, done)
	}()

	var first ws.ConnectionID
	require.Eventually(t, func() bool {
		snap := ts.hub.Registry().Resolve(id)
		if len(snap.Viewers) != 1 {
			return false
		}
		first = snap.Viewers[0].ID()
		return true
	}, 3*time.Second, 10*time.Millisecond)

	// drop the connection from the server side
	conn, ok := ts.hub.Registry().Lookup(first)
	require.True(t, ok)
	conn.Close(ws.CloseGoingAway, "test")

	require.Eventually(t, func() bool {
		snap := ts.hub.Registry().Resolve(id)
		return len(snap.Viewers) == 1 && snap.Viewers[0].ID() != first
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
}

func TestClientStopsOnRejectedToken(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	c := New(Config{BaseURL: ts.srv.URL, Token: "garbage", Backoff: 10 * time.Millisecond})
	err := waitResult(t, runAsync(c))
	assert.True(t, errors.Is(err, ErrRejected), "got %v", err)
	assert.Equal(t, 1, c.Attempts())
}

func TestClientStopsWhenSuperseded(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	id, token := ts.login(t, "alice")

	first := New(Config{BaseURL: ts.srv.URL, Token: token, Role: ws.RoleCapture, Backoff: 10 * time.Millisecond})
	firstDone := runAsync(first)
	require.Eventually(t, func() bool {
		return ts.hub.Registry().Resolve(id).Capture != nil
	}, 3*time.Second, 10*time.Millisecond)

	second := New(Config{BaseURL: ts.srv.URL, Token: token, Role: ws.RoleCapture})
	secondDone := runAsync(second)
	defer func() {
		second.Close()
		waitResult(t, secondDone)
	}()

	err := waitResult(t, firstDone)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 1, first.Attempts())
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	// nothing listens here, so every dial fails
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Token: "t", Backoff: time.Hour})
	done := runAsync(c)

	require.Eventually(t, func() bool { return c.Attempts() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.Close()
	assert.NoError(t, waitResult(t, done))
	assert.Equal(t, 1, c.Attempts())
}

func TestSendWithoutConnection(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, c.Send(ws.Tap(0.5, 0.5)), ErrNotConnected)
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3001":       "ws://localhost:3001/ws?role=viewer",
		"https://mirror.example.com/": "wss://mirror.example.com/ws?role=viewer",
		"ws://localhost:3001/relay":   "ws://localhost:3001/relay/ws?role=viewer",
	}
	for base, want := range cases {
		got, err := New(Config{BaseURL: base}).endpoint()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := New(Config{BaseURL: "ftp://example.com"}).endpoint()
	assert.Error(t, err)
}
