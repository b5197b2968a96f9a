package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/crypto/bcrypt"

	"github.com/remote-mirror/backend/internal/db"
	"github.com/remote-mirror/backend/internal/model"
	"github.com/remote-mirror/backend/internal/repository"
)

func setupTestAuthenticator(t *testing.T) (*Authenticator, func()) {
	t.Helper()

	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	a, err := NewAuthenticator(
		repository.NewUserRepository(database),
		NewTokenSigner([]byte("test-secret"), time.Hour),
		bcrypt.MinCost,
	)
	if err != nil {
		database.Close()
		t.Fatalf("Failed to create authenticator: %v", err)
	}

	return a, func() { database.Close() }
}

func TestAuthenticator_Register(t *testing.T) {
	a, cleanup := setupTestAuthenticator(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("new user", func(t *testing.T) {
		id, err := a.Register(ctx, "alice", "wonderland")
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if id == "" {
			t.Error("expected non-empty id")
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := a.Register(ctx, "alice", "another")
		if !errors.Is(err, model.ErrDuplicateUsername) {
			t.Errorf("expected ErrDuplicateUsername, got %v", err)
		}
	})

	t.Run("duplicate after trimming", func(t *testing.T) {
		_, err := a.Register(ctx, "  alice ", "another")
		if !errors.Is(err, model.ErrDuplicateUsername) {
			t.Errorf("expected ErrDuplicateUsername, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := a.Register(ctx, "", "pw"); !errors.Is(err, model.ErrCredentialsRequired) {
			t.Errorf("expected ErrCredentialsRequired, got %v", err)
		}
		if _, err := a.Register(ctx, "bob", ""); !errors.Is(err, model.ErrCredentialsRequired) {
			t.Errorf("expected ErrCredentialsRequired, got %v", err)
		}
	})

	t.Run("password too long", func(t *testing.T) {
		_, err := a.Register(ctx, "carol", strings.Repeat("x", model.MaxPasswordLen+1))
		if !errors.Is(err, model.ErrPasswordTooLong) {
			t.Errorf("expected ErrPasswordTooLong, got %v", err)
		}
	})
}

func TestAuthenticator_Login(t *testing.T) {
	a, cleanup := setupTestAuthenticator(t)
	defer cleanup()
	ctx := context.Background()

	id, err := a.Register(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	t.Run("correct password", func(t *testing.T) {
		token, err := a.Login(ctx, "alice", "wonderland")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		claims, err := a.Verify(token)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if claims.UserID != id {
			t.Errorf("expected id %s, got %s", id, claims.UserID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := a.Login(ctx, "alice", "looking-glass")
		if !errors.Is(err, model.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := a.Login(ctx, "mallory", "wonderland")
		if !errors.Is(err, model.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := a.Login(ctx, "alice", "")
		if !errors.Is(err, model.ErrCredentialsRequired) {
			t.Errorf("expected ErrCredentialsRequired, got %v", err)
		}
	})
}

func TestNewAuthenticatorRejectsBadCost(t *testing.T) {
	_, err := NewAuthenticator(nil, NewTokenSigner([]byte("s"), time.Hour), bcrypt.MaxCost+1)
	if err == nil {
		t.Error("expected error for cost above bcrypt.MaxCost")
	}
}

// TestIdentityRoundTripProperty checks that a token obtained through
// register then login verifies to the identity Register returned.
func TestIdentityRoundTripProperty(t *testing.T) {
	a, cleanup := setupTestAuthenticator(t)
	defer cleanup()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.MaxSize = 32
	properties := gopter.NewProperties(parameters)

	seq := 0
	properties.Property("login token verifies to the registered identity", prop.ForAll(
		func(name, password string) bool {
			seq++
			username := fmt.Sprintf("%s-%d", name, seq)

			id, err := a.Register(ctx, username, password)
			if err != nil {
				t.Logf("Register failed: %v", err)
				return false
			}

			token, err := a.Login(ctx, username, password)
			if err != nil {
				t.Logf("Login failed: %v", err)
				return false
			}

			claims, err := a.Verify(token)
			if err != nil {
				t.Logf("Verify failed: %v", err)
				return false
			}
			return claims.UserID == id && claims.Username == username
		},
		gen.Identifier(),
		gen.AlphaString().Map(func(s string) string { return "p" + s }),
	))

	properties.TestingRun(t)
}
