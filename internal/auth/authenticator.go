package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/remote-mirror/backend/internal/model"
)

// UserStore is the credential store the authenticator depends on.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Authenticator registers users, logs them in and verifies their tokens.
type Authenticator struct {
	users  UserStore
	tokens *TokenSigner
	cost   int

	// compared against when the username is unknown so both paths cost one bcrypt run
	dummyHash []byte
}

// NewAuthenticator creates an Authenticator hashing with the given bcrypt cost.
func NewAuthenticator(users UserStore, tokens *TokenSigner, cost int) (*Authenticator, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("invalid bcrypt cost %d: %w", cost, err)
	}
	return &Authenticator{
		users:     users,
		tokens:    tokens,
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

// Register creates a user and returns its new identity.
func (a *Authenticator) Register(ctx context.Context, username, password string) (model.UserID, error) {
	creds := model.Credentials{Username: username, Password: password}
	creds.Normalize()
	if err := creds.Validate(); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           model.UserID(uuid.NewString()),
		Username:     creds.Username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicateUsername) {
			return "", model.ErrDuplicateUsername
		}
		return "", fmt.Errorf("failed to store user: %w", err)
	}

	log.Info().Str("module", "auth").Str("user", string(user.ID)).Str("username", user.Username).Msg("user registered")
	return user.ID, nil
}

// Login checks the password and issues an access token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	creds := model.Credentials{Username: username, Password: password}
	creds.Normalize()
	if err := creds.Validate(); err != nil {
		if errors.Is(err, model.ErrCredentialsRequired) {
			return "", err
		}
		// over-long input can never match a stored credential
		return "", model.ErrInvalidCredentials
	}

	user, err := a.users.GetByUsername(ctx, creds.Username)
	if errors.Is(err, model.ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(creds.Password))
		return "", model.ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		log.Debug().Str("module", "auth").Str("username", creds.Username).Msg("password mismatch")
		return "", model.ErrInvalidCredentials
	}

	token, err := a.tokens.Sign(user)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Verify maps a token back to the identity it was issued for.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return a.tokens.Verify(token)
}
