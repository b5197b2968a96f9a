package model

import (
	"strings"
	"time"
)

const (
	// MaxUsernameLen bounds stored usernames.
	MaxUsernameLen = 64

	// MaxPasswordLen is the longest password bcrypt will accept.
	MaxPasswordLen = 72
)

// UserID is the opaque identity a credential set resolves to.
type UserID string

// User represents a registered account in the credential store.
type User struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Credentials is the request body of both /register and /login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Normalize trims surrounding whitespace from the username.
// Passwords are taken verbatim.
func (c *Credentials) Normalize() {
	c.Username = strings.TrimSpace(c.Username)
}

// Validate validates the credentials.
func (c *Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrCredentialsRequired
	}
	if len(c.Username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if len(c.Password) > MaxPasswordLen {
		return ErrPasswordTooLong
	}
	return nil
}
