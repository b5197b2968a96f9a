package model

import "errors"

var (
	// ErrCredentialsRequired is returned when a username or password is missing.
	ErrCredentialsRequired = errors.New("username and password are required")

	// ErrUsernameTooLong is returned when a username exceeds MaxUsernameLen.
	ErrUsernameTooLong = errors.New("username too long")

	// ErrPasswordTooLong is returned when a password exceeds MaxPasswordLen.
	ErrPasswordTooLong = errors.New("password too long")

	// ErrUserNotFound is returned by the credential store when no user matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUsername is returned when registering a username that already exists.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidCredentials is returned when a login does not match a stored user.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenMalformed is returned when a token cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenSignatureInvalid is returned when a token was not signed with our secret.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")

	// ErrNoRoute is recorded when an interaction has no capture connection to go to.
	// It is counted, never returned to the sender.
	ErrNoRoute = errors.New("no capture connection")

	// ErrMalformedMessage is returned when an application message fails to parse or validate.
	ErrMalformedMessage = errors.New("malformed message")
)

// IsAuthError reports whether err belongs to the authentication taxonomy.
func IsAuthError(err error) bool {
	switch {
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenSignatureInvalid),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrDuplicateUsername):
		return true
	}
	return false
}
