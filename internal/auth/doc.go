// Package auth implements credential registration, login and token
// verification for the relay.
//
// Passwords are stored as bcrypt hashes. Login issues an HS256 JWT that
// binds the user's id and username and expires after a fixed TTL. The same
// Verify path guards both HTTP endpoints and WebSocket handshakes.
package auth
