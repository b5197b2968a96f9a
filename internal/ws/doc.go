// Package ws relays screen frames and input events between a user's capture
// device and that user's viewers over WebSocket.
//
// The package implements:
//   - Registry: per-identity session table, one capture and many viewers each
//   - FrameRelay: bounded, non-blocking fan-out of frames to viewers
//   - InteractionRouter: delivery of viewer input to the capture connection
//   - Hub: accepts sockets and supervises each through
//     Connecting, Authenticating, Active, Closing and Closed
//
// Messages are forwarded byte for byte; the relay validates them but never
// re-encodes them. A second capture connection for the same identity
// replaces the first, which is closed with CloseSuperseded.
package ws
