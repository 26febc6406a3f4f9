package gateway

import "fmt"

// ProtocolError reports a malformed or out-of-order frame. The offending
// frame is answered with an error envelope; the session stays up unless the
// error occurred before authentication.
type ProtocolError struct {
	FrameType string
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s frame: %s", e.FrameType, e.Reason)
}

// AuthError reports a failed or missing handshake. Always terminal for the
// connection.
type AuthError struct {
	ClientID string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Reason)
}
