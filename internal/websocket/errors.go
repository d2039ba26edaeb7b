package websocket

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Wire error codes carried in the data of an "error" frame.
const (
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeCapacityError       = "CAPACITY_ERROR"
	CodeInvalidTopic        = "INVALID_TOPIC"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeFrameTooLarge       = "FRAME_TOO_LARGE"
	CodeUnknownMessageType  = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeConnectionTimeout   = "CONNECTION_TIMEOUT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Close codes used when a connection is torn down server-side. Fatal protocol
// errors and evictions always carry one of these so the client can tell the
// close reasons apart.
const (
	CloseReasonCapacity     = websocket.CloseTryAgainLater    // 1013
	CloseReasonFrameTooBig  = websocket.CloseMessageTooBig    // 1009
	CloseReasonProtocol     = websocket.CloseProtocolError    // 1002
	CloseReasonTimeout      = websocket.ClosePolicyViolation  // 1008
	CloseReasonShuttingDown = websocket.CloseGoingAway        // 1001
	CloseReasonNormal       = websocket.CloseNormalClosure    // 1000
)

var (
	ErrClientDisconnected = fmt.Errorf("client disconnected")
	ErrConnectionNotFound = fmt.Errorf("connection not found")
	ErrRegistryClosed     = fmt.Errorf("registry is shut down")
	ErrFrameTooLarge      = fmt.Errorf("frame exceeds maximum size")
	ErrUnknownMessageType = fmt.Errorf("unknown message type")
)

// AuthenticationError is returned when the bearer credential presented during
// the handshake is missing, malformed or expired. Fatal to the attempt: the
// socket is refused before admission.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// CapacityError is returned by Registry.Admit when either the global or the
// per-identity connection cap is reached. Fatal to the attempt, retryable by
// the client later.
type CapacityError struct {
	Identity string
	Scope    string // "identity" or "global"
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("connection capacity reached (%s cap %d)", e.Scope, e.Limit)
}

// InvalidTopicError is returned for subscribe/unsubscribe requests naming a
// topic outside the fixed vocabulary. Non-fatal, per-frame.
type InvalidTopicError struct {
	Topic string
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("invalid topic: %q", e.Topic)
}

// RateLimitError is reported to a client that exceeded its sliding-window
// message budget. Non-fatal: the frame is dropped, the connection stays open.
type RateLimitError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identity, e.RetryAfter)
}
