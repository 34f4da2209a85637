package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrRateLimited        = fmt.Errorf("rate limited")
	ErrNotParticipant     = fmt.Errorf("user is not a participant of this chat")
	ErrNotSender          = fmt.Errorf("only the sender may revise a message")
	ErrUnknownEvent       = fmt.Errorf("unknown event kind")
	ErrPayloadTooLarge    = fmt.Errorf("payload exceeds maximum size")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrConnectionClosed   = fmt.Errorf("connection closed")
	ErrMessageNotFound    = fmt.Errorf("message not found")
	ErrMessageDeleted     = fmt.Errorf("message has been deleted")
	ErrStoreUnavailable   = fmt.Errorf("durable store unavailable")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
	ErrNegativeConnection = fmt.Errorf("presence connection count would go negative")
)

// Code is the machine-readable identifier sent to clients inside an
// `error` event. Rate-limit denials get their own code so clients can
// back off instead of retrying blindly.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotSender):
		return "not_participant"
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrPayloadTooLarge), errors.Is(err, ErrUnknownEvent):
		return "invalid_payload"
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrMessageDeleted):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// Retryable reports whether the client may resend the same request.
// Only a failed durable append qualifies; everything else is terminal.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
