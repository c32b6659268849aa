package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStreamInFlight is returned when a new message is sent while the previous reply
	// is still streaming.
	ErrStreamInFlight = errors.New("assistant reply still streaming")
	// ErrEmptyMessage is returned for a send with neither text nor attachments.
	ErrEmptyMessage = errors.New("message needs text or attachments")
	// ErrChunkWithoutOpenMessage identifies InvariantViolation panics.
	ErrChunkWithoutOpenMessage = errors.New("no open assistant message")
)

// InvariantViolation is the panic value raised when the reducer is driven out of order.
// It signals a caller bug, not a runtime condition.
type InvariantViolation struct {
	Op string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("chat: %s: %v", v.Op, ErrChunkWithoutOpenMessage)
}

func (v *InvariantViolation) Unwrap() error { return ErrChunkWithoutOpenMessage }

// FailureKind classifies transport failures.
type FailureKind int

const (
	ConnectionLost FailureKind = iota + 1
	ServerAborted
	NetworkUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case ConnectionLost:
		return "connection_lost"
	case ServerAborted:
		return "server_aborted"
	case NetworkUnavailable:
		return "network_unavailable"
	default:
		return "unknown"
	}
}

// StreamFailure is reported by the transport, either before the stream starts or as the
// stream's final error.
type StreamFailure struct {
	Kind    FailureKind
	Status  int
	Message string
	Err     error

	// token is the bearer token the request was sent with.
	token string
}

func (f *StreamFailure) Error() string {
	switch {
	case f.Status != 0 && f.Message != "":
		return fmt.Sprintf("chat stream %s (status %d): %s", f.Kind, f.Status, f.Message)
	case f.Status != 0:
		return fmt.Sprintf("chat stream %s (status %d)", f.Kind, f.Status)
	case f.Err != nil:
		return fmt.Sprintf("chat stream %s: %v", f.Kind, f.Err)
	default:
		return "chat stream " + f.Kind.String()
	}
}

func (f *StreamFailure) Unwrap() error { return f.Err }

// rejectedToken returns the token a 401 was issued for.
func rejectedToken(err error) (string, bool) {
	var f *StreamFailure
	if !errors.As(err, &f) || f.Kind != ServerAborted || f.Status != http.StatusUnauthorized {
		return "", false
	}
	return f.token, true
}

// IsUnauthorized reports whether err means the backend rejected the session token.
func IsUnauthorized(err error) bool {
	var f *StreamFailure
	return errors.As(err, &f) && f.Kind == ServerAborted && f.Status == http.StatusUnauthorized
}
