package auth

import (
	"errors"
	"fmt"
)

// Reason classifies why an auth call failed.
type Reason int

const (
	InvalidCredentials Reason = iota + 1
	ValidationError
	NetworkUnavailable
	ServerError
	// principalNotFound never leaves this package; it only drives the identity-token fallback.
	principalNotFound
)

func (r Reason) String() string {
	switch r {
	case InvalidCredentials:
		return "invalid_credentials"
	case ValidationError:
		return "validation_error"
	case NetworkUnavailable:
		return "network_unavailable"
	case ServerError:
		return "server_error"
	case principalNotFound:
		return "principal_not_found"
	default:
		return "unknown"
	}
}

// Failure is the error returned by every AuthClient operation.
type Failure struct {
	Reason Reason
	// Field names the offending input for ValidationError.
	Field string
	// Status is the HTTP status when the server answered.
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	switch {
	case f.Field != "" && msg != "":
		return fmt.Sprintf("auth %s (%s): %s", f.Reason, f.Field, msg)
	case f.Field != "":
		return fmt.Sprintf("auth %s (%s)", f.Reason, f.Field)
	case msg != "":
		return fmt.Sprintf("auth %s: %s", f.Reason, msg)
	default:
		return "auth " + f.Reason.String()
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf extracts the failure reason from err, or 0 when err is not a Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return 0
}

func invalidField(field, message string) *Failure {
	return &Failure{Reason: ValidationError, Field: field, Message: message}
}
