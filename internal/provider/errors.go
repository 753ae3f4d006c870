package provider

import (
	"context"
	"errors"
	"net"
	"strings"
)

// SessionError classifies a transport session failure (dial, handshake, or a
// submission step that dooms the whole attempt). It never escapes the bulk
// sender; there it degrades into per-recipient failure details.
type SessionError struct {
	Op        string
	Transient bool
	Cause     error
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "smtp session error")

	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a submission error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func sessionError(op string, transient bool, cause error) *SessionError {
	return &SessionError{Op: op, Transient: transient, Cause: cause}
}
