package domain

import (
	"fmt"
	"strings"
)

// MessageEnvelope carries one already-rendered message for a delivery cycle.
// Body construction and templating happen upstream; the engine only submits.
type MessageEnvelope struct {
	Subject string
	Body    string
	HTML    bool
	// From defaults to the configured sender address when empty.
	From string
	// CorrelationID is an optional caller token echoed on every log line for
	// this logical message.
	CorrelationID string
}

func (e MessageEnvelope) Validate() error {
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	return nil
}
