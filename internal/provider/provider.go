package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/didash/notifier/internal/domain"
	"github.com/google/uuid"
)

// Transport is the outbound mail submission port. One Submit call is one
// transport session: connect, submit, disconnect. The returned slice holds
// exactly one outcome per requested recipient. A non-nil error means the
// session itself failed and nothing was delivered to anyone.
type Transport interface {
	Submit(ctx context.Context, msg Message, recipients []string) ([]RecipientOutcome, error)
}

// Message is one logical message with its stable identity. The same Message
// value is reused for the initial batch submission and every retry so all
// transport log lines correlate.
type Message struct {
	Envelope    domain.MessageEnvelope
	ID          string
	ContentHash string
}

// NewMessage assigns the message identifier and content fingerprint for a
// logical message. The fingerprint is log correlation only, never dedup.
func NewMessage(envelope domain.MessageEnvelope) Message {
	return Message{
		Envelope:    envelope,
		ID:          newMessageID(),
		ContentHash: ContentFingerprint(envelope.Subject, envelope.Body),
	}
}

// RecipientOutcome is the per-recipient result of one submission attempt.
type RecipientOutcome struct {
	Recipient string
	Accepted  bool
	// Code and Reason carry the backend rejection when Accepted is false.
	Code   int
	Reason string
}

// Detail renders the rejection as a failure detail string, e.g. "550 mailbox unavailable".
func (o RecipientOutcome) Detail() string {
	if o.Accepted {
		return ""
	}
	reason := strings.TrimSpace(o.Reason)
	if o.Code > 0 && reason != "" {
		return fmt.Sprintf("%d %s", o.Code, reason)
	}
	if o.Code > 0 {
		return fmt.Sprintf("%d recipient rejected", o.Code)
	}
	if reason != "" {
		return reason
	}
	return "recipient rejected"
}

func newMessageID() string {
	return fmt.Sprintf("<%s@notifier>", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ContentFingerprint hashes subject and body into a short token shared by all
// log lines of one logical message.
func ContentFingerprint(subject, body string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(subject+"\n"+body))
}
