package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/provider"
	"go.uber.org/zap"
)

// fakeTransport records every Submit call and scripts per-recipient replies.
type fakeTransport struct {
	mu       sync.Mutex
	submits  [][]string
	messages []provider.Message
	submitFn func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error)
}

func (f *fakeTransport) Submit(ctx context.Context, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
	f.mu.Lock()
	call := len(f.submits)
	f.submits = append(f.submits, append([]string(nil), recipients...))
	f.messages = append(f.messages, msg)
	fn := f.submitFn
	f.mu.Unlock()

	if fn == nil {
		return acceptAll(recipients), nil
	}
	return fn(call, msg, recipients)
}

func (f *fakeTransport) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func acceptAll(recipients []string) []provider.RecipientOutcome {
	outcomes := make([]provider.RecipientOutcome, 0, len(recipients))
	for _, r := range recipients {
		outcomes = append(outcomes, provider.RecipientOutcome{Recipient: r, Accepted: true})
	}
	return outcomes
}

func rejectAll(recipients []string, code int, reason string) []provider.RecipientOutcome {
	outcomes := make([]provider.RecipientOutcome, 0, len(recipients))
	for _, r := range recipients {
		outcomes = append(outcomes, provider.RecipientOutcome{Recipient: r, Code: code, Reason: reason})
	}
	return outcomes
}

func newTestSender(t *testing.T, transport provider.Transport) *BulkSender {
	t.Helper()
	sender, err := NewBulkSender(transport, "noreply@example.com", 3, 2*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBulkSender() error = %v", err)
	}
	sender.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return sender
}

func testEnvelope() domain.MessageEnvelope {
	return domain.MessageEnvelope{
		Subject:       "Pending classification",
		Body:          "You have documents awaiting review.",
		CorrelationID: "corr-1",
	}
}

func TestSendBulkAllAccepted(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{"a@x", "b@x"}, testEnvelope())

	if len(outcome.Sent) != 2 || len(outcome.Failed) != 0 {
		t.Fatalf("outcome = %d sent / %d failed, want 2/0", len(outcome.Sent), len(outcome.Failed))
	}
	if calls := transport.calls(); len(calls) != 1 {
		t.Fatalf("submit calls = %d, want 1", len(calls))
	}
	if transport.messages[0].Envelope.From != "noreply@example.com" {
		t.Fatalf("default sender not applied: %q", transport.messages[0].Envelope.From)
	}
}

func TestSendBulkEmptyListSkipsTransport(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sender := newTestSender(t, transport)

	for _, recipients := range [][]string{nil, {}, {" ", ""}} {
		outcome := sender.SendBulk(context.Background(), recipients, testEnvelope())
		if outcome.Total() != 0 {
			t.Fatalf("outcome total = %d, want 0 for %v", outcome.Total(), recipients)
		}
	}
	if calls := transport.calls(); len(calls) != 0 {
		t.Fatalf("transport should never be opened, got %d calls", len(calls))
	}
}

func TestSendBulkDeduplicatesAndTrims(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{" a@x ", "a@x", "b@x", ""}, testEnvelope())

	if outcome.Total() != 2 {
		t.Fatalf("outcome total = %d, want 2 distinct trimmed recipients", outcome.Total())
	}
	calls := transport.calls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0] != "a@x" || calls[0][1] != "b@x" {
		t.Fatalf("batch recipients = %v, want [a@x b@x]", calls)
	}
}

func TestSendBulkRejectedThenRetrySuccess(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			if call == 0 {
				return []provider.RecipientOutcome{
					{Recipient: "a@x", Accepted: true},
					{Recipient: "b@x", Code: 450, Reason: "greylisted"},
					{Recipient: "c@x", Accepted: true},
				}, nil
			}
			// First individual retry for b@x succeeds.
			return acceptAll(recipients), nil
		},
	}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{"a@x", "b@x", "c@x"}, testEnvelope())

	if len(outcome.Sent) != 3 || len(outcome.Failed) != 0 {
		t.Fatalf("outcome = %d sent / %d failed, want 3/0", len(outcome.Sent), len(outcome.Failed))
	}

	calls := transport.calls()
	if len(calls) != 2 {
		t.Fatalf("submit calls = %d, want 2 (batch + one retry)", len(calls))
	}
	if len(calls[1]) != 1 || calls[1][0] != "b@x" {
		t.Fatalf("retry recipients = %v, want [b@x]", calls[1])
	}
}

func TestSendBulkRejectedEveryAttempt(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			return rejectAll(recipients, 550, "mailbox unavailable"), nil
		},
	}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{"b@x"}, testEnvelope())

	if len(outcome.Sent) != 0 || len(outcome.Failed) != 1 {
		t.Fatalf("outcome = %d sent / %d failed, want 0/1", len(outcome.Sent), len(outcome.Failed))
	}
	if detail := outcome.Failed["b@x"]; detail != "550 mailbox unavailable" {
		t.Fatalf("failure detail = %q", detail)
	}
	// Initial batch attempt plus max_retries individual attempts.
	if calls := transport.calls(); len(calls) != 4 {
		t.Fatalf("submit calls = %d, want 4", len(calls))
	}
}

func TestSendBulkBatchErrorDegradesToPerRecipientFailures(t *testing.T) {
	t.Parallel()

	sessionErr := errors.New("smtp session error: dial: connection refused")
	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			return nil, sessionErr
		},
	}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{"a@x", "b@x", "c@x"}, testEnvelope())

	if len(outcome.Failed) != 3 || len(outcome.Sent) != 0 {
		t.Fatalf("outcome = %d sent / %d failed, want 0/3", len(outcome.Sent), len(outcome.Failed))
	}
	for recipient, detail := range outcome.Failed {
		if detail != sessionErr.Error() {
			t.Fatalf("detail for %s = %q, want session error message", recipient, detail)
		}
	}
	// Each of the 3 recipients is retried individually up to 3 times after
	// the failed batch attempt.
	if calls := transport.calls(); len(calls) != 1+3*3 {
		t.Fatalf("submit calls = %d, want 10", len(calls))
	}
}

func TestSendBulkKeepsOriginalDetailWhenRetriesSilent(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			if call == 0 {
				return rejectAll(recipients, 450, "greylisted"), nil
			}
			// Retries return no outcome for the recipient at all.
			return nil, nil
		},
	}
	sender := newTestSender(t, transport)

	outcome := sender.SendBulk(context.Background(), []string{"a@x"}, testEnvelope())

	if detail := outcome.Failed["a@x"]; detail != "450 greylisted" {
		t.Fatalf("detail = %q, want original rejection preserved", detail)
	}
}

func TestSendBulkStableMessageIdentityAcrossAttempts(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			if call < 2 {
				return rejectAll(recipients, 450, "try later"), nil
			}
			return acceptAll(recipients), nil
		},
	}
	sender := newTestSender(t, transport)

	sender.SendBulk(context.Background(), []string{"a@x"}, testEnvelope())

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.messages) < 2 {
		t.Fatalf("expected multiple attempts, got %d", len(transport.messages))
	}
	first := transport.messages[0]
	for i, msg := range transport.messages {
		if msg.ID != first.ID {
			t.Fatalf("attempt %d message id = %q, want %q", i, msg.ID, first.ID)
		}
		if msg.ContentHash != first.ContentHash {
			t.Fatalf("attempt %d content hash = %q, want %q", i, msg.ContentHash, first.ContentHash)
		}
	}
}

func TestSendBulkBackoffSchedule(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			return rejectAll(recipients, 450, "try later"), nil
		},
	}
	sender, err := NewBulkSender(transport, "noreply@example.com", 4, 2*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBulkSender() error = %v", err)
	}

	var delays []time.Duration
	sender.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	sender.SendBulk(context.Background(), []string{"a@x"}, testEnvelope())

	// Delay before retry attempt k (k >= 2) doubles from the base; nothing
	// before attempt 1 or after the final attempt.
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != 3 {
		t.Fatalf("delays = %v, want 3 sleeps", delays)
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, d, want[i])
		}
	}
}

func TestSendBulkInterruptedBackoffStopsRetrying(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		submitFn: func(call int, msg provider.Message, recipients []string) ([]provider.RecipientOutcome, error) {
			return rejectAll(recipients, 450, "try later"), nil
		},
	}
	sender := newTestSender(t, transport)
	sender.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	outcome := sender.SendBulk(context.Background(), []string{"a@x", "b@x"}, testEnvelope())

	// Both recipients stay failed and keep their details; the partition
	// invariant holds even under interruption.
	if outcome.Total() != 2 || len(outcome.Failed) != 2 {
		t.Fatalf("outcome = %+v, want both recipients failed", outcome)
	}
	if detail := outcome.Failed["a@x"]; detail != "450 try later" {
		t.Fatalf("detail = %q, want last rejection preserved", detail)
	}
}
