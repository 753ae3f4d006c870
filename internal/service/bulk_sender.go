package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/observability"
	"github.com/didash/notifier/internal/provider"
	"go.uber.org/zap"
)

const (
	defaultMaxSendRetries  = 3
	defaultSendBaseBackoff = 2 * time.Second
)

// BulkMailSender is the delivery port the orchestrator composes. The outcome
// accounts for every distinct trimmed input recipient regardless of how the
// transport misbehaved.
type BulkMailSender interface {
	SendBulk(ctx context.Context, recipients []string, envelope domain.MessageEnvelope) domain.DeliveryOutcome
}

// BulkSender sends one logical message to many recipients: a single batch
// submission first, then individual retries with doubling backoff for the
// recipients the batch could not reach. Transport failures never escape; they
// degrade into per-recipient failure details.
type BulkSender struct {
	transport   provider.Transport
	defaultFrom string
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewBulkSender(
	transport provider.Transport,
	defaultFrom string,
	maxRetries int,
	baseBackoff time.Duration,
	logger *zap.Logger,
) (*BulkSender, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if strings.TrimSpace(defaultFrom) == "" {
		return nil, fmt.Errorf("default sender address is required")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxSendRetries
	}
	if baseBackoff <= 0 {
		baseBackoff = defaultSendBaseBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BulkSender{
		transport:   transport,
		defaultFrom: defaultFrom,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logger,
		sleep:       sleepContext,
	}, nil
}

func (s *BulkSender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SendBulk submits one message to every recipient. An empty or all-blank
// recipient list short-circuits without opening a transport session.
func (s *BulkSender) SendBulk(ctx context.Context, recipients []string, envelope domain.MessageEnvelope) domain.DeliveryOutcome {
	outcome := domain.NewDeliveryOutcome()

	toList := normalizeRecipients(recipients)
	if len(toList) == 0 {
		s.logger.Warn("send bulk called with empty recipient list")
		return outcome
	}

	if strings.TrimSpace(envelope.From) == "" {
		envelope.From = s.defaultFrom
	}

	// One identity for the logical message; every attempt, initial and retry,
	// logs the same messageId and bodyHash.
	msg := provider.NewMessage(envelope)
	log := s.logger.With(
		zap.String("messageId", msg.ID),
		zap.String("bodyHash", msg.ContentHash),
		zap.String("from", envelope.From),
		zap.String("subject", envelope.Subject),
		zap.String("correlationId", envelope.CorrelationID),
	)

	attemptOutcomes, err := s.transport.Submit(ctx, msg, toList)
	if err != nil {
		log.Error("batch submission failed, marking every recipient failed", zap.Int("recipients", len(toList)), zap.Error(err))
		for _, recipient := range toList {
			outcome.MarkFailed(recipient, err.Error())
		}
	} else {
		for _, attempt := range attemptOutcomes {
			if attempt.Accepted {
				outcome.MarkSent(attempt.Recipient)
				log.Info("recipient accepted", zap.String("recipient", attempt.Recipient))
			} else {
				outcome.MarkFailed(attempt.Recipient, attempt.Detail())
			}
		}
		if len(outcome.Failed) > 0 {
			log.Warn("initial submission had rejections", zap.Int("rejected", len(outcome.Failed)))
		}
	}

	if len(outcome.Failed) > 0 {
		// Retry in original recipient order.
		for _, recipient := range toList {
			detail, stillFailed := outcome.Failed[recipient]
			if !stillFailed {
				continue
			}
			if ctx.Err() != nil {
				log.Warn("retry loop interrupted", zap.Int("remaining", len(outcome.Failed)))
				break
			}
			if ok, lastDetail := s.retrySingle(ctx, msg, recipient, detail, log); ok {
				outcome.MarkSent(recipient)
			} else {
				outcome.MarkFailed(recipient, lastDetail)
			}
		}
	}

	log.Info("bulk send summary", zap.Int("sent", len(outcome.Sent)), zap.Int("failed", len(outcome.Failed)))
	for recipient, detail := range outcome.Failed {
		log.Error("recipient failed", zap.String("recipient", recipient), zap.String("detail", detail))
	}
	return outcome
}

// retrySingle retries one recipient with one-recipient submissions, doubling
// the delay between attempts from the base backoff. No delay precedes the
// first attempt or follows the last. Returns the last failure detail when the
// attempt budget runs out; the original detail survives if no retry produced
// a better one.
func (s *BulkSender) retrySingle(ctx context.Context, msg provider.Message, recipient, originalDetail string, log *zap.Logger) (bool, string) {
	lastDetail := originalDetail
	delay := s.baseBackoff

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, delay); err != nil {
				log.Warn("retry backoff interrupted",
					zap.String("recipient", recipient),
					zap.Int("attempt", attempt),
				)
				return false, lastDetail
			}
			delay *= 2
		}

		s.metrics.IncRetryAttempt()
		attemptOutcomes, err := s.transport.Submit(ctx, msg, []string{recipient})
		if err != nil {
			lastDetail = err.Error()
			log.Warn("retry attempt failed",
				zap.String("recipient", recipient),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		rejected := false
		for _, attemptOutcome := range attemptOutcomes {
			if attemptOutcome.Recipient != recipient {
				continue
			}
			if attemptOutcome.Accepted {
				log.Info("retry success",
					zap.String("recipient", recipient),
					zap.Int("attempt", attempt),
				)
				return true, ""
			}
			rejected = true
			lastDetail = attemptOutcome.Detail()
		}
		if rejected {
			log.Warn("retry rejected",
				zap.String("recipient", recipient),
				zap.Int("attempt", attempt),
				zap.String("detail", lastDetail),
			)
		}
	}

	return false, lastDetail
}

// normalizeRecipients trims, drops blanks, and de-duplicates while preserving
// first-seen order.
func normalizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	result := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		trimmed := strings.TrimSpace(recipient)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// sleepContext waits for the delay or the context, whichever ends first, so a
// shutdown signal can abort a stalled retry loop.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
