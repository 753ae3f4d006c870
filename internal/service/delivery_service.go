package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/observability"
	"github.com/didash/notifier/internal/repository"
	"go.uber.org/zap"
)

// CycleOptions narrows one delivery cycle.
type CycleOptions struct {
	Kind          domain.Kind
	FetchLimit    int
	PSIDAllowList []string
	ChunkSize     int
}

// CycleSummary reports one delivery cycle. Outcome distinguishes recipients
// the transport could not reach (retried next cycle, rows stay unfinished)
// from the reconciliation counts that were actually persisted.
type CycleSummary struct {
	Fetched        int
	Outcome        domain.DeliveryOutcome
	UpdatedSuccess int
	UpdatedError   int
}

// RowsWritten reports whether the cycle produced new terminal state, so a
// caller can gate downstream steps on it.
func (s CycleSummary) RowsWritten() bool {
	return s.UpdatedSuccess+s.UpdatedError > 0
}

// DeliveryService runs the delivery cycle: fetch pending recipients, send
// bulk, reconcile persisted state. One cycle runs to completion before the
// next may start; concurrent cycles are serialized by the caller.
type DeliveryService struct {
	recipients repository.RecipientRepository
	reconciler repository.ReconcileRepository
	sender     BulkMailSender
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewDeliveryService(
	recipients repository.RecipientRepository,
	reconciler repository.ReconcileRepository,
	sender BulkMailSender,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconcile repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("bulk mail sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		recipients: recipients,
		reconciler: reconciler,
		sender:     sender,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// RunCycle executes one fetch-send-reconcile pass for a load domain. An empty
// fetch stops the cycle with a zero summary. A fetch failure aborts before
// any mail is sent. A reconciliation failure after a successful send is
// returned distinctly: the mail is out, the rows stayed unfinished, and the
// same recipients may be notified again next cycle.
func (s *DeliveryService) RunCycle(ctx context.Context, loadDomain string, envelope domain.MessageEnvelope, opts CycleOptions) (CycleSummary, error) {
	summary := CycleSummary{Outcome: domain.NewDeliveryOutcome()}

	if strings.TrimSpace(loadDomain) == "" {
		return summary, fmt.Errorf("%w: load domain is required", domain.ErrValidation)
	}
	if err := envelope.Validate(); err != nil {
		return summary, err
	}

	log := observability.WithCycle(observability.WithContextLogger(s.logger, ctx), loadDomain)
	start := s.now()

	emails, err := s.recipients.FetchPending(ctx, loadDomain, repository.FetchOptions{
		Limit:         opts.FetchLimit,
		Kind:          opts.Kind,
		PSIDAllowList: opts.PSIDAllowList,
		ChunkSize:     opts.ChunkSize,
	})
	if err != nil {
		log.Error("pending recipient fetch failed", zap.Error(err))
		return summary, err
	}

	summary.Fetched = len(emails)
	s.metrics.AddRecipientsFetched(loadDomain, summary.Fetched)
	if summary.Fetched == 0 {
		log.Info("no pending recipients, cycle stopped")
		return summary, nil
	}

	summary.Outcome = s.sender.SendBulk(ctx, emails, envelope)
	for range summary.Outcome.Sent {
		s.metrics.IncEmailSent(loadDomain)
	}
	for _, detail := range summary.Outcome.Failed {
		s.metrics.IncEmailFailed(loadDomain, failureReason(detail))
	}

	okCount, errCount, err := s.reconciler.Reconcile(ctx, loadDomain, summary.Outcome.Sent, summary.Outcome.Failed, repository.ReconcileOptions{
		Kind:      opts.Kind,
		ChunkSize: opts.ChunkSize,
	})
	if err != nil {
		// Mail already submitted cannot be retracted. Rows stay unfinished,
		// so the same recipients are eligible again next cycle: at-least-once
		// under this failure mode, and an operator should look at it.
		log.Error("reconciliation failed after send, rows remain unfinished",
			zap.Int("sent", len(summary.Outcome.Sent)),
			zap.Int("failed", len(summary.Outcome.Failed)),
			zap.Error(err),
		)
		return summary, err
	}

	summary.UpdatedSuccess = okCount
	summary.UpdatedError = errCount
	s.metrics.AddRowsReconciled(loadDomain, "success", okCount)
	s.metrics.AddRowsReconciled(loadDomain, "error", errCount)
	s.metrics.ObserveCycleDuration(loadDomain, s.now().Sub(start))

	log.Info("delivery cycle complete",
		zap.Int("fetched", summary.Fetched),
		zap.Int("sent", len(summary.Outcome.Sent)),
		zap.Int("failed", len(summary.Outcome.Failed)),
		zap.Int("updatedSuccess", summary.UpdatedSuccess),
		zap.Int("updatedError", summary.UpdatedError),
	)
	return summary, nil
}

// failureReason maps a recipient's failure detail onto a coarse metric label.
// Rejection details start with the backend reply code; session failures carry
// the transport error message.
func failureReason(detail string) string {
	if strings.HasPrefix(detail, "smtp session error") {
		return "session_error"
	}
	if len(detail) >= 3 {
		if code, err := strconv.Atoi(detail[:3]); err == nil {
			if code >= 500 {
				return "rejected_permanent"
			}
			if code >= 400 {
				return "rejected_transient"
			}
		}
	}
	return "send_failed"
}
