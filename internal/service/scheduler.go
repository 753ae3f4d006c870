package service

import (
	"context"
	"fmt"
	"time"

	"github.com/didash/notifier/internal/domain"
	"go.uber.org/zap"
)

const defaultCycleInterval = 15 * time.Minute

// CycleRunner is the orchestration entry point the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context, loadDomain string, envelope domain.MessageEnvelope, opts CycleOptions) (CycleSummary, error)
}

// Scheduler periodically runs one delivery cycle for a configured load
// domain. Cycles never overlap: the loop is synchronous and the next tick
// waits for the previous cycle to finish.
type Scheduler struct {
	runner     CycleRunner
	loadDomain string
	envelope   domain.MessageEnvelope
	opts       CycleOptions
	logger     *zap.Logger
	interval   time.Duration
}

func NewScheduler(
	runner CycleRunner,
	loadDomain string,
	envelope domain.MessageEnvelope,
	opts CycleOptions,
	interval time.Duration,
	logger *zap.Logger,
) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if loadDomain == "" {
		return nil, fmt.Errorf("load domain is required")
	}
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner:     runner,
		loadDomain: loadDomain,
		envelope:   envelope,
		opts:       opts,
		logger:     logger,
		interval:   interval,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run immediately so pending notifications do not wait for the first
	// ticker edge.
	if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial delivery cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("delivery cycle failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	summary, err := s.runner.RunCycle(ctx, s.loadDomain, s.envelope, s.opts)
	if err != nil {
		return err
	}

	s.logger.Info("scheduled cycle finished",
		zap.String("loadDomain", s.loadDomain),
		zap.Int("fetched", summary.Fetched),
		zap.Int("sent", len(summary.Outcome.Sent)),
		zap.Int("failed", len(summary.Outcome.Failed)),
		zap.Bool("rowsWritten", summary.RowsWritten()),
	)
	return nil
}
