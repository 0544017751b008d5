package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// Sweeper is the background expiry job: it reverts timed-out task claims to
// READY and deletes expired file leases on a fixed interval, so crashed
// workers never wedge a workflow.
type Sweeper struct {
	workflows repositories.WorkflowRepository
	locks     repositories.LockRepository
	cfg       *config.Config
	logger    *zap.Logger
	cron      *cron.Cron
}

// NewSweeper creates a new Sweeper.
func NewSweeper(
	workflows repositories.WorkflowRepository,
	locks repositories.LockRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		workflows: workflows,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.Named("sweeper"),
	}
}

// Start schedules the sweep at the configured interval and runs one sweep
// immediately so a restart clears stale state without waiting a period.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	spec := fmt.Sprintf("@every %s", s.cfg.Coordination.SweepInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.sweep(ctx)
	s.cron.Start()
	s.logger.Info("Sweeper started",
		zap.Duration("interval", s.cfg.Coordination.SweepInterval),
		zap.Duration("claim_ttl", s.cfg.Coordination.ClaimTTL))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.workflows.ExpireClaims(ctx, s.cfg.Coordination.ClaimTTL)
	if err != nil {
		s.logger.Error("Claim expiry sweep failed", zap.Error(err))
	} else if len(expired) > 0 {
		for _, e := range expired {
			s.logger.Warn("Claim expired, task re-readied",
				zap.String("workflow_id", e.WorkflowID.String()),
				zap.String("step_id", e.StepID),
				zap.String("worker_id", e.WorkerID))
		}
		// Statuses may have drifted while the tasks sat claimed.
		seen := make(map[string]bool)
		for _, e := range expired {
			if seen[e.WorkflowID.String()] {
				continue
			}
			seen[e.WorkflowID.String()] = true
			if _, err := s.workflows.RecomputeStatuses(ctx, e.WorkflowID); err != nil {
				s.logger.Error("Status recompute failed after claim expiry",
					zap.String("workflow_id", e.WorkflowID.String()),
					zap.Error(err))
			}
		}
	}

	n, err := s.locks.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Lock expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("Expired locks swept", zap.Int("count", n))
	}
}
