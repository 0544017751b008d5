package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/repositories"
)

func TestSweepExpiresClaimsAndLocks(t *testing.T) {
	wfID := uuid.New()
	var recomputed []uuid.UUID
	workflows := &fakeWorkflowRepo{
		ExpireClaimsFunc: func(ctx context.Context, ttl time.Duration) ([]repositories.ExpiredClaim, error) {
			assert.Equal(t, 10*time.Minute, ttl)
			return []repositories.ExpiredClaim{
				{WorkflowID: wfID, StepID: "a", WorkerID: "w1"},
				{WorkflowID: wfID, StepID: "b", WorkerID: "w2"},
			}, nil
		},
		RecomputeStatusesFunc: func(ctx context.Context, workflowID uuid.UUID) (*repositories.StatusSnapshot, error) {
			recomputed = append(recomputed, workflowID)
			return &repositories.StatusSnapshot{}, nil
		},
	}
	locks := &fakeLockRepo{}

	sweeper := NewSweeper(workflows, locks, newTestConfig(), zap.NewNop())
	sweeper.sweep(context.Background())

	assert.Equal(t, []uuid.UUID{wfID}, recomputed, "one recompute per affected workflow")
	assert.Equal(t, 1, locks.Swept)
}

func TestSweepContinuesPastClaimErrors(t *testing.T) {
	workflows := &fakeWorkflowRepo{
		ExpireClaimsFunc: func(ctx context.Context, ttl time.Duration) ([]repositories.ExpiredClaim, error) {
			return nil, assert.AnError
		},
	}
	locks := &fakeLockRepo{}

	sweeper := NewSweeper(workflows, locks, newTestConfig(), zap.NewNop())
	sweeper.sweep(context.Background())

	assert.Equal(t, 1, locks.Swept, "lock sweep still runs after claim sweep failure")
}
