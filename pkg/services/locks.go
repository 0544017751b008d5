package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// LockRequest asks for a file-access lease on behalf of a worker executing
// a task.
type LockRequest struct {
	Path       string
	HolderID   string
	TaskStepID string
	Mode       models.FileAccessMode
	// TTL overrides the configured lock TTL when positive.
	TTL time.Duration
}

// LockService validates and applies file-lease operations on top of the
// lock store. All operations are non-blocking.
type LockService interface {
	Acquire(ctx context.Context, req *LockRequest) (*models.FileLock, error)
	Release(ctx context.Context, path, holderID string) error
	ReleaseAll(ctx context.Context, holderID string) (int, error)
	ListActive(ctx context.Context, path string) ([]*models.FileLock, error)
}

type lockService struct {
	locks  repositories.LockRepository
	cfg    *config.Config
	logger *zap.Logger
}

// NewLockService creates a new LockService.
func NewLockService(locks repositories.LockRepository, cfg *config.Config, logger *zap.Logger) LockService {
	return &lockService{
		locks:  locks,
		cfg:    cfg,
		logger: logger.Named("locks"),
	}
}

var _ LockService = (*lockService)(nil)

func (s *lockService) Acquire(ctx context.Context, req *LockRequest) (*models.FileLock, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("%w: path is required", apperrors.ErrValidation)
	}
	if req.HolderID == "" {
		return nil, fmt.Errorf("%w: holder_worker_id is required", apperrors.ErrValidation)
	}
	if !models.IsValidFileAccessMode(req.Mode) {
		return nil, fmt.Errorf("%w: unknown access mode %q", apperrors.ErrValidation, req.Mode)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.Coordination.LockTTL
	}

	lock := &models.FileLock{
		Path:       req.Path,
		HolderID:   req.HolderID,
		TaskStepID: req.TaskStepID,
		Mode:       req.Mode,
		ExpiresAt:  time.Now().UTC().Add(ttl),
	}
	if err := s.locks.Acquire(ctx, lock); err != nil {
		return nil, err
	}

	s.logger.Info("Lock acquired",
		zap.String("path", lock.Path),
		zap.String("holder", lock.HolderID),
		zap.String("mode", string(lock.Mode)),
		zap.Time("expires_at", lock.ExpiresAt))
	return lock, nil
}

func (s *lockService) Release(ctx context.Context, path, holderID string) error {
	if path == "" || holderID == "" {
		return fmt.Errorf("%w: path and holder_worker_id are required", apperrors.ErrValidation)
	}
	if err := s.locks.Release(ctx, path, holderID); err != nil {
		return err
	}
	s.logger.Info("Lock released",
		zap.String("path", path),
		zap.String("holder", holderID))
	return nil
}

func (s *lockService) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	if holderID == "" {
		return 0, fmt.Errorf("%w: holder_worker_id is required", apperrors.ErrValidation)
	}
	n, err := s.locks.ReleaseAll(ctx, holderID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Locks released",
			zap.String("holder", holderID),
			zap.Int("count", n))
	}
	return n, nil
}

func (s *lockService) ListActive(ctx context.Context, path string) ([]*models.FileLock, error) {
	return s.locks.ListActive(ctx, path)
}
