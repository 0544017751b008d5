package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/models"
)

// LockRepository maintains the active file-lease set. Acquire is serialized
// per path (advisory transaction lock on the path key) and never blocks the
// caller: a conflicting request fails immediately with ErrLockConflict and
// the worker retries after backoff.
type LockRepository interface {
	Acquire(ctx context.Context, lock *models.FileLock) error
	Release(ctx context.Context, path, holderID string) error
	ReleaseAll(ctx context.Context, holderID string) (int, error)
	ReleaseTask(ctx context.Context, holderID, taskStepID string) (int, error)
	ListActive(ctx context.Context, path string) ([]*models.FileLock, error)
	SweepExpired(ctx context.Context) (int, error)
}

type lockRepository struct {
	db *database.DB
}

// NewLockRepository creates a new LockRepository.
func NewLockRepository(db *database.DB) LockRepository {
	return &lockRepository{db: db}
}

var _ LockRepository = (*lockRepository)(nil)

// Acquire grants a lease when every active lock on the path is compatible
// with the requested mode (only read/read coexists). A holder re-requesting
// a mode it already holds on the path gets its lease refreshed. Expired
// rows on the path are swept before the compatibility check.
func (r *lockRepository) Acquire(ctx context.Context, lock *models.FileLock) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize lock operations per path, including concurrent first
	// inserts that row locks alone would not order.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lock.Path); err != nil {
		return storeErr("lock path", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE path = $1 AND expires_at <= now()`, lock.Path); err != nil {
		return storeErr("sweep path", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT holder_worker_id, mode FROM mcs_file_locks WHERE path = $1`, lock.Path)
	if err != nil {
		return storeErr("list path locks", err)
	}

	refresh := false
	for rows.Next() {
		var holder string
		var mode models.FileAccessMode
		if err := rows.Scan(&holder, &mode); err != nil {
			rows.Close()
			return storeErr("scan lock", err)
		}
		if holder == lock.HolderID && mode == lock.Mode {
			refresh = true
			continue
		}
		if !lock.Mode.CompatibleWith(mode) {
			rows.Close()
			return fmt.Errorf("%w: %s held %s on %s", apperrors.ErrLockConflict, holder, mode, lock.Path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storeErr("list path locks", err)
	}

	now := time.Now().UTC()
	lock.AcquiredAt = now

	if refresh {
		_, err = tx.Exec(ctx, `
			UPDATE mcs_file_locks SET expires_at = $4, task_step_id = $5
			WHERE path = $1 AND holder_worker_id = $2 AND mode = $3`,
			lock.Path, lock.HolderID, lock.Mode, lock.ExpiresAt, lock.TaskStepID)
	} else {
		err = tx.QueryRow(ctx, `
			INSERT INTO mcs_file_locks (path, holder_worker_id, task_step_id, mode, acquired_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			lock.Path, lock.HolderID, lock.TaskStepID, lock.Mode, lock.AcquiredAt, lock.ExpiresAt,
		).Scan(&lock.ID)
	}
	if err != nil {
		return storeErr("grant lock", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

func (r *lockRepository) Release(ctx context.Context, path, holderID string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE path = $1 AND holder_worker_id = $2`, path, holderID)
	if err != nil {
		return storeErr("release lock", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *lockRepository) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE holder_worker_id = $1`, holderID)
	if err != nil {
		return 0, storeErr("release locks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *lockRepository) ReleaseTask(ctx context.Context, holderID, taskStepID string) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE holder_worker_id = $1 AND task_step_id = $2`,
		holderID, taskStepID)
	if err != nil {
		return 0, storeErr("release task locks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *lockRepository) ListActive(ctx context.Context, path string) ([]*models.FileLock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, path, holder_worker_id, task_step_id, mode, acquired_at, expires_at
		FROM mcs_file_locks
		WHERE path = $1 AND expires_at > now()
		ORDER BY acquired_at`, path)
	if err != nil {
		return nil, storeErr("list locks", err)
	}
	defer rows.Close()

	var locks []*models.FileLock
	for rows.Next() {
		var l models.FileLock
		if err := rows.Scan(&l.ID, &l.Path, &l.HolderID, &l.TaskStepID, &l.Mode, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, storeErr("scan lock", err)
		}
		locks = append(locks, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list locks", err)
	}
	return locks, nil
}

func (r *lockRepository) SweepExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, storeErr("sweep expired locks", err)
	}
	return int(tag.RowsAffected()), nil
}
