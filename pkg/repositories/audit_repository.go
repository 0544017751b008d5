package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/models"
)

// AuditRepository provides append-only access to audit reports. One report
// is preserved per completion attempt, including the report that forced a
// finalization at the rework-cycle bound.
type AuditRepository interface {
	Create(ctx context.Context, report *models.AuditReport) error
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.AuditReport, error)
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, report *models.AuditReport) error {
	directives, err := json.Marshal(report.ReworkDirectives)
	if err != nil {
		return fmt.Errorf("failed to marshal rework directives: %w", err)
	}
	if report.ReworkDirectives == nil {
		directives = []byte("[]")
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO mcs_audit_reports (workflow_id, is_successful, feedback, rework_directives, confidence)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		report.WorkflowID, report.IsSuccessful, report.Feedback, directives, report.Confidence,
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return storeErr("create audit report", err)
	}
	return nil
}

func (r *auditRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.AuditReport, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, is_successful, feedback, rework_directives, confidence, created_at
		FROM mcs_audit_reports
		WHERE workflow_id = $1
		ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, storeErr("list audit reports", err)
	}
	defer rows.Close()

	var reports []*models.AuditReport
	for rows.Next() {
		var rep models.AuditReport
		var directives []byte
		err := rows.Scan(
			&rep.ID,
			&rep.WorkflowID,
			&rep.IsSuccessful,
			&rep.Feedback,
			&directives,
			&rep.Confidence,
			&rep.CreatedAt,
		)
		if err != nil {
			return nil, storeErr("scan audit report", err)
		}
		if len(directives) > 0 && string(directives) != "null" {
			if err := json.Unmarshal(directives, &rep.ReworkDirectives); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rework directives: %w", err)
			}
		}
		reports = append(reports, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list audit reports", err)
	}
	return reports, nil
}
