package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// ApprovalRequestsRepository handles approval_requests. Rows move only along
// pending -> approved|rejected|expired and are never deleted.
type ApprovalRequestsRepository struct {
	db *database.DB
}

// NewApprovalRequestsRepository creates a new ApprovalRequestsRepository.
func NewApprovalRequestsRepository(db *database.DB) *ApprovalRequestsRepository {
	return &ApprovalRequestsRepository{db: db}
}

const requestColumns = `
	id, audit_log_id, approval_rule_id, approver_type,
	approver_id, approver_role_id, approver_role_name,
	status, expires_at, resolved_by, resolved_at, notes, created_at`

// Create inserts a request; the (audit_log_id, approval_rule_id) unique key
// makes repeated creation for the same rule a no-op.
func (r *ApprovalRequestsRepository) Create(ctx context.Context, req *ApprovalRequest) (bool, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_requests
		    (id, audit_log_id, approval_rule_id, approver_type,
		     approver_id, approver_role_id, approver_role_name,
		     status, expires_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7,
		        $8, $9)
		ON CONFLICT (audit_log_id, approval_rule_id) DO NOTHING
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.AuditLogID,
		req.ApprovalRuleID,
		req.ApproverType,
		req.ApproverID,
		req.ApproverRoleID,
		req.ApproverRoleName,
		req.Status,
		req.ExpiresAt,
	).Scan(&req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Store(err, "failed to create approval request")
	}
	return true, nil
}

// GetByID reads one request.
func (r *ApprovalRequestsRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("approval_request", id)
	}
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get approval request")
	}
	return req, nil
}

// ListByAuditLog returns every request spawned for an audit entry.
func (r *ApprovalRequestsRepository) ListByAuditLog(ctx context.Context, auditLogID string) ([]*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE audit_log_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, auditLogID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list approval requests")
	}
	defer rows.Close()

	var reqs []*ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate approval requests")
	}
	return reqs, nil
}

// Resolve is an optimistic transition out of pending.
func (r *ApprovalRequestsRepository) Resolve(
	ctx context.Context,
	id string,
	to RequestStatus,
	resolvedBy string,
	notes *string,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status      = $2,
		    resolved_by = $3,
		    resolved_at = $5,
		    notes       = $4
		WHERE id = $1
		  AND status = 'pending'
		  AND expires_at > $5
	`

	tag, err := r.db.Exec(ctx, query, id, to, resolvedBy, notes, now)
	if err != nil {
		return false, apperrors.Store(err, "failed to resolve approval request")
	}
	return tag.RowsAffected() == 1, nil
}

// CountOpenForEntity counts open requests across every audit entry for the triple.
func (r *ApprovalRequestsRepository) CountOpenForEntity(
	ctx context.Context,
	organisationID, entityType, entityID string,
	action Action,
	now time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_requests ar
		JOIN audit_logs al ON al.id = ar.audit_log_id
		WHERE al.organisation_id = $1
		  AND al.entity_type = $2
		  AND al.entity_id = $3
		  AND al.action = $4
		  AND ar.status = 'pending'
		  AND ar.expires_at > $5
	`

	var n int
	if err := r.db.QueryRow(ctx, query, organisationID, entityType, entityID, action, now).Scan(&n); err != nil {
		return 0, apperrors.Store(err, "failed to count pending approval requests")
	}
	return n, nil
}

// ListOpenForOrganisation returns open requests joined with their audit entries.
func (r *ApprovalRequestsRepository) ListOpenForOrganisation(ctx context.Context, organisationID string, now time.Time) ([]PendingApproval, error) {
	query := `
		SELECT ar.id, ar.audit_log_id, ar.approval_rule_id, ar.approver_type,
		       ar.approver_id, ar.approver_role_id, ar.approver_role_name,
		       ar.status, ar.expires_at, ar.resolved_by, ar.resolved_at, ar.notes, ar.created_at,
		       al.id, al.organisation_id, al.entity_type, al.entity_id, al.action, al.field_name,
		       al.actor_id, al.before_data, al.after_data, al.metadata,
		       al.approval_required, al.approval_status, al.created_at, al.resolved_at
		FROM approval_requests ar
		JOIN audit_logs al ON al.id = ar.audit_log_id
		WHERE al.organisation_id = $1
		  AND ar.status = 'pending'
		  AND ar.expires_at > $2
		ORDER BY ar.expires_at ASC, ar.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, organisationID, now)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list pending approvals")
	}
	defer rows.Close()

	var out []PendingApproval
	for rows.Next() {
		req, entry, err := scanRequestWithEntry(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan pending approval")
		}
		out = append(out, PendingApproval{Request: req, Entry: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate pending approvals")
	}
	return out, nil
}

// ExpireOverdue marks overdue pending requests expired.
func (r *ApprovalRequestsRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE approval_requests
		SET status      = 'expired',
		    resolved_at = $1
		WHERE status = 'pending'
		  AND expires_at <= $1
		RETURNING audit_log_id
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperrors.Store(err, "failed to expire approval requests")
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Store(err, "failed to scan expired request")
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate expired requests")
	}
	return ids, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanRequest(sc rowScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := sc.Scan(
		&req.ID,
		&req.AuditLogID,
		&req.ApprovalRuleID,
		&req.ApproverType,
		&req.ApproverID,
		&req.ApproverRoleID,
		&req.ApproverRoleName,
		&req.Status,
		&req.ExpiresAt,
		&req.ResolvedBy,
		&req.ResolvedAt,
		&req.Notes,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanRequestWithEntry(rows pgx.Rows) (*ApprovalRequest, *AuditLogEntry, error) {
	req := &ApprovalRequest{}
	entry := &AuditLogEntry{}
	var before, after, metadataJSON []byte

	err := rows.Scan(
		&req.ID,
		&req.AuditLogID,
		&req.ApprovalRuleID,
		&req.ApproverType,
		&req.ApproverID,
		&req.ApproverRoleID,
		&req.ApproverRoleName,
		&req.Status,
		&req.ExpiresAt,
		&req.ResolvedBy,
		&req.ResolvedAt,
		&req.Notes,
		&req.CreatedAt,
		&entry.ID,
		&entry.OrganisationID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.Action,
		&entry.FieldName,
		&entry.ActorID,
		&before,
		&after,
		&metadataJSON,
		&entry.ApprovalRequired,
		&entry.ApprovalStatus,
		&entry.CreatedAt,
		&entry.ResolvedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	entry.Before = before
	entry.After = after
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, nil, err
		}
	}
	return req, entry, nil
}
