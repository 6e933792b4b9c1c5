package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// AuditLogRepository appends and reads audit_logs. The table has a
// delete-prevention trigger; approval_status is the only mutable column.
type AuditLogRepository struct {
	db *database.DB
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

const auditColumns = `
	id, organisation_id, entity_type, entity_id, action, field_name,
	actor_id, before_data, after_data, metadata,
	approval_required, approval_status, created_at, resolved_at`

// Create inserts one audit entry.
func (r *AuditLogRepository) Create(ctx context.Context, entry *AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO audit_logs
		    (id, organisation_id, entity_type, entity_id, action, field_name,
		     actor_id, before_data, after_data, metadata,
		     approval_required, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.OrganisationID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.FieldName,
		entry.ActorID,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		metadataJSON,
		entry.ApprovalRequired,
		entry.ApprovalStatus,
	).Scan(&entry.CreatedAt)
	return apperrors.Store(err, "failed to create audit log entry")
}

// GetByID reads an entry.
func (r *AuditLogRepository) GetByID(ctx context.Context, id string) (*AuditLogEntry, error) {
	return r.get(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
}

// GetForUpdate reads an entry and holds a row lock until the transaction ends.
func (r *AuditLogRepository) GetForUpdate(ctx context.Context, id string) (*AuditLogEntry, error) {
	return r.get(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1 FOR UPDATE`, id)
}

func (r *AuditLogRepository) get(ctx context.Context, query, id string) (*AuditLogEntry, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("audit_log", id)
	}
	entry, err := scanAuditEntry(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("audit_log", id)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get audit log entry")
	}
	return entry, nil
}

// SetApprovalStatus records the workflow decision for an entry. Terminal
// statuses also stamp resolved_at.
func (r *AuditLogRepository) SetApprovalStatus(ctx context.Context, id string, status ApprovalStatus, required bool) error {
	query := `
		UPDATE audit_logs
		SET approval_status   = $2,
		    approval_required = $3,
		    resolved_at       = CASE WHEN $2 IN ('approved', 'rejected') THEN NOW() ELSE resolved_at END
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status, required)
	if err != nil {
		return apperrors.Store(err, "failed to set approval status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("audit_log", id)
	}
	return nil
}

// ListForEntity returns the audit trail for an entity, oldest first.
func (r *AuditLogRepository) ListForEntity(ctx context.Context, organisationID, entityType, entityID string) ([]*AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE organisation_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, organisationID, entityType, entityID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list audit log")
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan audit log entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate audit log")
	}
	return entries, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditEntry(sc rowScanner) (*AuditLogEntry, error) {
	entry := &AuditLogEntry{}
	var before, after, metadataJSON []byte

	err := sc.Scan(
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
		return nil, err
	}

	entry.Before = before
	entry.After = after
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
