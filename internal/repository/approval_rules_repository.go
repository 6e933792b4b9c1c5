package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

const ruleColumns = `
	id, organisation_id, entity_type, action, field_name,
	approval_type, required_role_id, required_role_name,
	is_active, created_at, updated_at`

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_rules
		    (id, organisation_id, entity_type, action, field_name,
		     approval_type, required_role_id, required_role_name, is_active)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.OrganisationID,
		rule.EntityType,
		rule.Action,
		rule.FieldName,
		rule.ApprovalType,
		rule.RequiredRoleID,
		rule.RequiredRoleName,
		rule.IsActive,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	return apperrors.Store(err, "failed to create approval rule")
}

// GetByID retrieves a rule within an organisation.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id, organisationID string) (*ApprovalRule, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE id = $1 AND organisation_id = $2
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id, organisationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get approval rule")
	}
	return rule, nil
}

// ListMatching returns active rules for (entity type, action, field).
// A nil fieldName selects action-level rules only. A field selects that
// field's rules together with the action-level rules, which gate every change.
func (r *ApprovalRulesRepository) ListMatching(
	ctx context.Context,
	organisationID, entityType string,
	action Action,
	fieldName *string,
) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE organisation_id = $1
		  AND entity_type = $2
		  AND action = $3
		  AND is_active
		  AND (field_name IS NULL OR field_name = $4)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, organisationID, entityType, action, fieldName)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list matching approval rules")
	}
	defer rows.Close()

	return scanRules(rows)
}

// List returns all rules for an organisation, optionally active only.
func (r *ApprovalRulesRepository) List(ctx context.Context, organisationID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE organisation_id = $1
	`
	if activeOnly {
		query += " AND is_active"
	}
	query += " ORDER BY entity_type ASC, action ASC, created_at ASC"

	rows, err := r.db.Query(ctx, query, organisationID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list approval rules")
	}
	defer rows.Close()

	return scanRules(rows)
}

// Deactivate switches a rule off. Rules are kept because approval requests reference them.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id, organisationID string) error {
	if !validID(id) {
		return apperrors.NotFound("approval_rule", id)
	}
	query := `
		UPDATE approval_rules
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND organisation_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, organisationID)
	if err != nil {
		return apperrors.Store(err, "failed to deactivate approval rule")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// validID reports whether id can be bound to a UUID column. Malformed ids
// are reported as not found rather than as store failures.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanRule(row rowScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.ID,
		&rule.OrganisationID,
		&rule.EntityType,
		&rule.Action,
		&rule.FieldName,
		&rule.ApprovalType,
		&rule.RequiredRoleID,
		&rule.RequiredRoleName,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func scanRules(rows pgx.Rows) ([]*ApprovalRule, error) {
	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate approval rules")
	}
	return rules, nil
}
