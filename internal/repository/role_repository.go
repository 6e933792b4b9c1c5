package repository

import (
	"context"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// RoleRepository reads user_roles joined with roles.
type RoleRepository struct {
	db *database.DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *database.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// RoleNamesForUser returns the role names assigned to a user within an organisation.
func (r *RoleRepository) RoleNamesForUser(ctx context.Context, userID, organisationID string) ([]string, error) {
	query := `
		SELECT DISTINCT ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.organisation_id = $2
		ORDER BY ro.name
	`
	return r.strings(ctx, query, "failed to load user roles", userID, organisationID)
}

// UserIDsWithRole returns users holding a role within an organisation.
func (r *RoleRepository) UserIDsWithRole(ctx context.Context, organisationID, roleName string) ([]string, error) {
	query := `
		SELECT DISTINCT ur.user_id::text
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.organisation_id = $1 AND ro.name = $2
		ORDER BY 1
	`
	return r.strings(ctx, query, "failed to load role members", organisationID, roleName)
}

func (r *RoleRepository) strings(ctx context.Context, query, msg string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, msg)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, apperrors.Store(err, msg)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, msg)
	}
	return out, nil
}
