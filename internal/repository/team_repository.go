package repository

import (
	"context"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// TeamRepository reads team_members. Every query joins teams so that a
// membership on another organisation's team is never returned.
type TeamRepository struct {
	db *database.DB
}

// NewTeamRepository creates a new TeamRepository.
func NewTeamRepository(db *database.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// MembershipsForUser loads all of a user's memberships in one statement, so a
// single access check sees one consistent view of them.
func (r *TeamRepository) MembershipsForUser(ctx context.Context, userID, organisationID string) ([]TeamMembership, error) {
	query := `
		SELECT tm.user_id::text, tm.team_id::text, t.organisation_id::text,
		       COALESCE(tm.access_level, ''), tm.role_in_team
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1 AND t.organisation_id = $2
		ORDER BY tm.team_id
	`

	rows, err := r.db.Query(ctx, query, userID, organisationID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to load team memberships")
	}
	defer rows.Close()

	var out []TeamMembership
	for rows.Next() {
		var m TeamMembership
		var level string
		if err := rows.Scan(&m.UserID, &m.TeamID, &m.OrganisationID, &level, &m.RoleInTeam); err != nil {
			return nil, apperrors.Store(err, "failed to scan team membership")
		}
		m.AccessLevel = AccessLevel(level)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate team memberships")
	}
	return out, nil
}

// MembersWithTeamRole returns members labelled roleInTeam on any of the teams.
func (r *TeamRepository) MembersWithTeamRole(ctx context.Context, organisationID string, teamIDs []string, roleInTeam string) ([]string, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT tm.user_id::text
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE t.organisation_id = $1
		  AND tm.team_id::text = ANY($2)
		  AND tm.role_in_team = $3
		ORDER BY 1
	`

	rows, err := r.db.Query(ctx, query, organisationID, teamIDs, roleInTeam)
	if err != nil {
		return nil, apperrors.Store(err, "failed to load team managers")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Store(err, "failed to scan team manager")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate team managers")
	}
	return out, nil
}
