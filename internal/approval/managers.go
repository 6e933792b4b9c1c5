package approval

import (
	"context"

	"github.com/samber/lo"

	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// ManagerResolver finds the manager who should review an actor's change.
// ok is false when no manager can be determined.
type ManagerResolver interface {
	ResolveManager(ctx context.Context, organisationID, actorID string) (managerID string, ok bool, err error)
}

// NoManager never resolves a manager. Manager rules then produce unassigned
// requests that only an administrator can resolve.
type NoManager struct{}

func (NoManager) ResolveManager(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

// TeamManager picks the first member labelled "manager" on any of the
// actor's teams, other than the actor.
type TeamManager struct {
	teams repository.TeamStore
}

func NewTeamManager(teams repository.TeamStore) *TeamManager {
	return &TeamManager{teams: teams}
}

func (m *TeamManager) ResolveManager(ctx context.Context, organisationID, actorID string) (string, bool, error) {
	memberships, err := m.teams.MembershipsForUser(ctx, actorID, organisationID)
	if err != nil {
		return "", false, err
	}
	if len(memberships) == 0 {
		return "", false, nil
	}
	teamIDs := lo.Map(memberships, func(tm repository.TeamMembership, _ int) string { return tm.TeamID })

	managers, err := m.teams.MembersWithTeamRole(ctx, organisationID, teamIDs, "manager")
	if err != nil {
		return "", false, err
	}
	managers = lo.Without(managers, actorID)
	if len(managers) == 0 {
		return "", false, nil
	}
	return managers[0], true, nil
}

// ManagerResolverFor maps the APPROVAL_MANAGER_RESOLUTION setting to a resolver.
func ManagerResolverFor(mode string, teams repository.TeamStore) ManagerResolver {
	if mode == "team" {
		return NewTeamManager(teams)
	}
	return NoManager{}
}
