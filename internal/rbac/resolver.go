// Package rbac resolves what the current caller may see and do. Every
// predicate reads current role and team state; nothing is cached between
// calls, so a revoked membership takes effect on the next check.
package rbac

import (
	"context"

	"github.com/samber/lo"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// Resolver answers access questions for the identity carried in ctx.
// Predicates return false for an unauthenticated caller and only return an
// error when the store fails.
type Resolver struct {
	roles     repository.RoleStore
	teams     repository.TeamStore
	contracts repository.ContractStore
	tx        repository.Transactor
	log       *logger.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(
	roles repository.RoleStore,
	teams repository.TeamStore,
	contracts repository.ContractStore,
	tx repository.Transactor,
	log *logger.Logger,
) *Resolver {
	return &Resolver{
		roles:     roles,
		teams:     teams,
		contracts: contracts,
		tx:        tx,
		log:       log.Component("rbac"),
	}
}

// Profile is a point-in-time summary of the caller's access, read in one snapshot.
type Profile struct {
	UserID              string    `json:"user_id"`
	OrganisationID      string    `json:"organisation_id"`
	Roles               []string  `json:"roles"`
	IsSuperAdmin        bool      `json:"is_superadmin"`
	IsOrganisationAdmin bool      `json:"is_organisation_admin"`
	IsStaff             bool      `json:"is_staff"`
	IsAdmin             bool      `json:"is_admin"`
	CanManageContracts  bool      `json:"can_manage_contracts"`
	AccessibleTeams     TeamScope `json:"accessible_team_ids"`
}

// subject is the caller's roles and memberships as read for one check.
type subject struct {
	id          identity.Identity
	roles       []string
	memberships []repository.TeamMembership
}

func (s *subject) has(role string) bool { return lo.Contains(s.roles, role) }

func (s *subject) admin() bool {
	return s.has(repository.RoleSuperAdmin) || s.has(repository.RoleOrganisationAdmin)
}

func (s *subject) organisationVisible() bool {
	return lo.SomeBy(s.memberships, func(m repository.TeamMembership) bool {
		return CapabilitiesOf(m).OrganisationVisibility
	})
}

func (s *subject) canManage() bool {
	return s.admin() || lo.SomeBy(s.memberships, func(m repository.TeamMembership) bool {
		return CapabilitiesOf(m).ManageContracts
	})
}

func (s *subject) scope() TeamScope {
	if s.admin() {
		return AllTeams()
	}
	return Teams(lo.Map(s.memberships, func(m repository.TeamMembership, _ int) string {
		return m.TeamID
	})...)
}

func (r *Resolver) loadRoles(ctx context.Context, id identity.Identity) (*subject, error) {
	roles, err := r.roles.RoleNamesForUser(ctx, id.UserID, id.OrganisationID)
	if err != nil {
		return nil, err
	}
	return &subject{id: id, roles: roles}, nil
}

func (r *Resolver) loadAll(ctx context.Context, id identity.Identity) (*subject, error) {
	var s *subject
	err := r.tx.InReadSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if s, err = r.loadRoles(ctx, id); err != nil {
			return err
		}
		s.memberships, err = r.teams.MembershipsForUser(ctx, id.UserID, id.OrganisationID)
		return err
	})
	return s, err
}

// ── predicates ───────────────────────────────────────────────────────────────

// HasRole reports whether the caller holds roleName in their organisation.
func (r *Resolver) HasRole(ctx context.Context, roleName string) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}
	s, err := r.loadRoles(ctx, id)
	if err != nil {
		return false, err
	}
	return s.has(roleName), nil
}

func (r *Resolver) IsSuperAdmin(ctx context.Context) (bool, error) {
	return r.HasRole(ctx, repository.RoleSuperAdmin)
}

func (r *Resolver) IsOrganisationAdmin(ctx context.Context) (bool, error) {
	return r.HasRole(ctx, repository.RoleOrganisationAdmin)
}

func (r *Resolver) IsStaff(ctx context.Context) (bool, error) {
	return r.HasRole(ctx, repository.RoleStaff)
}

// IsAdmin is superadmin or organisation admin.
func (r *Resolver) IsAdmin(ctx context.Context) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}
	s, err := r.loadRoles(ctx, id)
	if err != nil {
		return false, err
	}
	return s.admin(), nil
}

// CanAccessOrganisation is true for superadmins, otherwise only for the
// caller's own organisation.
func (r *Resolver) CanAccessOrganisation(ctx context.Context, organisationID string) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}
	s, err := r.loadRoles(ctx, id)
	if err != nil {
		return false, err
	}
	if s.has(repository.RoleSuperAdmin) {
		return true, nil
	}
	return id.OrganisationID == organisationID, nil
}

// CanAccessContract decides single-contract visibility. The contract is
// always looked up within the caller's organisation, admins included.
// A contract with no team is visible only to organisation-scoped callers.
func (r *Resolver) CanAccessContract(ctx context.Context, contractID string) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}

	var allowed bool
	err := r.tx.InReadSnapshot(ctx, func(ctx context.Context) error {
		s, err := r.loadAll(ctx, id)
		if err != nil {
			return err
		}

		contract, err := r.contracts.GetForOrganisation(ctx, contractID, id.OrganisationID)
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case s.admin(), s.organisationVisible():
			allowed = true
		case contract.TeamID == nil:
			allowed = false
		default:
			allowed = lo.ContainsBy(s.memberships, func(m repository.TeamMembership) bool {
				return m.TeamID == *contract.TeamID
			})
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// AccessibleTeamIDs returns AllTeams for administrators and otherwise the
// caller's own teams, which may be empty. Unauthenticated callers get an
// empty scope.
func (r *Resolver) AccessibleTeamIDs(ctx context.Context) (TeamScope, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return Teams(), nil
	}
	s, err := r.loadAll(ctx, id)
	if err != nil {
		return Teams(), err
	}
	return s.scope(), nil
}

// CanManageContracts is true for administrators and for members holding a
// team or organisation access level or a privileged legacy label.
func (r *Resolver) CanManageContracts(ctx context.Context) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}
	s, err := r.loadAll(ctx, id)
	if err != nil {
		return false, err
	}
	return s.canManage(), nil
}

// Profile summarises the caller's access.
func (r *Resolver) Profile(ctx context.Context) (*Profile, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return nil, apperrors.AuthenticationRequired()
	}
	s, err := r.loadAll(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Profile{
		UserID:              id.UserID,
		OrganisationID:      id.OrganisationID,
		Roles:               lo.Ternary(s.roles == nil, []string{}, s.roles),
		IsSuperAdmin:        s.has(repository.RoleSuperAdmin),
		IsOrganisationAdmin: s.has(repository.RoleOrganisationAdmin),
		IsStaff:             s.has(repository.RoleStaff),
		IsAdmin:             s.admin(),
		CanManageContracts:  s.canManage(),
		AccessibleTeams:     s.scope(),
	}, nil
}

// ── require* ─────────────────────────────────────────────────────────────────

// check turns a predicate into a Decision and logs denials.
func (r *Resolver) check(ctx context.Context, what string, ok bool, err error) (Decision, error) {
	if err != nil {
		return deny(what), err
	}
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return unauthenticated(), nil
	}
	if !ok {
		r.log.Warn().
			Str("user_id", id.UserID).
			Str("organisation_id", id.OrganisationID).
			Str("check", what).
			Msg("access denied")
		return deny(what), nil
	}
	return allow(), nil
}

// RequireAuthenticated only checks that the caller has a session.
func (r *Resolver) RequireAuthenticated(ctx context.Context) Decision {
	if !identity.FromContext(ctx).IsAuthenticated() {
		return unauthenticated()
	}
	return allow()
}

func (r *Resolver) RequireRole(ctx context.Context, roleName string) (Decision, error) {
	ok, err := r.HasRole(ctx, roleName)
	return r.check(ctx, "role "+roleName, ok, err)
}

func (r *Resolver) RequireAdmin(ctx context.Context) (Decision, error) {
	ok, err := r.IsAdmin(ctx)
	return r.check(ctx, "administrator", ok, err)
}

func (r *Resolver) RequireSuperAdmin(ctx context.Context) (Decision, error) {
	ok, err := r.IsSuperAdmin(ctx)
	return r.check(ctx, "superadmin", ok, err)
}

// RequireOrganisationAdmin sends superadmins who are not organisation admins
// to their own landing surface rather than denying them.
func (r *Resolver) RequireOrganisationAdmin(ctx context.Context) (Decision, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return unauthenticated(), nil
	}
	s, err := r.loadRoles(ctx, id)
	if err != nil {
		return deny("organisation administrator"), err
	}
	if !s.has(repository.RoleOrganisationAdmin) && s.has(repository.RoleSuperAdmin) {
		return redirectSuperAdmin("organisation administrator"), nil
	}
	return r.check(ctx, "organisation administrator", s.has(repository.RoleOrganisationAdmin), nil)
}

func (r *Resolver) RequireOrganisationAccess(ctx context.Context, organisationID string) (Decision, error) {
	ok, err := r.CanAccessOrganisation(ctx, organisationID)
	return r.check(ctx, "organisation "+organisationID, ok, err)
}

func (r *Resolver) RequireContractAccess(ctx context.Context, contractID string) (Decision, error) {
	ok, err := r.CanAccessContract(ctx, contractID)
	return r.check(ctx, "contract "+contractID, ok, err)
}

func (r *Resolver) RequireContractManagement(ctx context.Context) (Decision, error) {
	ok, err := r.CanManageContracts(ctx)
	return r.check(ctx, "contract management", ok, err)
}
