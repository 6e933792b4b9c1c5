package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
	"github.com/pesio-ai/be-contracts-access/internal/repository/memory"
)

const (
	orgA = "org-a"
	orgB = "org-b"
)

type fixture struct {
	store    *memory.Store
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.AddTeam("team-legal", orgA)
	store.AddTeam("team-ops", orgA)
	store.AddTeam("team-b", orgB)

	for _, c := range []struct {
		id, org string
		team    *string
	}{
		{"c-legal", orgA, ptr("team-legal")},
		{"c-ops", orgA, ptr("team-ops")},
		{"c-open", orgA, nil},
		{"c-other-org", orgB, ptr("team-b")},
		{"c-other-open", orgB, nil},
	} {
		require.NoError(t, store.Contracts().Create(context.Background(), &repository.Contract{
			ID:             c.id,
			OrganisationID: c.org,
			TeamID:         c.team,
			Title:          c.id,
			TotalAmount:    decimal.NewFromInt(100),
			Currency:       "GBP",
			Status:         "draft",
		}))
	}

	return &fixture{
		store:    store,
		resolver: NewResolver(store.Roles(), store.Teams(), store.Contracts(), store, logger.Nop()),
	}
}

func ptr(s string) *string { return &s }

func as(userID, organisationID string) context.Context {
	return identity.WithIdentity(context.Background(), identity.Authenticated(userID, organisationID))
}

func TestRoles(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("oa", orgA, repository.RoleOrganisationAdmin)
	f.store.AssignRole("s", orgA, repository.RoleStaff)
	f.store.AssignRole("s", orgA, "finance")

	tests := []struct {
		user                          string
		super, orgAdmin, staff, admin bool
	}{
		{"root", true, false, false, true},
		{"oa", false, true, false, true},
		{"s", false, false, true, false},
		{"nobody", false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			ctx := as(tt.user, orgA)
			got, err := f.resolver.IsSuperAdmin(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.super, got)
			got, err = f.resolver.IsOrganisationAdmin(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.orgAdmin, got)
			got, err = f.resolver.IsStaff(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.staff, got)
			got, err = f.resolver.IsAdmin(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.admin, got)
		})
	}

	ok, err := f.resolver.HasRole(as("s", orgA), "finance")
	require.NoError(t, err)
	assert.True(t, ok)

	// Roles are per organisation.
	ok, err = f.resolver.HasRole(as("s", orgB), "finance")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnauthenticatedFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)
	ctx := identity.WithIdentity(context.Background(), identity.Identity{UserID: "root", OrganisationID: orgA})

	for name, check := range map[string]func() (bool, error){
		"has role":     func() (bool, error) { return f.resolver.HasRole(ctx, repository.RoleSuperAdmin) },
		"is admin":     func() (bool, error) { return f.resolver.IsAdmin(ctx) },
		"organisation": func() (bool, error) { return f.resolver.CanAccessOrganisation(ctx, orgA) },
		"contract":     func() (bool, error) { return f.resolver.CanAccessContract(ctx, "c-open") },
		"manage":       func() (bool, error) { return f.resolver.CanManageContracts(ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := check()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	scope, err := f.resolver.AccessibleTeamIDs(ctx)
	require.NoError(t, err)
	assert.False(t, scope.All())
	assert.Empty(t, scope.IDs())

	d, err := f.resolver.RequireAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, d.Outcome)
	assert.True(t, apperrors.HasCode(d.Err(), apperrors.ErrCodeUnauthenticated))
}

func TestCanAccessOrganisation(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)

	ok, err := f.resolver.CanAccessOrganisation(as("root", orgA), orgB)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessOrganisation(as("u", orgA), orgA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessOrganisation(as("u", orgA), orgB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessContract(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("oa", orgA, repository.RoleOrganisationAdmin)
	f.store.AddMembership("orgwide", "team-ops", repository.AccessLevelOrganisation, "")
	f.store.AddMembership("fin", "team-ops", repository.AccessLevelNone, "finance")
	f.store.AddMembership("senior", "team-ops", repository.AccessLevelNone, "Senior_Manager")
	f.store.AddMembership("legal", "team-legal", repository.AccessLevelNone, "")
	f.store.AddMembership("mgr", "team-legal", repository.AccessLevelTeam, "manager")

	tests := []struct {
		user     string
		contract string
		want     bool
	}{
		{"root", "c-legal", true},
		{"root", "c-open", true},
		{"root", "c-other-org", false},
		{"oa", "c-ops", true},
		{"oa", "c-open", true},
		{"orgwide", "c-legal", true},
		{"orgwide", "c-open", true},
		{"fin", "c-legal", true},
		{"senior", "c-open", true},
		{"legal", "c-legal", true},
		{"legal", "c-ops", false},
		{"legal", "c-open", false},
		{"mgr", "c-open", false},
		{"mgr", "c-legal", true},
		{"stranger", "c-legal", false},
		{"legal", "missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.contract, func(t *testing.T) {
			ok, err := f.resolver.CanAccessContract(as(tt.user, orgA), tt.contract)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	// Same user id holding every privilege in organisation A.
	f.store.AssignRole("u", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("u", orgA, repository.RoleOrganisationAdmin)
	f.store.AddMembership("u", "team-ops", repository.AccessLevelOrganisation, "finance")

	for _, id := range []string{"c-other-org", "c-other-open"} {
		ok, err := f.resolver.CanAccessContract(as("u", orgA), id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
}

func TestNullTeamAsymmetry(t *testing.T) {
	f := newFixture(t)
	f.store.AddMembership("legal", "team-legal", repository.AccessLevelNone, "")

	ctx := as("legal", orgA)
	ok, err := f.resolver.CanAccessContract(ctx, "c-open")
	require.NoError(t, err)
	assert.False(t, ok, "single-contract check denies team-less contracts")

	scope, err := f.resolver.AccessibleTeamIDs(ctx)
	require.NoError(t, err)
	listed, err := f.store.Contracts().List(context.Background(), orgA, scope.ContractFilter())
	require.NoError(t, err)

	var ids []string
	for _, c := range listed {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"c-legal", "c-open"}, ids, "bulk listing shows team-less contracts")
}

func TestAccessibleTeamIDs(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("oa", orgA, repository.RoleOrganisationAdmin)
	f.store.AddMembership("two", "team-legal", repository.AccessLevelNone, "")
	f.store.AddMembership("two", "team-ops", repository.AccessLevelOrganisation, "")
	f.store.AddMembership("two", "team-b", repository.AccessLevelNone, "")

	for _, user := range []string{"root", "oa"} {
		scope, err := f.resolver.AccessibleTeamIDs(as(user, orgA))
		require.NoError(t, err)
		assert.True(t, scope.All(), user)
		assert.Nil(t, scope.IDs())
	}

	scope, err := f.resolver.AccessibleTeamIDs(as("two", orgA))
	require.NoError(t, err)
	assert.False(t, scope.All(), "organisation access level does not lift the team filter")
	assert.Equal(t, []string{"team-legal", "team-ops"}, scope.IDs())

	empty, err := f.resolver.AccessibleTeamIDs(as("nobody", orgA))
	require.NoError(t, err)
	assert.False(t, empty.All())
	assert.NotNil(t, empty.IDs())
	assert.Empty(t, empty.IDs())

	listed, err := f.store.Contracts().List(context.Background(), orgA, empty.ContractFilter())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "c-open", listed[0].ID)

	raw, err := json.Marshal(map[string]TeamScope{"all": AllTeams(), "none": empty})
	require.NoError(t, err)
	assert.JSONEq(t, `{"all":null,"none":[]}`, string(raw))
}

func TestCanManageContracts_Monotonic(t *testing.T) {
	f := newFixture(t)
	ctx := as("u", orgA)

	manage := func() bool {
		ok, err := f.resolver.CanManageContracts(ctx)
		require.NoError(t, err)
		return ok
	}

	assert.False(t, manage())

	f.store.AddMembership("u", "team-legal", repository.AccessLevelNone, "analyst")
	assert.False(t, manage(), "unprivileged label")

	f.store.AddMembership("u", "team-ops", repository.AccessLevelNone, "manager")
	assert.True(t, manage())

	f.store.AddMembership("u", "team-b", repository.AccessLevelTeam, "")
	assert.True(t, manage(), "adding memberships never revokes")

	f.store.RemoveMembership("u", "team-ops")
	assert.False(t, manage(), "memberships in other organisations do not count")

	f.store.AddMembership("u", "team-legal", repository.AccessLevelTeam, "")
	assert.True(t, manage())
	f.store.RemoveMembership("u", "team-legal")
	assert.False(t, manage())

	f.store.AssignRole("u", orgA, repository.RoleOrganisationAdmin)
	assert.True(t, manage())
}

func TestRequireOrganisationAdmin(t *testing.T) {
	f := newFixture(t)
	f.store.AssignRole("root", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("both", orgA, repository.RoleSuperAdmin)
	f.store.AssignRole("both", orgA, repository.RoleOrganisationAdmin)
	f.store.AssignRole("oa", orgA, repository.RoleOrganisationAdmin)

	tests := map[string]Outcome{
		"root":  SuperAdminRedirect,
		"both":  Authorized,
		"oa":    Authorized,
		"staff": Denied,
	}
	for user, want := range tests {
		t.Run(user, func(t *testing.T) {
			d, err := f.resolver.RequireOrganisationAdmin(as(user, orgA))
			require.NoError(t, err)
			assert.Equal(t, want, d.Outcome)
		})
	}
}

func TestRequireDecisions(t *testing.T) {
	f := newFixture(t)
	f.store.AddMembership("legal", "team-legal", repository.AccessLevelNone, "")
	ctx := as("legal", orgA)

	d, err := f.resolver.RequireContractAccess(ctx, "c-legal")
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.NoError(t, d.Err())

	d, err = f.resolver.RequireContractAccess(ctx, "c-ops")
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)
	assert.True(t, apperrors.HasCode(d.Err(), apperrors.ErrCodeAccessDenied))

	d, err = f.resolver.RequireOrganisationAccess(ctx, orgB)
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)

	d, err = f.resolver.RequireRole(ctx, "finance")
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)
}

type failingRoles struct{}

func (failingRoles) RoleNamesForUser(context.Context, string, string) ([]string, error) {
	return nil, apperrors.Store(errors.New("connection reset"), "failed to load roles")
}

func (failingRoles) UserIDsWithRole(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func TestStoreFailurePropagates(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(failingRoles{}, f.store.Teams(), f.store.Contracts(), f.store, logger.Nop())

	ok, err := r.CanAccessContract(as("u", orgA), "c-legal")
	assert.False(t, ok)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))

	d, err := r.RequireAdmin(as("u", orgA))
	assert.Error(t, err)
	assert.False(t, d.Allowed())
}

func TestCapabilitiesOf(t *testing.T) {
	tests := []struct {
		level repository.AccessLevel
		label string
		want  Capabilities
	}{
		{repository.AccessLevelNone, "", Capabilities{}},
		{repository.AccessLevelNone, "reviewer", Capabilities{}},
		{repository.AccessLevelTeam, "", Capabilities{ManageContracts: true}},
		{repository.AccessLevelOrganisation, "", Capabilities{OrganisationVisibility: true, ManageContracts: true}},
		{repository.AccessLevelNone, "manager", Capabilities{ManageContracts: true}},
		{repository.AccessLevelNone, "admin", Capabilities{ManageContracts: true}},
		{repository.AccessLevelNone, "finance", Capabilities{OrganisationVisibility: true, ManageContracts: true}},
		{repository.AccessLevelNone, " SENIOR_MANAGER ", Capabilities{OrganisationVisibility: true, ManageContracts: true}},
	}
	for _, tt := range tests {
		got := CapabilitiesOf(repository.TeamMembership{AccessLevel: tt.level, RoleInTeam: tt.label})
		assert.Equal(t, tt.want, got, "%q/%q", tt.level, tt.label)
	}
}
