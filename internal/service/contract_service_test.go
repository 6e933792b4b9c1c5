package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-contracts-access/internal/approval"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/rbac"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
	"github.com/pesio-ai/be-contracts-access/internal/repository/memory"
)

const org = "org-1"

type fixture struct {
	store  *memory.Store
	engine *approval.Engine
	svc    *ContractService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.AddTeam("team-legal", org)
	store.AddTeam("team-ops", org)
	store.AssignRole("admin", org, repository.RoleOrganisationAdmin)
	store.AddMembership("mgr", "team-legal", repository.AccessLevelNone, "manager")
	store.AddMembership("viewer", "team-legal", repository.AccessLevelNone, "other")
	store.AssignRole("finance-lead", org, "finance")

	log := logger.Nop()
	resolver := rbac.NewResolver(store.Roles(), store.Teams(), store.Contracts(), store, log)
	engine := approval.NewEngine(approval.Stores{
		Tx:       store,
		Rules:    store.Rules(),
		Entries:  store.AuditLogs(),
		Requests: store.Requests(),
		Roles:    store.Roles(),
	}, approval.Options{}, log)

	return &fixture{
		store:  store,
		engine: engine,
		svc:    NewContractService(store, store.Contracts(), resolver, engine, log),
	}
}

func as(userID string) context.Context {
	return identity.WithIdentity(context.Background(), identity.Authenticated(userID, org))
}

func str(s string) *string { return &s }

func (f *fixture) rule(t *testing.T, action repository.Action, field *string, role string) {
	t.Helper()
	_, err := f.engine.Catalog().CreateRule(context.Background(), org, approval.RuleInput{
		EntityType:       EntityContract,
		Action:           action,
		FieldName:        field,
		ApprovalType:     repository.ApprovalTypeRole,
		RequiredRoleName: &role,
	})
	require.NoError(t, err)
}

func (f *fixture) create(t *testing.T, team *string) *repository.Contract {
	t.Helper()
	res, err := f.svc.CreateContract(as("admin"), &CreateContractRequest{
		TeamID:      team,
		Title:       "Cleaning services",
		Supplier:    "Acme",
		TotalAmount: decimal.NewFromInt(1200),
		Currency:    "gbp",
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
	return res.Contract
}

func (f *fixture) pendingFor(t *testing.T, reviewer string) []repository.PendingApproval {
	t.Helper()
	inbox, err := f.engine.ListPendingForReviewer(as(reviewer))
	require.NoError(t, err)
	return inbox
}

func TestCreateContract(t *testing.T) {
	f := newFixture(t)

	c := f.create(t, str("team-legal"))
	assert.Equal(t, "GBP", c.Currency)
	assert.Equal(t, "draft", c.Status)

	got, err := f.svc.GetContract(as("viewer"), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cleaning services", got.Title)
	assert.True(t, decimal.NewFromInt(1200).Equal(got.TotalAmount))

	history, err := f.svc.ContractHistory(as("viewer"), c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, repository.ActionCreate, history[0].Entry.Action)
	assert.Equal(t, repository.ApprovalNotRequired, history[0].Entry.ApprovalStatus)
}

func TestCreateContract_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		req   CreateContractRequest
		field string
	}{
		{"missing title", CreateContractRequest{Currency: "GBP"}, "title"},
		{"bad currency", CreateContractRequest{Title: "x", Currency: "POUNDS"}, "currency"},
		{"unknown status", CreateContractRequest{Title: "x", Currency: "GBP", Status: "archived"}, "status"},
		{"negative amount", CreateContractRequest{Title: "x", Currency: "GBP", TotalAmount: decimal.NewFromInt(-1)}, "total_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateContract(as("admin"), &tt.req)
			var appErr *apperrors.Error
			require.True(t, apperrors.As(err, &appErr))
			assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestCreateContract_Access(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateContract(context.Background(), &CreateContractRequest{Title: "x", Currency: "GBP"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthenticated))

	_, err = f.svc.CreateContract(as("viewer"), &CreateContractRequest{Title: "x", Currency: "GBP"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAccessDenied), "plain members cannot manage contracts")

	_, err = f.svc.CreateContract(as("mgr"), &CreateContractRequest{TeamID: str("team-ops"), Title: "x", Currency: "GBP"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAccessDenied), "managers only create for their own teams")

	res, err := f.svc.CreateContract(as("mgr"), &CreateContractRequest{TeamID: str("team-legal"), Title: "x", Currency: "GBP"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestCreateContract_HeldUntilApproved(t *testing.T) {
	f := newFixture(t)
	f.rule(t, repository.ActionCreate, nil, "finance")

	res, err := f.svc.CreateContract(as("admin"), &CreateContractRequest{Title: "Held", Currency: "EUR"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.True(t, res.Held())

	_, err = f.svc.GetContract(as("admin"), res.Contract.ID)
	assert.Error(t, err, "a held create is not visible yet")

	inbox := f.pendingFor(t, "finance-lead")
	require.Len(t, inbox, 1)
	out, err := f.engine.Approve(as("finance-lead"), inbox[0].Request.ID, nil)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	got, err := f.svc.GetContract(as("admin"), res.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, "Held", got.Title)
	assert.Equal(t, org, got.OrganisationID)
}

func TestListContracts_NullTeamVisibleToAll(t *testing.T) {
	f := newFixture(t)
	legal := f.create(t, str("team-legal"))
	ops := f.create(t, str("team-ops"))
	open := f.create(t, nil)

	ids := func(cs []*repository.Contract) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	list, err := f.svc.ListContracts(as("viewer"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{legal.ID, open.ID}, ids(list))

	list, err = f.svc.ListContracts(as("admin"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{legal.ID, ops.ID, open.ID}, ids(list))

	_, err = f.svc.ListContracts(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthenticated))
}

func TestUpdateContract_AppliedWithoutRules(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))

	res, err := f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{
		Title:  str("Cleaning and waste"),
		Status: str("active"),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.Len(t, res.Audits, 1)
	assert.Equal(t, "Cleaning and waste", res.Contract.Title)
	assert.Equal(t, "active", res.Contract.Status)

	// No effective change writes no audit entry.
	res, err = f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{Title: str("Cleaning and waste")})
	require.NoError(t, err)
	assert.Empty(t, res.Audits)
}

func TestUpdateContract_FieldRuleSplitsTheChange(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))
	f.rule(t, repository.ActionUpdate, str("total_amount"), "finance")

	amount := decimal.NewFromInt(5000)
	res, err := f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{
		Title:       str("Renamed"),
		TotalAmount: &amount,
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.Len(t, res.Audits, 2)

	// The title is applied at once; the amount waits for finance.
	got, err := f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.True(t, decimal.NewFromInt(1200).Equal(got.TotalAmount))

	_, err = f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{Status: str("active")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApprovalPending), "further updates wait for the open request")

	inbox := f.pendingFor(t, "finance-lead")
	require.Len(t, inbox, 1)
	require.NotNil(t, inbox[0].Entry.FieldName)
	assert.Equal(t, "total_amount", *inbox[0].Entry.FieldName)

	_, err = f.engine.Approve(as("finance-lead"), inbox[0].Request.ID, nil)
	require.NoError(t, err)

	got, err = f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.True(t, amount.Equal(got.TotalAmount))
	assert.Equal(t, "Renamed", got.Title)
}

func TestUpdateContract_RejectedChangeIsDiscarded(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))
	f.rule(t, repository.ActionUpdate, nil, "finance")

	res, err := f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{ClearTeam: true})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	inbox := f.pendingFor(t, "finance-lead")
	require.Len(t, inbox, 1)
	_, err = f.engine.Reject(as("finance-lead"), inbox[0].Request.ID, "keep it with legal")
	require.NoError(t, err)

	got, err := f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TeamID)
	assert.Equal(t, "team-legal", *got.TeamID)
}

func TestUpdateContract_Access(t *testing.T) {
	f := newFixture(t)
	ops := f.create(t, str("team-ops"))

	_, err := f.svc.UpdateContract(as("mgr"), ops.ID, &UpdateContractRequest{Title: str("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAccessDenied), "managers cannot touch other teams' contracts")

	_, err = f.svc.UpdateContract(as("viewer"), ops.ID, &UpdateContractRequest{Title: str("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAccessDenied))

	outsider := identity.WithIdentity(context.Background(), identity.Authenticated("admin", "org-2"))
	_, err = f.svc.GetContract(outsider, ops.ID)
	assert.Error(t, err)
}

func TestDeleteContract(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, nil)
	f.rule(t, repository.ActionDelete, nil, "finance")

	res, err := f.svc.DeleteContract(as("admin"), c.ID)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	_, err = f.svc.DeleteContract(as("admin"), c.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApprovalPending))

	_, err = f.svc.GetContract(as("admin"), c.ID)
	require.NoError(t, err, "the contract survives until the delete is approved")

	inbox := f.pendingFor(t, "finance-lead")
	require.Len(t, inbox, 1)
	_, err = f.engine.Approve(as("finance-lead"), inbox[0].Request.ID, nil)
	require.NoError(t, err)

	_, err = f.store.Contracts().GetForOrganisation(context.Background(), c.ID, org)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	history, err := f.engine.History(as("admin"), EntityContract, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "audit entries outlive the contract")
}

func TestApplyApproved_DeleteOfMissingContract(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ApplyApproved(context.Background(), &repository.AuditLogEntry{
		OrganisationID: org,
		EntityType:     EntityContract,
		EntityID:       "gone",
		Action:         repository.ActionDelete,
	})
	assert.NoError(t, err)
}

func TestUpdateContract_FieldChangeStillNeedsActionLevelApproval(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))
	f.store.AssignRole("counsel", org, "legal")
	f.rule(t, repository.ActionUpdate, nil, "legal")
	f.rule(t, repository.ActionUpdate, str("total_amount"), "finance")

	amount := decimal.NewFromInt(9000)
	res, err := f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{TotalAmount: &amount})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.Len(t, res.Audits, 1)

	reqs, err := f.store.Requests().ListByAuditLog(context.Background(), res.Audits[0].AuditLogID)
	require.NoError(t, err)
	roles := []string{}
	for _, r := range reqs {
		require.NotNil(t, r.ApproverRoleName)
		roles = append(roles, *r.ApproverRoleName)
	}
	assert.ElementsMatch(t, []string{"legal", "finance"}, roles)

	finance := f.pendingFor(t, "finance-lead")
	require.Len(t, finance, 1)
	_, err = f.engine.Approve(as("finance-lead"), finance[0].Request.ID, nil)
	require.NoError(t, err)

	got, err := f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1200).Equal(got.TotalAmount), "legal has not signed off yet")

	legal := f.pendingFor(t, "counsel")
	require.Len(t, legal, 1)
	_, err = f.engine.Approve(as("counsel"), legal[0].Request.ID, nil)
	require.NoError(t, err)

	got, err = f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.True(t, amount.Equal(got.TotalAmount))
}

func TestDeleteContract_WaitsForPendingUpdate(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))
	f.rule(t, repository.ActionUpdate, str("total_amount"), "finance")

	amount := decimal.NewFromInt(5000)
	res, err := f.svc.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{TotalAmount: &amount})
	require.NoError(t, err)
	require.True(t, res.Held())

	_, err = f.svc.DeleteContract(as("mgr"), c.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApprovalPending))

	inbox := f.pendingFor(t, "finance-lead")
	require.Len(t, inbox, 1)
	out, err := f.engine.Approve(as("finance-lead"), inbox[0].Request.ID, nil)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	del, err := f.svc.DeleteContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.True(t, del.Applied)
}

func TestApplyApproved_UpdateOfMissingContract(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ApplyApproved(context.Background(), &repository.AuditLogEntry{
		OrganisationID: org,
		EntityType:     EntityContract,
		EntityID:       "gone",
		Action:         repository.ActionUpdate,
		After:          []byte(`{"title":"Renamed"}`),
	})
	assert.NoError(t, err)
}

type failingContracts struct {
	repository.ContractStore
	err error
}

func (c failingContracts) Create(context.Context, *repository.Contract) error { return c.err }

func (c failingContracts) Update(context.Context, *repository.Contract) error { return c.err }

func (c failingContracts) Delete(context.Context, string, string) error { return c.err }

func TestMutations_StoreFailureLeavesNoAuditEntry(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, str("team-legal"))

	broken := NewContractService(f.store,
		failingContracts{ContractStore: f.store.Contracts(), err: apperrors.Store(errors.New("disk full"), "write failed")},
		rbac.NewResolver(f.store.Roles(), f.store.Teams(), f.store.Contracts(), f.store, logger.Nop()),
		f.engine, logger.Nop())

	res, err := broken.CreateContract(as("admin"), &CreateContractRequest{Title: "Lost", Currency: "GBP"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))
	assert.Nil(t, res)

	_, err = broken.UpdateContract(as("mgr"), c.ID, &UpdateContractRequest{Title: str("Lost")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))

	_, err = broken.DeleteContract(as("mgr"), c.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))

	history, err := f.engine.History(as("admin"), EntityContract, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "only the original create is on record")
	assert.Equal(t, repository.ActionCreate, history[0].Entry.Action)

	got, err := f.svc.GetContract(as("mgr"), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cleaning services", got.Title)
}
