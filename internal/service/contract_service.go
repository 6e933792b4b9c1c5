package service

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-contracts-access/internal/approval"
	"github.com/pesio-ai/be-contracts-access/internal/audit"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/rbac"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// EntityContract is the audit entity type for contracts.
const EntityContract = "contract"

var contractStatuses = []string{"draft", "active", "expired", "terminated"}

// ContractService handles contract business logic. Every mutation is audited
// and may be held behind approval.
type ContractService struct {
	tx        repository.Transactor
	contracts repository.ContractStore
	access    *rbac.Resolver
	approvals *approval.Engine
	log       *logger.Logger
}

// NewContractService creates a new contract service and registers it to
// apply approved contract changes.
func NewContractService(
	tx repository.Transactor,
	contracts repository.ContractStore,
	access *rbac.Resolver,
	approvals *approval.Engine,
	log *logger.Logger,
) *ContractService {
	s := &ContractService{
		tx:        tx,
		contracts: contracts,
		access:    access,
		approvals: approvals,
		log:       log.Component("contracts"),
	}
	approvals.RegisterApplier(EntityContract, s)
	return s
}

// CreateContractRequest represents a create contract request
type CreateContractRequest struct {
	TeamID      *string         `json:"team_id"`
	Title       string          `json:"title"`
	Supplier    string          `json:"supplier"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
}

// UpdateContractRequest is a partial update. Nil fields are left unchanged;
// ClearTeam removes the contract from its team.
type UpdateContractRequest struct {
	TeamID      *string          `json:"team_id"`
	ClearTeam   bool             `json:"clear_team"`
	Title       *string          `json:"title"`
	Supplier    *string          `json:"supplier"`
	TotalAmount *decimal.Decimal `json:"total_amount"`
	Currency    *string          `json:"currency"`
	Status      *string          `json:"status"`
}

// MutationResult reports what happened to a requested change.
type MutationResult struct {
	Contract *repository.Contract `json:"contract,omitempty"`
	// Applied is false when any part of the change is held for approval.
	Applied bool              `json:"applied"`
	Audits  []approval.Result `json:"audits"`
}

// Held reports whether some part of the change awaits approval.
func (r *MutationResult) Held() bool {
	return lo.SomeBy(r.Audits, func(a approval.Result) bool { return a.RequiresApproval })
}

// ListContracts returns the contracts the caller can see. Contracts without a
// team are included for everyone in the organisation.
func (s *ContractService) ListContracts(ctx context.Context) ([]*repository.Contract, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return nil, apperrors.AuthenticationRequired()
	}
	scope, err := s.access.AccessibleTeamIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.contracts.List(ctx, id.OrganisationID, scope.ContractFilter())
}

// GetContract returns one contract if the caller may see it.
func (s *ContractService) GetContract(ctx context.Context, contractID string) (*repository.Contract, error) {
	if err := s.requireAccess(ctx, contractID); err != nil {
		return nil, err
	}
	return s.contracts.GetForOrganisation(ctx, contractID, identity.FromContext(ctx).OrganisationID)
}

// CreateContract audits the create and applies it unless approval is required.
func (s *ContractService) CreateContract(ctx context.Context, req *CreateContractRequest) (*MutationResult, error) {
	if err := s.requireManage(ctx); err != nil {
		return nil, err
	}
	if err := validateContract(req.Title, req.Currency, req.Status, req.TotalAmount); err != nil {
		return nil, err
	}
	if req.TeamID != nil {
		if err := s.requireTeam(ctx, *req.TeamID); err != nil {
			return nil, err
		}
	}

	id := identity.FromContext(ctx)
	contract := &repository.Contract{
		ID:             uuid.NewString(),
		OrganisationID: id.OrganisationID,
		TeamID:         req.TeamID,
		Title:          strings.TrimSpace(req.Title),
		Supplier:       strings.TrimSpace(req.Supplier),
		TotalAmount:    req.TotalAmount,
		Currency:       strings.ToUpper(req.Currency),
		Status:         lo.CoalesceOrEmpty(req.Status, "draft"),
	}

	var res approval.Result
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.approvals.LogCreate(ctx, approval.Change{
			EntityType: EntityContract,
			EntityID:   contract.ID,
			After:      mutableFields(contract),
		})
		if err != nil || res.RequiresApproval {
			return err
		}
		return s.contracts.Create(ctx, contract)
	})
	if err != nil {
		return nil, err
	}

	out := &MutationResult{Contract: contract, Audits: []approval.Result{res}}
	if res.RequiresApproval {
		s.log.Info().Str("contract_id", contract.ID).Str("audit_log_id", res.AuditLogID).Msg("contract create held for approval")
		return out, nil
	}
	out.Applied = true

	s.log.Info().
		Str("contract_id", contract.ID).
		Str("organisation_id", contract.OrganisationID).
		Str("created_by", id.UserID).
		Msg("contract created")
	return out, nil
}

// UpdateContract audits an update. Each changed field that has its own rule
// is audited separately; the remaining fields share one entry. Entries that
// need no approval are applied at once; the others wait for reviewers.
func (s *ContractService) UpdateContract(ctx context.Context, contractID string, req *UpdateContractRequest) (*MutationResult, error) {
	if err := s.requireManage(ctx); err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, contractID); err != nil {
		return nil, err
	}
	if err := s.requireNoPending(ctx, contractID, repository.ActionUpdate); err != nil {
		return nil, err
	}

	id := identity.FromContext(ctx)
	current, err := s.contracts.GetForOrganisation(ctx, contractID, id.OrganisationID)
	if err != nil {
		return nil, err
	}

	proposed := *current
	if err := applyUpdate(&proposed, req); err != nil {
		return nil, err
	}
	if req.TeamID != nil && !req.ClearTeam {
		if err := s.requireTeam(ctx, *req.TeamID); err != nil {
			return nil, err
		}
	}

	before := mutableFields(current)
	after := mutableFields(&proposed)
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	changed := audit.ChangedFields(beforeJSON, afterJSON)
	if len(changed) == 0 {
		return &MutationResult{Contract: current, Applied: true, Audits: []approval.Result{}}, nil
	}

	fieldRules, err := s.approvals.Catalog().FieldRules(ctx, id.OrganisationID, EntityContract, repository.ActionUpdate)
	if err != nil {
		return nil, err
	}
	perField, rest := lo.FilterReject(changed, func(f string, _ int) bool {
		return slices.Contains(fieldRules, f)
	})

	out := &MutationResult{Audits: []approval.Result{}}
	result := current
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var immediate []map[string]any
		logPart := func(field *string, keys []string) error {
			res, err := s.approvals.LogUpdate(ctx, approval.Change{
				EntityType: EntityContract,
				EntityID:   contractID,
				FieldName:  field,
				Before:     lo.PickByKeys(before, keys),
				After:      lo.PickByKeys(after, keys),
			})
			if err != nil {
				return err
			}
			out.Audits = append(out.Audits, res)
			if !res.RequiresApproval {
				immediate = append(immediate, lo.PickByKeys(after, keys))
			}
			return nil
		}

		for _, field := range perField {
			if err := logPart(&field, []string{field}); err != nil {
				return err
			}
		}
		if len(rest) > 0 {
			if err := logPart(nil, rest); err != nil {
				return err
			}
		}
		if len(immediate) == 0 {
			return nil
		}

		raw, err := json.Marshal(lo.Assign(immediate...))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode contract patch")
		}
		result, err = s.applyPatch(ctx, contractID, id.OrganisationID, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Contract = result
	out.Applied = !out.Held()

	s.log.Info().
		Str("contract_id", contractID).
		Strs("changed", changed).
		Bool("held", out.Held()).
		Str("updated_by", id.UserID).
		Msg("contract update processed")
	return out, nil
}

// DeleteContract audits the delete and applies it unless approval is required.
func (s *ContractService) DeleteContract(ctx context.Context, contractID string) (*MutationResult, error) {
	if err := s.requireManage(ctx); err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, contractID); err != nil {
		return nil, err
	}
	if err := s.requireNoPending(ctx, contractID, repository.ActionDelete, repository.ActionUpdate); err != nil {
		return nil, err
	}

	id := identity.FromContext(ctx)
	current, err := s.contracts.GetForOrganisation(ctx, contractID, id.OrganisationID)
	if err != nil {
		return nil, err
	}

	var res approval.Result
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.approvals.LogDelete(ctx, approval.Change{
			EntityType: EntityContract,
			EntityID:   contractID,
			Before:     mutableFields(current),
		})
		if err != nil || res.RequiresApproval {
			return err
		}
		return s.contracts.Delete(ctx, contractID, id.OrganisationID)
	})
	if err != nil {
		return nil, err
	}

	out := &MutationResult{Contract: current, Audits: []approval.Result{res}}
	if res.RequiresApproval {
		return out, nil
	}
	out.Applied = true

	s.log.Info().Str("contract_id", contractID).Str("deleted_by", id.UserID).Msg("contract deleted")
	return out, nil
}

// ContractHistory returns the audit trail of a contract the caller can see.
func (s *ContractService) ContractHistory(ctx context.Context, contractID string) ([]approval.HistoryEntry, error) {
	if err := s.requireAccess(ctx, contractID); err != nil {
		return nil, err
	}
	return s.approvals.History(ctx, EntityContract, contractID)
}

// ApplyApproved applies a held contract change once its audit entry is approved.
func (s *ContractService) ApplyApproved(ctx context.Context, entry *repository.AuditLogEntry) error {
	switch entry.Action {
	case repository.ActionCreate:
		contract := &repository.Contract{}
		if err := json.Unmarshal(entry.After, contract); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode held contract")
		}
		contract.ID = entry.EntityID
		contract.OrganisationID = entry.OrganisationID
		return s.contracts.Create(ctx, contract)

	case repository.ActionUpdate:
		_, err := s.applyPatch(ctx, entry.EntityID, entry.OrganisationID, entry.After)
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			s.log.Warn().
				Str("contract_id", entry.EntityID).
				Str("audit_log_id", entry.ID).
				Msg("approved update skipped, contract no longer exists")
			return nil
		}
		return err

	case repository.ActionDelete:
		err := s.contracts.Delete(ctx, entry.EntityID, entry.OrganisationID)
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil
		}
		return err
	}
	return apperrors.New(apperrors.ErrCodeInternal, "unknown audit action "+string(entry.Action))
}

func (s *ContractService) applyPatch(ctx context.Context, contractID, organisationID string, patch json.RawMessage) (*repository.Contract, error) {
	current, err := s.contracts.GetForOrganisation(ctx, contractID, organisationID)
	if err != nil {
		return nil, err
	}
	updated := *current
	if err := json.Unmarshal(patch, &updated); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode contract patch")
	}
	updated.ID = current.ID
	updated.OrganisationID = current.OrganisationID
	updated.CreatedAt = current.CreatedAt

	if err := s.contracts.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ── checks ───────────────────────────────────────────────────────────────────

func (s *ContractService) requireManage(ctx context.Context) error {
	d, err := s.access.RequireContractManagement(ctx)
	if err != nil {
		return err
	}
	return d.Err()
}

func (s *ContractService) requireAccess(ctx context.Context, contractID string) error {
	d, err := s.access.RequireContractAccess(ctx, contractID)
	if err != nil {
		return err
	}
	return d.Err()
}

func (s *ContractService) requireTeam(ctx context.Context, teamID string) error {
	scope, err := s.access.AccessibleTeamIDs(ctx)
	if err != nil {
		return err
	}
	if !scope.Contains(teamID) {
		return apperrors.AccessDenied("you are not a member of team " + teamID)
	}
	return nil
}

// requireNoPending refuses a change while any of actions awaits approval.
func (s *ContractService) requireNoPending(ctx context.Context, contractID string, actions ...repository.Action) error {
	for _, action := range actions {
		ok, err := s.approvals.CanProceed(ctx, EntityContract, contractID, action)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ApprovalPending(EntityContract, contractID)
		}
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func validateContract(title, currency, status string, amount decimal.Decimal) error {
	if strings.TrimSpace(title) == "" {
		return apperrors.InvalidInput("title", "title is required")
	}
	if len(currency) != 3 {
		return apperrors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}
	if status != "" && !slices.Contains(contractStatuses, status) {
		return apperrors.InvalidInput("status", "status must be one of "+strings.Join(contractStatuses, ", "))
	}
	if amount.IsNegative() {
		return apperrors.InvalidInput("total_amount", "total amount cannot be negative")
	}
	return nil
}

func applyUpdate(c *repository.Contract, req *UpdateContractRequest) error {
	if req.ClearTeam {
		c.TeamID = nil
	} else if req.TeamID != nil {
		c.TeamID = req.TeamID
	}
	if req.Title != nil {
		c.Title = strings.TrimSpace(*req.Title)
	}
	if req.Supplier != nil {
		c.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.TotalAmount != nil {
		c.TotalAmount = *req.TotalAmount
	}
	if req.Currency != nil {
		c.Currency = strings.ToUpper(*req.Currency)
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
	return validateContract(c.Title, c.Currency, c.Status, c.TotalAmount)
}

// mutableFields is the audited view of a contract, keyed by JSON name.
func mutableFields(c *repository.Contract) map[string]any {
	return map[string]any{
		"team_id":      c.TeamID,
		"title":        c.Title,
		"supplier":     c.Supplier,
		"total_amount": c.TotalAmount,
		"currency":     c.Currency,
		"status":       c.Status,
	}
}
