// Package approval decides whether an audited mutation needs sign-off,
// materialises approval requests for it and drives the reviewer flow that
// releases or discards the held mutation.
package approval

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/pesio-ai/be-contracts-access/internal/audit"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/logger"
	"github.com/pesio-ai/be-contracts-access/internal/notify"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// DefaultExpiry is how long a request stays open.
const DefaultExpiry = 7 * 24 * time.Hour

// Applier applies a mutation held behind approval once its audit entry is
// approved. It runs inside the transaction that approved the entry.
type Applier interface {
	ApplyApproved(ctx context.Context, entry *repository.AuditLogEntry) error
}

// Stores groups the repositories the engine needs.
type Stores struct {
	Tx       repository.Transactor
	Rules    repository.ApprovalRuleStore
	Entries  repository.AuditLogStore
	Requests repository.ApprovalRequestStore
	Roles    repository.RoleStore
}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Expiry    time.Duration
	Managers  ManagerResolver
	Publisher *notify.Publisher
	Clock     func() time.Time
}

// Engine is the approval workflow.
type Engine struct {
	tx        repository.Transactor
	catalog   *Catalog
	ledger    *audit.Ledger
	entries   repository.AuditLogStore
	requests  repository.ApprovalRequestStore
	roles     repository.RoleStore
	managers  ManagerResolver
	publisher *notify.Publisher
	appliers  map[string]Applier
	expiry    time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewEngine creates a new Engine.
func NewEngine(stores Stores, opts Options, log *logger.Logger) *Engine {
	e := &Engine{
		tx:        stores.Tx,
		catalog:   NewCatalog(stores.Rules),
		ledger:    audit.NewLedger(stores.Entries),
		entries:   stores.Entries,
		requests:  stores.Requests,
		roles:     stores.Roles,
		managers:  opts.Managers,
		publisher: opts.Publisher,
		appliers:  make(map[string]Applier),
		expiry:    opts.Expiry,
		now:       opts.Clock,
		log:       log.Component("approval"),
	}
	if e.expiry <= 0 {
		e.expiry = DefaultExpiry
	}
	if e.managers == nil {
		e.managers = NoManager{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Catalog exposes the rule catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// RegisterApplier installs the applier for an entity type.
func (e *Engine) RegisterApplier(entityType string, a Applier) {
	e.appliers[entityType] = a
}

// ── checkAndRequestApproval ──────────────────────────────────────────────────

// CheckAndRequestApproval decides the audit entry's disposition. It returns
// true when the mutation may proceed immediately and false when it is held.
// On error the entry keeps the pending status it was recorded with.
func (e *Engine) CheckAndRequestApproval(
	ctx context.Context,
	entityType string,
	action repository.Action,
	entityID, auditLogID string,
	fieldName *string,
) (bool, error) {
	var (
		proceed bool
		created []*repository.ApprovalRequest
		entry   *repository.AuditLogEntry
	)

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		entry, err = e.entries.GetForUpdate(ctx, auditLogID)
		if err != nil {
			return err
		}
		if entry.EntityType != entityType || entry.EntityID != entityID || entry.Action != action {
			return apperrors.InvalidInput("audit_log_id", "audit entry does not describe this mutation")
		}

		switch entry.ApprovalStatus {
		case repository.ApprovalApproved, repository.ApprovalNotRequired:
			proceed = true
			return nil
		case repository.ApprovalRejected:
			return nil
		}

		rules, err := e.catalog.RulesFor(ctx, entry.OrganisationID, entityType, action, fieldName)
		if err != nil {
			return err
		}
		rules = gating(rules)

		existing, err := e.requests.ListByAuditLog(ctx, auditLogID)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			// Requests raised under rules since deactivated still hold the entry.
			if lo.SomeBy(existing, func(r *repository.ApprovalRequest) bool { return r.Status == repository.RequestPending }) {
				return e.ledger.SetApprovalStatus(ctx, auditLogID, repository.ApprovalPending, true)
			}
			proceed = true
			return e.ledger.SetApprovalStatus(ctx, auditLogID, repository.ApprovalNotRequired, false)
		}
		seen := lo.SliceToMap(existing, func(r *repository.ApprovalRequest) (string, struct{}) {
			return r.ApprovalRuleID, struct{}{}
		})

		for _, rule := range rules {
			if _, ok := seen[rule.ID]; ok {
				continue
			}
			req, err := e.newRequest(ctx, entry, rule)
			if err != nil {
				return err
			}
			ok, err := e.requests.Create(ctx, req)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, req)
			}
		}

		return e.ledger.SetApprovalStatus(ctx, auditLogID, repository.ApprovalPending, true)
	})
	if err != nil {
		e.log.Error().Err(err).
			Str("audit_log_id", auditLogID).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("approval check failed, entry left pending")
		return false, err
	}

	for _, req := range created {
		e.notifyRequested(ctx, entry, req)
	}
	if len(created) > 0 {
		e.log.Info().
			Str("audit_log_id", auditLogID).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Int("requests", len(created)).
			Msg("approval requested")
	}
	return proceed, nil
}

// newRequest resolves the approver for one rule. A rule that cannot be
// resolved still yields a request, left unassigned for an administrator.
func (e *Engine) newRequest(ctx context.Context, entry *repository.AuditLogEntry, rule *repository.ApprovalRule) (*repository.ApprovalRequest, error) {
	req := &repository.ApprovalRequest{
		AuditLogID:     entry.ID,
		ApprovalRuleID: rule.ID,
		ApproverType:   repository.ApproverType(rule.ApprovalType),
		Status:         repository.RequestPending,
		ExpiresAt:      e.now().Add(e.expiry),
	}

	switch rule.ApprovalType {
	case repository.ApprovalTypeManager:
		managerID, ok, err := e.managers.ResolveManager(ctx, entry.OrganisationID, entry.ActorID)
		if err != nil {
			return nil, err
		}
		if ok {
			req.ApproverID = &managerID
		} else {
			e.misconfigured(entry, rule, "no manager could be resolved for the actor")
		}
	case repository.ApprovalTypeRole:
		req.ApproverRoleID = rule.RequiredRoleID
		req.ApproverRoleName = rule.RequiredRoleName
		if blank(rule.RequiredRoleName) {
			e.misconfigured(entry, rule, "role rule has no required role name")
		}
	case repository.ApprovalTypeCustom:
		e.misconfigured(entry, rule, "custom approvers are not supported")
	}
	return req, nil
}

func (e *Engine) misconfigured(entry *repository.AuditLogEntry, rule *repository.ApprovalRule, msg string) {
	e.log.Warn().
		Err(apperrors.WorkflowConfiguration(msg)).
		Str("audit_log_id", entry.ID).
		Str("approval_rule_id", rule.ID).
		Str("approval_type", string(rule.ApprovalType)).
		Msg("approval request left unassigned")
}

// ── log wrappers ─────────────────────────────────────────────────────────────

// Change is a mutation to be audited and checked.
type Change struct {
	EntityType string
	EntityID   string
	FieldName  *string
	Before     any
	After      any
	Metadata   map[string]any
}

// Result is the outcome of a logged mutation.
type Result struct {
	AuditLogID       string `json:"audit_log_id"`
	RequiresApproval bool   `json:"requires_approval"`
}

// LogCreate audits an attempted create by the caller and checks it.
func (e *Engine) LogCreate(ctx context.Context, c Change) (Result, error) {
	return e.logAndCheck(ctx, repository.ActionCreate, c)
}

// LogUpdate audits an attempted update by the caller and checks it.
func (e *Engine) LogUpdate(ctx context.Context, c Change) (Result, error) {
	return e.logAndCheck(ctx, repository.ActionUpdate, c)
}

// LogDelete audits an attempted delete by the caller and checks it.
func (e *Engine) LogDelete(ctx context.Context, c Change) (Result, error) {
	return e.logAndCheck(ctx, repository.ActionDelete, c)
}

// logAndCheck commits the audit entry first so the attempt is on record even
// when the approval check fails.
func (e *Engine) logAndCheck(ctx context.Context, action repository.Action, c Change) (Result, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return Result{}, apperrors.AuthenticationRequired()
	}

	m := audit.Mutation{
		OrganisationID: id.OrganisationID,
		EntityType:     c.EntityType,
		EntityID:       c.EntityID,
		ActorID:        id.UserID,
		FieldName:      c.FieldName,
		Before:         c.Before,
		After:          c.After,
		Metadata:       c.Metadata,
	}

	var (
		auditID string
		err     error
	)
	switch action {
	case repository.ActionCreate:
		auditID, err = e.ledger.RecordCreate(ctx, m)
	case repository.ActionUpdate:
		auditID, err = e.ledger.RecordUpdate(ctx, m)
	default:
		auditID, err = e.ledger.RecordDelete(ctx, m)
	}
	if err != nil {
		return Result{}, err
	}

	proceed, err := e.CheckAndRequestApproval(ctx, c.EntityType, action, c.EntityID, auditID, c.FieldName)
	if err != nil {
		return Result{AuditLogID: auditID, RequiresApproval: true}, err
	}
	return Result{AuditLogID: auditID, RequiresApproval: !proceed}, nil
}

// ── gate ─────────────────────────────────────────────────────────────────────

// CanProceed reports whether no open request gates (entity type, id, action)
// in the caller's organisation. Expired requests no longer gate.
func (e *Engine) CanProceed(ctx context.Context, entityType, entityID string, action repository.Action) (bool, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return false, nil
	}
	n, err := e.requests.CountOpenForEntity(ctx, id.OrganisationID, entityType, entityID, action, e.now())
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// ── history ──────────────────────────────────────────────────────────────────

// HistoryEntry is one audit entry with the requests it spawned.
type HistoryEntry struct {
	Entry    *repository.AuditLogEntry     `json:"entry"`
	Requests []*repository.ApprovalRequest `json:"requests"`
}

// History returns an entity's audit trail in the caller's organisation.
func (e *Engine) History(ctx context.Context, entityType, entityID string) ([]HistoryEntry, error) {
	id := identity.FromContext(ctx)
	if !id.IsAuthenticated() {
		return nil, apperrors.AuthenticationRequired()
	}

	out := []HistoryEntry{}
	err := e.tx.InReadSnapshot(ctx, func(ctx context.Context) error {
		entries, err := e.entries.ListForEntity(ctx, id.OrganisationID, entityType, entityID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			reqs, err := e.requests.ListByAuditLog(ctx, entry.ID)
			if err != nil {
				return err
			}
			if reqs == nil {
				reqs = []*repository.ApprovalRequest{}
			}
			out = append(out, HistoryEntry{Entry: entry, Requests: reqs})
		}
		return nil
	})
	return out, err
}

// ── notifications ────────────────────────────────────────────────────────────

func (e *Engine) notifyRequested(ctx context.Context, entry *repository.AuditLogEntry, req *repository.ApprovalRequest) {
	event := notify.Event{
		EventType:      notify.EventApprovalRequested,
		OrganisationID: entry.OrganisationID,
		ActorID:        entry.ActorID,
		ResourceType:   entry.EntityType,
		ResourceID:     entry.EntityID,
		IsActionable:   true,
		Payload: map[string]any{
			"approval_request_id": req.ID,
			"audit_log_id":        entry.ID,
			"action":              entry.Action,
			"expires_at":          req.ExpiresAt,
		},
	}
	if req.ApproverID != nil {
		event.Recipients = []string{*req.ApproverID}
	}
	if req.ApproverRoleName != nil {
		event.RecipientRole = *req.ApproverRoleName
	}
	if req.Unassigned() {
		event.RecipientRole = repository.RoleOrganisationAdmin
		event.Severity = "warning"
	}
	e.publisher.Publish(ctx, event)
}
