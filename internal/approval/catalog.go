package approval

import (
	"context"
	"strings"

	"github.com/samber/lo"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// Catalog answers which rules gate a mutation and administers the rules.
type Catalog struct {
	rules repository.ApprovalRuleStore
}

// NewCatalog creates a new Catalog.
func NewCatalog(rules repository.ApprovalRuleStore) *Catalog {
	return &Catalog{rules: rules}
}

// RulesFor returns the active rules matching (entity type, action, field).
// A nil field selects action-level rules only. A field selects that field's
// rules plus the action-level ones, so a field change never skips them.
func (c *Catalog) RulesFor(ctx context.Context, organisationID, entityType string, action repository.Action, fieldName *string) ([]*repository.ApprovalRule, error) {
	return c.rules.ListMatching(ctx, organisationID, entityType, action, fieldName)
}

// RequiresApproval reports whether any matching rule needs a reviewer.
// Self rules never gate a mutation.
func (c *Catalog) RequiresApproval(ctx context.Context, organisationID, entityType string, action repository.Action, fieldName *string) (bool, error) {
	rules, err := c.RulesFor(ctx, organisationID, entityType, action, fieldName)
	if err != nil {
		return false, err
	}
	return len(gating(rules)) > 0, nil
}

// FieldRules returns the names of fields that carry their own rules for
// (entity type, action).
func (c *Catalog) FieldRules(ctx context.Context, organisationID, entityType string, action repository.Action) ([]string, error) {
	rules, err := c.rules.List(ctx, organisationID, true)
	if err != nil {
		return nil, err
	}
	fields := lo.FilterMap(rules, func(r *repository.ApprovalRule, _ int) (string, bool) {
		if r.EntityType != entityType || r.Action != action || r.FieldName == nil {
			return "", false
		}
		return *r.FieldName, r.ApprovalType != repository.ApprovalTypeSelf
	})
	return lo.Uniq(fields), nil
}

func gating(rules []*repository.ApprovalRule) []*repository.ApprovalRule {
	return lo.Filter(rules, func(r *repository.ApprovalRule, _ int) bool {
		return r.ApprovalType != repository.ApprovalTypeSelf
	})
}

// ── administration ───────────────────────────────────────────────────────────

// RuleInput is a new rule as submitted by an administrator.
type RuleInput struct {
	EntityType       string                  `json:"entity_type"`
	Action           repository.Action       `json:"action"`
	FieldName        *string                 `json:"field_name,omitempty"`
	ApprovalType     repository.ApprovalType `json:"approval_type"`
	RequiredRoleID   *string                 `json:"required_role_id,omitempty"`
	RequiredRoleName *string                 `json:"required_role_name,omitempty"`
}

// ListRules returns an organisation's rules.
func (c *Catalog) ListRules(ctx context.Context, organisationID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	rules, err := c.rules.List(ctx, organisationID, activeOnly)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*repository.ApprovalRule{}
	}
	return rules, nil
}

// CreateRule validates and stores a rule.
func (c *Catalog) CreateRule(ctx context.Context, organisationID string, in RuleInput) (*repository.ApprovalRule, error) {
	in.EntityType = strings.TrimSpace(in.EntityType)
	if in.EntityType == "" {
		return nil, apperrors.InvalidInput("entity_type", "entity type is required")
	}
	if !in.Action.Valid() {
		return nil, apperrors.InvalidInput("action", "action must be create, update or delete")
	}
	if !in.ApprovalType.Valid() {
		return nil, apperrors.InvalidInput("approval_type", "approval type must be self, manager, role or custom")
	}
	if in.FieldName != nil {
		name := strings.TrimSpace(*in.FieldName)
		if name == "" {
			in.FieldName = nil
		} else {
			in.FieldName = &name
		}
	}
	if in.FieldName != nil && in.Action != repository.ActionUpdate {
		return nil, apperrors.InvalidInput("field_name", "field rules only apply to updates")
	}
	if in.ApprovalType == repository.ApprovalTypeRole && blank(in.RequiredRoleName) && blank(in.RequiredRoleID) {
		return nil, apperrors.InvalidInput("required_role_name", "role rules need a required role")
	}

	rule := &repository.ApprovalRule{
		OrganisationID:   organisationID,
		EntityType:       in.EntityType,
		Action:           in.Action,
		FieldName:        in.FieldName,
		ApprovalType:     in.ApprovalType,
		RequiredRoleID:   in.RequiredRoleID,
		RequiredRoleName: in.RequiredRoleName,
		IsActive:         true,
	}
	if err := c.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeactivateRule switches a rule off. Requests already spawned by it stand.
func (c *Catalog) DeactivateRule(ctx context.Context, organisationID, ruleID string) error {
	return c.rules.Deactivate(ctx, ruleID, organisationID)
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
