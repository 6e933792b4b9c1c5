package repository

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ── Enumerations ─────────────────────────────────────────────────────────────

// Action is the kind of mutation being audited.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ApprovalType declares who must sign off a rule.
type ApprovalType string

const (
	ApprovalTypeSelf    ApprovalType = "self"
	ApprovalTypeManager ApprovalType = "manager"
	ApprovalTypeRole    ApprovalType = "role"
	ApprovalTypeCustom  ApprovalType = "custom"
)

func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeSelf, ApprovalTypeManager, ApprovalTypeRole, ApprovalTypeCustom:
		return true
	}
	return false
}

// ApprovalStatus is the disposition of an audit entry.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// RequestStatus is the state of a single approval request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// ApproverType mirrors the non-self approval types.
type ApproverType string

const (
	ApproverManager ApproverType = "manager"
	ApproverRole    ApproverType = "role"
	ApproverCustom  ApproverType = "custom"
)

// AccessLevel is the per-membership visibility flag. The zero value means
// the column is NULL.
type AccessLevel string

const (
	AccessLevelNone         AccessLevel = ""
	AccessLevelTeam         AccessLevel = "team"
	AccessLevelOrganisation AccessLevel = "organisation"
)

// Well-known global role names.
const (
	RoleSuperAdmin        = "superadmin"
	RoleOrganisationAdmin = "organisation_admin"
	RoleStaff             = "staff"
)

// ── Identity and membership ──────────────────────────────────────────────────

// TeamMembership is one (user, team) pair within an organisation.
type TeamMembership struct {
	UserID         string
	TeamID         string
	OrganisationID string
	AccessLevel    AccessLevel
	RoleInTeam     string
}

// ── Contracts ────────────────────────────────────────────────────────────────

// Contract belongs to exactly one organisation and optionally one team.
type Contract struct {
	ID             string          `json:"id"`
	OrganisationID string          `json:"organisation_id"`
	TeamID         *string         `json:"team_id"`
	Title          string          `json:"title"`
	Supplier       string          `json:"supplier"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ContractFilter restricts a contract listing to a set of teams.
// When AllTeams is set TeamIDs is ignored.
type ContractFilter struct {
	AllTeams          bool
	TeamIDs           []string
	IncludeUnassigned bool
}

// ── Approval workflow ────────────────────────────────────────────────────────

// ApprovalRule declares that an entity/action(/field) needs sign-off.
type ApprovalRule struct {
	ID               string       `json:"id"`
	OrganisationID   string       `json:"organisation_id"`
	EntityType       string       `json:"entity_type"`
	Action           Action       `json:"action"`
	FieldName        *string      `json:"field_name,omitempty"`
	ApprovalType     ApprovalType `json:"approval_type"`
	RequiredRoleID   *string      `json:"required_role_id,omitempty"`
	RequiredRoleName *string      `json:"required_role_name,omitempty"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// AuditLogEntry is one permanent record of a mutation attempt.
type AuditLogEntry struct {
	ID               string          `json:"id"`
	OrganisationID   string          `json:"organisation_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Action           Action          `json:"action"`
	FieldName        *string         `json:"field_name,omitempty"`
	ActorID          string          `json:"actor_id"`
	Before           json.RawMessage `json:"before,omitempty"`
	After            json.RawMessage `json:"after,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalStatus   ApprovalStatus  `json:"approval_status"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// ApprovalRequest is one pending sign-off bound to a rule and an audit entry.
type ApprovalRequest struct {
	ID               string        `json:"id"`
	AuditLogID       string        `json:"audit_log_id"`
	ApprovalRuleID   string        `json:"approval_rule_id"`
	ApproverType     ApproverType  `json:"approver_type"`
	ApproverID       *string       `json:"approver_id,omitempty"`
	ApproverRoleID   *string       `json:"approver_role_id,omitempty"`
	ApproverRoleName *string       `json:"approver_role_name,omitempty"`
	Status           RequestStatus `json:"status"`
	ExpiresAt        time.Time     `json:"expires_at"`
	ResolvedBy       *string       `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	Notes            *string       `json:"notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// IsOpen reports whether the request still gates its mutation at time now.
// A pending request past its expiry no longer counts as open.
func (r *ApprovalRequest) IsOpen(now time.Time) bool {
	return r.Status == RequestPending && now.Before(r.ExpiresAt)
}

// Unassigned reports whether nobody in particular can resolve the request.
func (r *ApprovalRequest) Unassigned() bool {
	return r.ApproverID == nil && (r.ApproverRoleName == nil || *r.ApproverRoleName == "")
}

// PendingApproval pairs an open request with the audit entry it gates.
type PendingApproval struct {
	Request *ApprovalRequest `json:"request"`
	Entry   *AuditLogEntry   `json:"entry"`
}
