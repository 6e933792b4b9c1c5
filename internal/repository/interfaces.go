package repository

import (
	"context"
	"time"
)

// Transactor scopes several repository calls to one unit of work.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// InReadSnapshot gives a consistent read view across several queries.
	InReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// RoleStore reads global role assignments.
type RoleStore interface {
	// RoleNamesForUser returns the names of roles assigned to userID within organisationID.
	RoleNamesForUser(ctx context.Context, userID, organisationID string) ([]string, error)
	// UserIDsWithRole returns the users holding roleName within organisationID.
	UserIDsWithRole(ctx context.Context, organisationID, roleName string) ([]string, error)
}

// TeamStore reads team memberships.
type TeamStore interface {
	// MembershipsForUser returns userID's memberships on teams owned by organisationID.
	MembershipsForUser(ctx context.Context, userID, organisationID string) ([]TeamMembership, error)
	// MembersWithTeamRole returns the user ids labelled roleInTeam on any of teamIDs.
	MembersWithTeamRole(ctx context.Context, organisationID string, teamIDs []string, roleInTeam string) ([]string, error)
}

// ContractStore persists contracts. Every method is scoped to an organisation.
type ContractStore interface {
	GetForOrganisation(ctx context.Context, id, organisationID string) (*Contract, error)
	List(ctx context.Context, organisationID string, filter ContractFilter) ([]*Contract, error)
	Create(ctx context.Context, c *Contract) error
	Update(ctx context.Context, c *Contract) error
	Delete(ctx context.Context, id, organisationID string) error
}

// ApprovalRuleStore persists approval rules.
type ApprovalRuleStore interface {
	// ListMatching returns active rules for the key. A nil fieldName matches
	// action-level rules only; a non-nil fieldName matches that field's rules
	// and the action-level rules.
	ListMatching(ctx context.Context, organisationID, entityType string, action Action, fieldName *string) ([]*ApprovalRule, error)
	List(ctx context.Context, organisationID string, activeOnly bool) ([]*ApprovalRule, error)
	GetByID(ctx context.Context, id, organisationID string) (*ApprovalRule, error)
	Create(ctx context.Context, rule *ApprovalRule) error
	Deactivate(ctx context.Context, id, organisationID string) error
}

// AuditLogStore persists audit entries. Entries are never deleted.
type AuditLogStore interface {
	Create(ctx context.Context, entry *AuditLogEntry) error
	GetByID(ctx context.Context, id string) (*AuditLogEntry, error)
	// GetForUpdate reads an entry and locks it for the enclosing transaction.
	GetForUpdate(ctx context.Context, id string) (*AuditLogEntry, error)
	SetApprovalStatus(ctx context.Context, id string, status ApprovalStatus, required bool) error
	ListForEntity(ctx context.Context, organisationID, entityType, entityID string) ([]*AuditLogEntry, error)
}

// ApprovalRequestStore persists approval requests. Requests are never deleted.
type ApprovalRequestStore interface {
	// Create inserts the request unless one already exists for the same
	// (audit log, rule) pair, in which case it reports created=false.
	Create(ctx context.Context, req *ApprovalRequest) (created bool, err error)
	GetByID(ctx context.Context, id string) (*ApprovalRequest, error)
	ListByAuditLog(ctx context.Context, auditLogID string) ([]*ApprovalRequest, error)
	// Resolve moves a request out of pending only if it is still pending and
	// unexpired at now. It reports false when another writer got there first.
	Resolve(ctx context.Context, id string, to RequestStatus, resolvedBy string, notes *string, now time.Time) (bool, error)
	// CountOpenForEntity counts pending, unexpired requests gating the triple.
	CountOpenForEntity(ctx context.Context, organisationID, entityType, entityID string, action Action, now time.Time) (int, error)
	// ListOpenForOrganisation returns pending, unexpired requests with their entries.
	ListOpenForOrganisation(ctx context.Context, organisationID string, now time.Time) ([]PendingApproval, error)
	// ExpireOverdue marks pending requests past expiry as expired and returns
	// the distinct audit log ids affected.
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}

// TermStore reads organisation naming preferences.
type TermStore interface {
	TermsForOrganisation(ctx context.Context, organisationID string) (map[string]string, error)
}
