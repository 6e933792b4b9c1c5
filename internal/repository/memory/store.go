// Package memory is an in-process implementation of every repository
// interface. It backs unit tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

type Store struct {
	mu sync.RWMutex
	// txMu serialises transactions against each other.
	txMu sync.Mutex

	teams       map[string]string // team id -> organisation id
	roles       map[string]map[string][]string
	memberships []repository.TeamMembership
	contracts   map[string]*repository.Contract
	rules       []*repository.ApprovalRule
	audit       []*repository.AuditLogEntry
	requests    []*repository.ApprovalRequest
	terms       map[string]map[string]string

	// FailNext, when set, is returned once by the next write. Tests use it to
	// simulate a store failure part-way through a workflow.
	FailNext error
}

func NewStore() *Store {
	return &Store{
		teams:     make(map[string]string),
		roles:     make(map[string]map[string][]string),
		contracts: make(map[string]*repository.Contract),
		terms:     make(map[string]map[string]string),
	}
}

type txKey struct{}

type snapshot struct {
	teams       map[string]string
	roles       map[string]map[string][]string
	memberships []repository.TeamMembership
	contracts   map[string]*repository.Contract
	rules       []*repository.ApprovalRule
	audit       []*repository.AuditLogEntry
	requests    []*repository.ApprovalRequest
	terms       map[string]map[string]string
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		teams:       make(map[string]string, len(s.teams)),
		roles:       make(map[string]map[string][]string, len(s.roles)),
		memberships: slices.Clone(s.memberships),
		contracts:   make(map[string]*repository.Contract, len(s.contracts)),
		terms:       make(map[string]map[string]string, len(s.terms)),
	}
	for k, v := range s.teams {
		snap.teams[k] = v
	}
	for org, users := range s.roles {
		m := make(map[string][]string, len(users))
		for u, names := range users {
			m[u] = slices.Clone(names)
		}
		snap.roles[org] = m
	}
	for k, c := range s.contracts {
		snap.contracts[k] = cloneContract(c)
	}
	for _, r := range s.rules {
		snap.rules = append(snap.rules, cloneRule(r))
	}
	for _, e := range s.audit {
		snap.audit = append(snap.audit, cloneEntry(e))
	}
	for _, r := range s.requests {
		snap.requests = append(snap.requests, cloneRequest(r))
	}
	for org, t := range s.terms {
		m := make(map[string]string, len(t))
		for k, v := range t {
			m[k] = v
		}
		snap.terms[org] = m
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = snap.teams
	s.roles = snap.roles
	s.memberships = snap.memberships
	s.contracts = snap.contracts
	s.rules = snap.rules
	s.audit = snap.audit
	s.requests = snap.requests
	s.terms = snap.terms
}

// InTransaction runs fn and restores the previous state when it fails.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// InReadSnapshot serialises fn against writers' transactions.
func (s *Store) InReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// failure consumes FailNext. Callers must hold s.mu.
func (s *Store) failure() error {
	if s.FailNext == nil {
		return nil
	}
	err := s.FailNext
	s.FailNext = nil
	return apperrors.Store(err, "memory store write failed")
}

// ── seeding ──────────────────────────────────────────────────────────────────

// AddTeam registers a team under an organisation.
func (s *Store) AddTeam(teamID, organisationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[teamID] = organisationID
}

// AssignRole gives a user a named role within an organisation.
func (s *Store) AssignRole(userID, organisationID, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.roles[organisationID]
	if !ok {
		users = make(map[string][]string)
		s.roles[organisationID] = users
	}
	if !slices.Contains(users[userID], roleName) {
		users[userID] = append(users[userID], roleName)
	}
}

// RevokeRole removes a named role.
func (s *Store) RevokeRole(userID, organisationID, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if users, ok := s.roles[organisationID]; ok {
		users[userID] = slices.DeleteFunc(users[userID], func(n string) bool { return n == roleName })
	}
}

// AddMembership puts a user on a team. The team must already be registered.
func (s *Store) AddMembership(userID, teamID string, level repository.AccessLevel, roleInTeam string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = slices.DeleteFunc(s.memberships, func(m repository.TeamMembership) bool {
		return m.UserID == userID && m.TeamID == teamID
	})
	s.memberships = append(s.memberships, repository.TeamMembership{
		UserID:         userID,
		TeamID:         teamID,
		OrganisationID: s.teams[teamID],
		AccessLevel:    level,
		RoleInTeam:     roleInTeam,
	})
}

// RemoveMembership takes a user off a team.
func (s *Store) RemoveMembership(userID, teamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = slices.DeleteFunc(s.memberships, func(m repository.TeamMembership) bool {
		return m.UserID == userID && m.TeamID == teamID
	})
}

// SetTerm stores one organisation naming override.
func (s *Store) SetTerm(organisationID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[organisationID]
	if !ok {
		t = make(map[string]string)
		s.terms[organisationID] = t
	}
	t[key] = value
}

// ── repository views ─────────────────────────────────────────────────────────

func (s *Store) Roles() *RoleStore { return &RoleStore{s} }
func (s *Store) Teams() *TeamStore { return &TeamStore{s} }
func (s *Store) Contracts() *ContractStore { return &ContractStore{s} }
func (s *Store) Rules() *RuleStore { return &RuleStore{s} }
func (s *Store) AuditLogs() *AuditLogStore { return &AuditLogStore{s} }
func (s *Store) Requests() *RequestStore { return &RequestStore{s} }
func (s *Store) Terms() *TermStore { return &TermStore{s} }

// Stores returns every view bundled for wiring.
func (s *Store) Stores() repository.Stores {
	return repository.Stores{
		Tx:        s,
		Roles:     s.Roles(),
		Teams:     s.Teams(),
		Contracts: s.Contracts(),
		Rules:     s.Rules(),
		AuditLogs: s.AuditLogs(),
		Requests:  s.Requests(),
		Terms:     s.Terms(),
	}
}

// ── roles and teams ──────────────────────────────────────────────────────────

type RoleStore struct{ s *Store }

func (r *RoleStore) RoleNamesForUser(_ context.Context, userID, organisationID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	names := slices.Clone(r.s.roles[organisationID][userID])
	slices.Sort(names)
	return names, nil
}

func (r *RoleStore) UserIDsWithRole(_ context.Context, organisationID, roleName string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []string
	for userID, names := range r.s.roles[organisationID] {
		if slices.Contains(names, roleName) {
			out = append(out, userID)
		}
	}
	slices.Sort(out)
	return out, nil
}

type TeamStore struct{ s *Store }

func (t *TeamStore) MembershipsForUser(_ context.Context, userID, organisationID string) ([]repository.TeamMembership, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []repository.TeamMembership
	for _, m := range t.s.memberships {
		if m.UserID == userID && t.s.teams[m.TeamID] == organisationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *TeamStore) MembersWithTeamRole(_ context.Context, organisationID string, teamIDs []string, roleInTeam string) ([]string, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []string
	for _, m := range t.s.memberships {
		if t.s.teams[m.TeamID] != organisationID || m.RoleInTeam != roleInTeam {
			continue
		}
		if slices.Contains(teamIDs, m.TeamID) && !slices.Contains(out, m.UserID) {
			out = append(out, m.UserID)
		}
	}
	slices.Sort(out)
	return out, nil
}

type TermStore struct{ s *Store }

func (t *TermStore) TermsForOrganisation(_ context.Context, organisationID string) (map[string]string, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[string]string, len(t.s.terms[organisationID]))
	for k, v := range t.s.terms[organisationID] {
		out[k] = v
	}
	return out, nil
}

// ── contracts ────────────────────────────────────────────────────────────────

type ContractStore struct{ s *Store }

func (c *ContractStore) GetForOrganisation(_ context.Context, id, organisationID string) (*repository.Contract, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	ct, ok := c.s.contracts[id]
	if !ok || ct.OrganisationID != organisationID {
		return nil, apperrors.NotFound("contract", id)
	}
	return cloneContract(ct), nil
}

func (c *ContractStore) List(_ context.Context, organisationID string, filter repository.ContractFilter) ([]*repository.Contract, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	out := make([]*repository.Contract, 0)
	for _, ct := range c.s.contracts {
		if ct.OrganisationID != organisationID {
			continue
		}
		visible := filter.AllTeams ||
			(ct.TeamID == nil && filter.IncludeUnassigned) ||
			(ct.TeamID != nil && slices.Contains(filter.TeamIDs, *ct.TeamID))
		if visible {
			out = append(out, cloneContract(ct))
		}
	}
	slices.SortFunc(out, func(a, b *repository.Contract) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (c *ContractStore) Create(_ context.Context, ct *repository.Contract) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.failure(); err != nil {
		return err
	}
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	if _, exists := c.s.contracts[ct.ID]; exists {
		return apperrors.Conflict("contract already exists")
	}
	now := time.Now().UTC()
	ct.CreatedAt, ct.UpdatedAt = now, now
	c.s.contracts[ct.ID] = cloneContract(ct)
	return nil
}

func (c *ContractStore) Update(_ context.Context, ct *repository.Contract) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.failure(); err != nil {
		return err
	}
	existing, ok := c.s.contracts[ct.ID]
	if !ok || existing.OrganisationID != ct.OrganisationID {
		return apperrors.NotFound("contract", ct.ID)
	}
	ct.CreatedAt = existing.CreatedAt
	ct.UpdatedAt = time.Now().UTC()
	c.s.contracts[ct.ID] = cloneContract(ct)
	return nil
}

func (c *ContractStore) Delete(_ context.Context, id, organisationID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.failure(); err != nil {
		return err
	}
	existing, ok := c.s.contracts[id]
	if !ok || existing.OrganisationID != organisationID {
		return apperrors.NotFound("contract", id)
	}
	delete(c.s.contracts, id)
	return nil
}

// ── approval rules ───────────────────────────────────────────────────────────

type RuleStore struct{ s *Store }

func (r *RuleStore) ListMatching(_ context.Context, organisationID, entityType string, action repository.Action, fieldName *string) ([]*repository.ApprovalRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*repository.ApprovalRule
	for _, rule := range r.s.rules {
		if rule.OrganisationID != organisationID || rule.EntityType != entityType ||
			rule.Action != action || !rule.IsActive {
			continue
		}
		if rule.FieldName != nil && !sameOptional(rule.FieldName, fieldName) {
			continue
		}
		out = append(out, cloneRule(rule))
	}
	return out, nil
}

func (r *RuleStore) List(_ context.Context, organisationID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*repository.ApprovalRule
	for _, rule := range r.s.rules {
		if rule.OrganisationID == organisationID && (!activeOnly || rule.IsActive) {
			out = append(out, cloneRule(rule))
		}
	}
	return out, nil
}

func (r *RuleStore) GetByID(_ context.Context, id, organisationID string) (*repository.ApprovalRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, rule := range r.s.rules {
		if rule.ID == id && rule.OrganisationID == organisationID {
			return cloneRule(rule), nil
		}
	}
	return nil, apperrors.NotFound("approval_rule", id)
}

func (r *RuleStore) Create(_ context.Context, rule *repository.ApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	r.s.rules = append(r.s.rules, cloneRule(rule))
	return nil
}

func (r *RuleStore) Deactivate(_ context.Context, id, organisationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rule := range r.s.rules {
		if rule.ID == id && rule.OrganisationID == organisationID {
			rule.IsActive = false
			rule.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperrors.NotFound("approval_rule", id)
}

// ── audit log ────────────────────────────────────────────────────────────────

type AuditLogStore struct{ s *Store }

func (a *AuditLogStore) Create(_ context.Context, entry *repository.AuditLogEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.failure(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	a.s.audit = append(a.s.audit, cloneEntry(entry))
	return nil
}

func (a *AuditLogStore) GetByID(_ context.Context, id string) (*repository.AuditLogEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	for _, e := range a.s.audit {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return nil, apperrors.NotFound("audit_log", id)
}

// GetForUpdate relies on the transaction mutex for exclusion.
func (a *AuditLogStore) GetForUpdate(ctx context.Context, id string) (*repository.AuditLogEntry, error) {
	return a.GetByID(ctx, id)
}

func (a *AuditLogStore) SetApprovalStatus(_ context.Context, id string, status repository.ApprovalStatus, required bool) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.failure(); err != nil {
		return err
	}
	for _, e := range a.s.audit {
		if e.ID == id {
			e.ApprovalStatus = status
			e.ApprovalRequired = required
			if status == repository.ApprovalApproved || status == repository.ApprovalRejected {
				now := time.Now().UTC()
				e.ResolvedAt = &now
			}
			return nil
		}
	}
	return apperrors.NotFound("audit_log", id)
}

func (a *AuditLogStore) ListForEntity(_ context.Context, organisationID, entityType, entityID string) ([]*repository.AuditLogEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []*repository.AuditLogEntry
	for _, e := range a.s.audit {
		if e.OrganisationID == organisationID && e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// ── approval requests ────────────────────────────────────────────────────────

type RequestStore struct{ s *Store }

func (r *RequestStore) Create(_ context.Context, req *repository.ApprovalRequest) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure(); err != nil {
		return false, err
	}
	for _, existing := range r.s.requests {
		if existing.AuditLogID == req.AuditLogID && existing.ApprovalRuleID == req.ApprovalRuleID {
			return false, nil
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()
	r.s.requests = append(r.s.requests, cloneRequest(req))
	return true, nil
}

func (r *RequestStore) GetByID(_ context.Context, id string) (*repository.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, req := range r.s.requests {
		if req.ID == id {
			return cloneRequest(req), nil
		}
	}
	return nil, apperrors.NotFound("approval_request", id)
}

func (r *RequestStore) ListByAuditLog(_ context.Context, auditLogID string) ([]*repository.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*repository.ApprovalRequest
	for _, req := range r.s.requests {
		if req.AuditLogID == auditLogID {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *RequestStore) Resolve(_ context.Context, id string, to repository.RequestStatus, resolvedBy string, notes *string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure(); err != nil {
		return false, err
	}
	for _, req := range r.s.requests {
		if req.ID != id {
			continue
		}
		if !req.IsOpen(now) {
			return false, nil
		}
		req.Status = to
		req.ResolvedBy = &resolvedBy
		req.ResolvedAt = &now
		req.Notes = notes
		return true, nil
	}
	return false, nil
}

func (r *RequestStore) CountOpenForEntity(_ context.Context, organisationID, entityType, entityID string, action repository.Action, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, req := range r.s.requests {
		if !req.IsOpen(now) {
			continue
		}
		e := r.s.entryLocked(req.AuditLogID)
		if e != nil && e.OrganisationID == organisationID && e.EntityType == entityType &&
			e.EntityID == entityID && e.Action == action {
			n++
		}
	}
	return n, nil
}

func (r *RequestStore) ListOpenForOrganisation(_ context.Context, organisationID string, now time.Time) ([]repository.PendingApproval, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []repository.PendingApproval
	for _, req := range r.s.requests {
		if !req.IsOpen(now) {
			continue
		}
		e := r.s.entryLocked(req.AuditLogID)
		if e == nil || e.OrganisationID != organisationID {
			continue
		}
		out = append(out, repository.PendingApproval{Request: cloneRequest(req), Entry: cloneEntry(e)})
	}
	slices.SortStableFunc(out, func(a, b repository.PendingApproval) int {
		return a.Request.ExpiresAt.Compare(b.Request.ExpiresAt)
	})
	return out, nil
}

func (r *RequestStore) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure(); err != nil {
		return nil, err
	}
	var ids []string
	for _, req := range r.s.requests {
		if req.Status == repository.RequestPending && !now.Before(req.ExpiresAt) {
			req.Status = repository.RequestExpired
			t := now
			req.ResolvedAt = &t
			if !slices.Contains(ids, req.AuditLogID) {
				ids = append(ids, req.AuditLogID)
			}
		}
	}
	return ids, nil
}

func (s *Store) entryLocked(id string) *repository.AuditLogEntry {
	for _, e := range s.audit {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// ── copy helpers ─────────────────────────────────────────────────────────────

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneContract(c *repository.Contract) *repository.Contract {
	out := *c
	out.TeamID = cloneString(c.TeamID)
	return &out
}

func cloneRule(r *repository.ApprovalRule) *repository.ApprovalRule {
	out := *r
	out.FieldName = cloneString(r.FieldName)
	out.RequiredRoleID = cloneString(r.RequiredRoleID)
	out.RequiredRoleName = cloneString(r.RequiredRoleName)
	return &out
}

func cloneEntry(e *repository.AuditLogEntry) *repository.AuditLogEntry {
	out := *e
	out.FieldName = cloneString(e.FieldName)
	out.Before = slices.Clone(e.Before)
	out.After = slices.Clone(e.After)
	out.ResolvedAt = cloneTime(e.ResolvedAt)
	if e.Metadata != nil {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			out.Metadata = nil
			_ = json.Unmarshal(raw, &out.Metadata)
		}
	}
	return &out
}

func cloneRequest(r *repository.ApprovalRequest) *repository.ApprovalRequest {
	out := *r
	out.ApproverID = cloneString(r.ApproverID)
	out.ApproverRoleID = cloneString(r.ApproverRoleID)
	out.ApproverRoleName = cloneString(r.ApproverRoleName)
	out.ResolvedBy = cloneString(r.ResolvedBy)
	out.ResolvedAt = cloneTime(r.ResolvedAt)
	out.Notes = cloneString(r.Notes)
	return &out
}

var (
	_ repository.Transactor           = (*Store)(nil)
	_ repository.RoleStore            = (*RoleStore)(nil)
	_ repository.TeamStore            = (*TeamStore)(nil)
	_ repository.ContractStore        = (*ContractStore)(nil)
	_ repository.ApprovalRuleStore    = (*RuleStore)(nil)
	_ repository.AuditLogStore        = (*AuditLogStore)(nil)
	_ repository.ApprovalRequestStore = (*RequestStore)(nil)
	_ repository.TermStore            = (*TermStore)(nil)
)
