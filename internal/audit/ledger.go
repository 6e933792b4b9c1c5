// Package audit records every mutation attempt. Entries are written before
// the approval decision is made and are never deleted.
package audit

import (
	"context"
	"encoding/json"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// Mutation describes one attempted change.
type Mutation struct {
	OrganisationID string
	EntityType     string
	EntityID       string
	ActorID        string
	FieldName      *string
	Before         any
	After          any
	Metadata       map[string]any
}

// Ledger writes audit entries.
type Ledger struct {
	entries repository.AuditLogStore
}

// NewLedger creates a new Ledger.
func NewLedger(entries repository.AuditLogStore) *Ledger {
	return &Ledger{entries: entries}
}

// RecordCreate records an attempted create and returns the entry id.
func (l *Ledger) RecordCreate(ctx context.Context, m Mutation) (string, error) {
	m.Before = nil
	return l.record(ctx, repository.ActionCreate, m)
}

// RecordUpdate records an attempted update and returns the entry id.
func (l *Ledger) RecordUpdate(ctx context.Context, m Mutation) (string, error) {
	return l.record(ctx, repository.ActionUpdate, m)
}

// RecordDelete records an attempted delete and returns the entry id.
func (l *Ledger) RecordDelete(ctx context.Context, m Mutation) (string, error) {
	m.After = nil
	return l.record(ctx, repository.ActionDelete, m)
}

// SetApprovalStatus records the workflow decision for an entry.
func (l *Ledger) SetApprovalStatus(ctx context.Context, id string, status repository.ApprovalStatus, required bool) error {
	return l.entries.SetApprovalStatus(ctx, id, status, required)
}

// record writes the entry as pending. It only leaves that state once the
// workflow has reached a decision, so a failure part-way through never reads
// as "no approval needed".
func (l *Ledger) record(ctx context.Context, action repository.Action, m Mutation) (string, error) {
	if m.OrganisationID == "" {
		return "", apperrors.InvalidInput("organisation_id", "organisation is required")
	}
	if m.EntityType == "" || m.EntityID == "" {
		return "", apperrors.InvalidInput("entity", "entity type and id are required")
	}

	before, err := encode(m.Before)
	if err != nil {
		return "", err
	}
	after, err := encode(m.After)
	if err != nil {
		return "", err
	}

	entry := &repository.AuditLogEntry{
		OrganisationID:   m.OrganisationID,
		EntityType:       m.EntityType,
		EntityID:         m.EntityID,
		Action:           action,
		FieldName:        m.FieldName,
		ActorID:          m.ActorID,
		Before:           before,
		After:            after,
		Metadata:         m.Metadata,
		ApprovalRequired: true,
		ApprovalStatus:   repository.ApprovalPending,
	}
	if err := l.entries.Create(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func encode(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "payload is not serialisable")
	}
	return raw, nil
}
