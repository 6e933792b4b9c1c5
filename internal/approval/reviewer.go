package approval

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/identity"
	"github.com/pesio-ai/be-contracts-access/internal/notify"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// Resolution is the state after a reviewer acted.
type Resolution struct {
	Request     *repository.ApprovalRequest `json:"request"`
	EntryStatus repository.ApprovalStatus   `json:"entry_status"`
	// Applied is set when this decision released the held mutation.
	Applied bool `json:"applied"`
}

// Approve signs off one request. When it was the last open request for its
// audit entry the held mutation is applied in the same transaction.
func (e *Engine) Approve(ctx context.Context, requestID string, notes *string) (*Resolution, error) {
	return e.resolve(ctx, requestID, repository.RequestApproved, notes)
}

// Reject refuses one request, which discards the held mutation.
func (e *Engine) Reject(ctx context.Context, requestID, reason string) (*Resolution, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.InvalidInput("reason", "rejection reason is required")
	}
	return e.resolve(ctx, requestID, repository.RequestRejected, &reason)
}

func (e *Engine) resolve(ctx context.Context, requestID string, to repository.RequestStatus, notes *string) (*Resolution, error) {
	caller := identity.FromContext(ctx)
	if !caller.IsAuthenticated() {
		return nil, apperrors.AuthenticationRequired()
	}

	var (
		res   *Resolution
		entry *repository.AuditLogEntry
	)
	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		req, err := e.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		// Lock the entry first so concurrent decisions on sibling requests
		// are aggregated one after the other.
		entry, err = e.entries.GetForUpdate(ctx, req.AuditLogID)
		if err != nil {
			return err
		}
		if entry.OrganisationID != caller.OrganisationID {
			return apperrors.NotFound("approval_request", requestID)
		}

		roles, err := e.roles.RoleNamesForUser(ctx, caller.UserID, caller.OrganisationID)
		if err != nil {
			return err
		}
		if !canAct(caller.UserID, roles, req) {
			e.log.Warn().
				Str("user_id", caller.UserID).
				Str("approval_request_id", requestID).
				Msg("reviewer not eligible for approval request")
			return apperrors.AccessDenied("you are not an approver for this request")
		}
		if entry.ApprovalStatus != repository.ApprovalPending {
			return apperrors.Conflict("the change has already been " + string(entry.ApprovalStatus))
		}

		now := e.now()
		ok, err := e.requests.Resolve(ctx, requestID, to, caller.UserID, notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("approval request is no longer pending")
		}

		siblings, err := e.requests.ListByAuditLog(ctx, entry.ID)
		if err != nil {
			return err
		}
		status := aggregate(siblings, now)

		res = &Resolution{EntryStatus: status}
		res.Request, _ = lo.Find(siblings, func(r *repository.ApprovalRequest) bool { return r.ID == requestID })

		if status == repository.ApprovalPending {
			return nil
		}
		if err := e.ledger.SetApprovalStatus(ctx, entry.ID, status, true); err != nil {
			return err
		}
		if status == repository.ApprovalApproved {
			if a, ok := e.appliers[entry.EntityType]; ok {
				if err := a.ApplyApproved(ctx, entry); err != nil {
					return err
				}
				res.Applied = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("approval_request_id", requestID).
		Str("audit_log_id", entry.ID).
		Str("decision", string(to)).
		Str("entry_status", string(res.EntryStatus)).
		Str("resolved_by", caller.UserID).
		Msg("approval request resolved")

	if res.EntryStatus != repository.ApprovalPending {
		e.notifyResolved(ctx, entry, res.EntryStatus, caller.UserID)
	}
	return res, nil
}

// aggregate derives the entry status from all of its requests. Any refusal
// or lapse rejects the change; only unanimous approval releases it.
func aggregate(reqs []*repository.ApprovalRequest, now time.Time) repository.ApprovalStatus {
	approved := 0
	for _, r := range reqs {
		switch {
		case r.Status == repository.RequestRejected, r.Status == repository.RequestExpired:
			return repository.ApprovalRejected
		case r.Status == repository.RequestPending && !r.IsOpen(now):
			return repository.ApprovalRejected
		case r.Status == repository.RequestApproved:
			approved++
		}
	}
	if approved == len(reqs) && approved > 0 {
		return repository.ApprovalApproved
	}
	return repository.ApprovalPending
}

// canAct reports whether a user holding roles may resolve req.
func canAct(userID string, roles []string, req *repository.ApprovalRequest) bool {
	if req.ApproverID != nil && *req.ApproverID == userID {
		return true
	}
	if req.ApproverRoleName != nil && *req.ApproverRoleName != "" && lo.Contains(roles, *req.ApproverRoleName) {
		return true
	}
	if req.Unassigned() {
		return lo.Contains(roles, repository.RoleSuperAdmin) || lo.Contains(roles, repository.RoleOrganisationAdmin)
	}
	return false
}

// ListPendingForReviewer returns the open requests the caller can resolve.
func (e *Engine) ListPendingForReviewer(ctx context.Context) ([]repository.PendingApproval, error) {
	caller := identity.FromContext(ctx)
	if !caller.IsAuthenticated() {
		return nil, apperrors.AuthenticationRequired()
	}

	var out []repository.PendingApproval
	err := e.tx.InReadSnapshot(ctx, func(ctx context.Context) error {
		roles, err := e.roles.RoleNamesForUser(ctx, caller.UserID, caller.OrganisationID)
		if err != nil {
			return err
		}
		open, err := e.requests.ListOpenForOrganisation(ctx, caller.OrganisationID, e.now())
		if err != nil {
			return err
		}
		out = lo.Filter(open, func(p repository.PendingApproval, _ int) bool {
			return canAct(caller.UserID, roles, p.Request)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireOverdue marks lapsed requests expired and rejects the changes they
// were holding. It is run by the expiry sweep, not per request.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	now := e.now()
	var rejected []*repository.AuditLogEntry

	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		ids, err := e.requests.ExpireOverdue(ctx, now)
		if err != nil {
			return err
		}
		for _, id := range ids {
			entry, err := e.entries.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if entry.ApprovalStatus != repository.ApprovalPending {
				continue
			}
			if err := e.ledger.SetApprovalStatus(ctx, id, repository.ApprovalRejected, true); err != nil {
				return err
			}
			rejected = append(rejected, entry)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, entry := range rejected {
		e.notifyResolved(ctx, entry, repository.ApprovalRejected, "")
	}
	e.log.Info().Int("entries_rejected", len(rejected)).Msg("expired overdue approval requests")
	return len(rejected), nil
}

func (e *Engine) notifyResolved(ctx context.Context, entry *repository.AuditLogEntry, status repository.ApprovalStatus, resolvedBy string) {
	eventType := notify.EventApprovalApproved
	if status == repository.ApprovalRejected {
		eventType = notify.EventApprovalRejected
	}
	e.publisher.Publish(ctx, notify.Event{
		EventType:      eventType,
		OrganisationID: entry.OrganisationID,
		ActorID:        resolvedBy,
		Recipients:     []string{entry.ActorID},
		ResourceType:   entry.EntityType,
		ResourceID:     entry.EntityID,
		Payload: map[string]any{
			"audit_log_id": entry.ID,
			"action":       entry.Action,
			"status":       status,
		},
	})
}
