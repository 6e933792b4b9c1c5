package rbac

import (
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// Outcome is the result of a require* check.
type Outcome int

const (
	Authorized Outcome = iota
	Unauthenticated
	Denied
	// SuperAdminRedirect sends a superadmin without organisation-admin rights
	// to the superadmin landing surface instead of a generic denial.
	SuperAdminRedirect
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case Unauthenticated:
		return "unauthenticated"
	case Denied:
		return "denied"
	case SuperAdminRedirect:
		return "superadmin_redirect"
	}
	return "unknown"
}

// Decision is returned to the boundary, which chooses how to render it.
type Decision struct {
	Outcome Outcome
	Reason  string
}

func allow() Decision { return Decision{Outcome: Authorized} }

func unauthenticated() Decision {
	return Decision{Outcome: Unauthenticated, Reason: "authentication required"}
}

func deny(reason string) Decision { return Decision{Outcome: Denied, Reason: reason} }

func redirectSuperAdmin(reason string) Decision {
	return Decision{Outcome: SuperAdminRedirect, Reason: reason}
}

// Allowed reports whether the request may continue.
func (d Decision) Allowed() bool { return d.Outcome == Authorized }

// Err converts a refusal into a coded error for layers that return errors.
func (d Decision) Err() error {
	switch d.Outcome {
	case Authorized:
		return nil
	case Unauthenticated:
		return apperrors.AuthenticationRequired()
	}
	return apperrors.AccessDenied(d.Reason)
}
