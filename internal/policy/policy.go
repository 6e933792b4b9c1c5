// Package policy gates administrative surfaces with a casbin role policy.
// Contract visibility is decided by rbac, not here.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

const (
	ObjectApprovalRules = "approval_rules"
	ObjectOrganisation  = "organisation"

	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

//go:embed model.conf
var defaultModel string

//go:embed policy.csv
var defaultPolicy string

// ParseMode validates a configured mode. Disabling requires an explicit opt-in.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("policy: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	}
	return "", fmt.Errorf("policy: invalid AUTHZ_MODE %q (expected enforce|shadow|disabled)", raw)
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

// NewAuthorizer loads the model and policy from files, falling back to the
// embedded defaults for whichever path is empty.
func NewAuthorizer(modelPath, policyPath string, mode Mode) (*Authorizer, error) {
	var (
		m   model.Model
		err error
	)
	if modelPath != "" {
		m, err = model.NewModelFromFile(modelPath)
	} else {
		m, err = model.NewModelFromString(defaultModel)
	}
	if err != nil {
		return nil, fmt.Errorf("policy: load model: %w", err)
	}

	var enforcer *casbin.Enforcer
	if policyPath != "" {
		enforcer, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	}
	if err != nil {
		return nil, fmt.Errorf("policy: load policy: %w", err)
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

func (a *Authorizer) Mode() Mode { return a.mode }

// SubjectFromRole maps a role name to a casbin subject.
func SubjectFromRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

// Authorize reports whether any of roles may perform action on object.
// enforced is false when the decision must not block the request.
func (a *Authorizer) Authorize(roles []string, object, action string) (allowed bool, enforced bool, err error) {
	if a.mode == ModeDisabled {
		return true, false, nil
	}
	if len(roles) == 0 {
		roles = []string{""}
	}
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(SubjectFromRole(role), object, action)
		if err != nil {
			return false, a.mode == ModeEnforce, err
		}
		if ok {
			allowed = true
			break
		}
	}
	switch a.mode {
	case ModeShadow:
		return allowed, false, nil
	case ModeEnforce:
		return allowed, true, nil
	}
	return false, false, errors.New("policy: unknown mode")
}
