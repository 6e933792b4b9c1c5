package rbac

import (
	"strings"

	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// TeamLabel is a recognised role_in_team value. Free-text labels that carry
// no capability map to LabelOther.
type TeamLabel int

const (
	LabelOther TeamLabel = iota
	LabelManager
	LabelAdmin
	LabelFinance
	LabelSeniorManager
)

var teamLabels = map[string]TeamLabel{
	"manager":        LabelManager,
	"admin":          LabelAdmin,
	"finance":        LabelFinance,
	"senior_manager": LabelSeniorManager,
}

// ParseTeamLabel maps a stored role_in_team value to its label.
func ParseTeamLabel(s string) TeamLabel {
	if l, ok := teamLabels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return LabelOther
}

func (l TeamLabel) String() string {
	switch l {
	case LabelManager:
		return "manager"
	case LabelAdmin:
		return "admin"
	case LabelFinance:
		return "finance"
	case LabelSeniorManager:
		return "senior_manager"
	}
	return "other"
}

// Capabilities are the permissions a single membership confers.
type Capabilities struct {
	// OrganisationVisibility lets the member see every contract in the organisation.
	OrganisationVisibility bool
	// ManageContracts lets the member create, edit and delete contracts.
	ManageContracts bool
}

func (l TeamLabel) capabilities() Capabilities {
	switch l {
	case LabelFinance, LabelSeniorManager:
		return Capabilities{OrganisationVisibility: true, ManageContracts: true}
	case LabelManager, LabelAdmin:
		return Capabilities{ManageContracts: true}
	}
	return Capabilities{}
}

// CapabilitiesOf combines the access level and the legacy label of a membership.
func CapabilitiesOf(m repository.TeamMembership) Capabilities {
	c := ParseTeamLabel(m.RoleInTeam).capabilities()
	switch m.AccessLevel {
	case repository.AccessLevelOrganisation:
		c.OrganisationVisibility = true
		c.ManageContracts = true
	case repository.AccessLevelTeam:
		c.ManageContracts = true
	}
	return c
}
