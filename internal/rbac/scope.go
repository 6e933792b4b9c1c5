package rbac

import (
	"encoding/json"
	"slices"

	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// TeamScope is the set of teams a caller may see. The all-teams scope and
// an empty scope are different values and must never be conflated.
type TeamScope struct {
	all bool
	ids []string
}

// AllTeams is the unfiltered scope held by administrators.
func AllTeams() TeamScope { return TeamScope{all: true} }

// Teams is a concrete, possibly empty, set of team ids.
func Teams(ids ...string) TeamScope {
	out := slices.Clone(ids)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return TeamScope{ids: slices.Compact(out)}
}

// All reports whether the scope is unfiltered.
func (s TeamScope) All() bool { return s.all }

// IDs returns the team ids, or nil for the all-teams scope.
func (s TeamScope) IDs() []string {
	if s.all {
		return nil
	}
	return slices.Clone(s.ids)
}

// Contains reports whether teamID is visible under the scope.
func (s TeamScope) Contains(teamID string) bool {
	return s.all || slices.Contains(s.ids, teamID)
}

// ContractFilter converts the scope into a listing filter. Contracts with no
// team are visible to everyone in the organisation when listing in bulk.
func (s TeamScope) ContractFilter() repository.ContractFilter {
	return repository.ContractFilter{
		AllTeams:          s.all,
		TeamIDs:           s.IDs(),
		IncludeUnassigned: true,
	}
}

// MarshalJSON renders the all-teams scope as null and a concrete set as an array.
func (s TeamScope) MarshalJSON() ([]byte, error) {
	if s.all {
		return []byte("null"), nil
	}
	return json.Marshal(s.ids)
}
