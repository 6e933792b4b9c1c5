// Package terms serves per-organisation naming preferences ("contract" may be
// called "agreement", and so on). Values are cached; they are display
// settings only and are never consulted for access decisions.
package terms

import (
	"context"
	"maps"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/pesio-ai/be-contracts-access/internal/repository"
)

// Defaults are used for any key an organisation has not overridden.
var Defaults = map[string]string{
	"contract":     "Contract",
	"contracts":    "Contracts",
	"supplier":     "Supplier",
	"team":         "Team",
	"teams":        "Teams",
	"approval":     "Approval",
	"approvals":    "Approvals",
	"organisation": "Organisation",
	"total_amount": "Total value",
}

// Service resolves terms with a TTL cache keyed by organisation.
type Service struct {
	store repository.TermStore
	cache *cache.Cache
}

// NewService creates a service whose entries live for ttl.
func NewService(store repository.TermStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{store: store, cache: cache.New(ttl, 2*ttl)}
}

// ForOrganisation returns the defaults overlaid with the organisation's overrides.
func (s *Service) ForOrganisation(ctx context.Context, organisationID string) (map[string]string, error) {
	if v, ok := s.cache.Get(organisationID); ok {
		return maps.Clone(v.(map[string]string)), nil
	}

	overrides, err := s.store.TermsForOrganisation(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(Defaults)
	maps.Copy(merged, overrides)

	s.cache.SetDefault(organisationID, merged)
	return maps.Clone(merged), nil
}

// Invalidate drops an organisation's cached terms.
func (s *Service) Invalidate(organisationID string) {
	s.cache.Delete(organisationID)
}
