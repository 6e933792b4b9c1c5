package repository

import (
	"context"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// TermsRepository reads organisation_terms.
type TermsRepository struct {
	db *database.DB
}

// NewTermsRepository creates a new TermsRepository.
func NewTermsRepository(db *database.DB) *TermsRepository {
	return &TermsRepository{db: db}
}

// TermsForOrganisation returns the organisation's naming overrides keyed by term.
func (r *TermsRepository) TermsForOrganisation(ctx context.Context, organisationID string) (map[string]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT term_key, term_value FROM organisation_terms WHERE organisation_id = $1`,
		organisationID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to load organisation terms")
	}
	defer rows.Close()

	terms := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperrors.Store(err, "failed to scan organisation term")
		}
		terms[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate organisation terms")
	}
	return terms, nil
}
