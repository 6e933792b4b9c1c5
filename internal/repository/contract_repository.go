package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-contracts-access/internal/database"
	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
)

// ContractRepository handles contracts. Every statement carries the
// organisation id, so a lookup can never cross a tenant boundary.
type ContractRepository struct {
	db *database.DB
}

// NewContractRepository creates a new ContractRepository.
func NewContractRepository(db *database.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

const contractColumns = `
	id::text, organisation_id::text, team_id::text, title, supplier,
	total_amount, currency, status, created_at, updated_at`

// GetForOrganisation returns the contract only if it belongs to organisationID.
func (r *ContractRepository) GetForOrganisation(ctx context.Context, id, organisationID string) (*Contract, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("contract", id)
	}

	query := `SELECT ` + contractColumns + `
		FROM contracts
		WHERE id = $1 AND organisation_id = $2
	`

	c, err := scanContract(r.db.QueryRow(ctx, query, id, organisationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("contract", id)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get contract")
	}
	return c, nil
}

// List returns the organisation's contracts visible under filter.
func (r *ContractRepository) List(ctx context.Context, organisationID string, filter ContractFilter) ([]*Contract, error) {
	query := `SELECT ` + contractColumns + `
		FROM contracts
		WHERE organisation_id = $1
	`
	args := []any{organisationID}

	if !filter.AllTeams {
		var conds []string
		if len(filter.TeamIDs) > 0 {
			args = append(args, filter.TeamIDs)
			conds = append(conds, fmt.Sprintf("team_id::text = ANY($%d)", len(args)))
		}
		if filter.IncludeUnassigned {
			conds = append(conds, "team_id IS NULL")
		}
		if len(conds) == 0 {
			return []*Contract{}, nil
		}
		query += " AND (" + strings.Join(conds, " OR ") + ")"
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list contracts")
	}
	defer rows.Close()

	contracts := make([]*Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan contract")
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate contracts")
	}
	return contracts, nil
}

// Create inserts a contract. The id is kept when already set so that a held
// create can reuse the id it was audited under.
func (r *ContractRepository) Create(ctx context.Context, c *Contract) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := `
		INSERT INTO contracts
		    (id, organisation_id, team_id, title, supplier,
		     total_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.ID,
		c.OrganisationID,
		c.TeamID,
		c.Title,
		c.Supplier,
		c.TotalAmount,
		c.Currency,
		c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return apperrors.Store(err, "failed to create contract")
}

// Update persists every mutable column.
func (r *ContractRepository) Update(ctx context.Context, c *Contract) error {
	query := `
		UPDATE contracts
		SET team_id      = $3,
		    title        = $4,
		    supplier     = $5,
		    total_amount = $6,
		    currency     = $7,
		    status       = $8,
		    updated_at   = NOW()
		WHERE id = $1 AND organisation_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.ID,
		c.OrganisationID,
		c.TeamID,
		c.Title,
		c.Supplier,
		c.TotalAmount,
		c.Currency,
		c.Status,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("contract", c.ID)
	}
	return apperrors.Store(err, "failed to update contract")
}

// Delete removes a contract.
func (r *ContractRepository) Delete(ctx context.Context, id, organisationID string) error {
	if !validID(id) {
		return apperrors.NotFound("contract", id)
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM contracts WHERE id = $1 AND organisation_id = $2`,
		id, organisationID)
	if err != nil {
		return apperrors.Store(err, "failed to delete contract")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("contract", id)
	}
	return nil
}

func scanContract(sc rowScanner) (*Contract, error) {
	c := &Contract{}
	err := sc.Scan(
		&c.ID,
		&c.OrganisationID,
		&c.TeamID,
		&c.Title,
		&c.Supplier,
		&c.TotalAmount,
		&c.Currency,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
