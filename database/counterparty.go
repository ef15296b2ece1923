package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

// GetCounterparty looks up one directory entry. Absence is a NotFound
// the caller is expected to tolerate: intents for unknown recipients
// simply keep the caller-supplied category.
func (d Datasource) GetCounterparty(ctx context.Context, accountID string) (*model.Counterparty, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, name, category, description
		FROM counterparties
		WHERE account_id = $1
	`, accountID)

	cp := &model.Counterparty{}
	err := row.Scan(&cp.AccountID, &cp.Name, &cp.Category, &cp.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Counterparty '%s' not found", accountID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve counterparty", err)
	}
	return cp, nil
}

// UpsertCounterparty seeds or refreshes a directory entry. Used by the
// seeding CLI, never by the reconciliation core.
func (d Datasource) UpsertCounterparty(ctx context.Context, cp model.Counterparty) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO counterparties (account_id, name, category, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, description = EXCLUDED.description
	`, cp.AccountID, cp.Name, cp.Category, cp.Description)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert counterparty", err)
	}
	return nil
}

func (d Datasource) AllCounterparties(ctx context.Context) ([]model.Counterparty, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_id, name, category, description
		FROM counterparties
		ORDER BY account_id ASC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve counterparties", err)
	}
	defer rows.Close()

	var counterparties []model.Counterparty
	for rows.Next() {
		var cp model.Counterparty
		if err := rows.Scan(&cp.AccountID, &cp.Name, &cp.Category, &cp.Description); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan counterparty", err)
		}
		counterparties = append(counterparties, cp)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over counterparties", err)
	}
	return counterparties, nil
}
