package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

// groupExpression maps a rollup dimension to its SQL group key. Hour
// and day buckets are rendered as stable text keys so callers can use
// them directly as map keys.
func groupExpression(groupBy string) (string, error) {
	switch groupBy {
	case model.GroupByCategory:
		return "category", nil
	case model.GroupByHour:
		return `to_char(date_trunc('hour', created_at), 'YYYY-MM-DD"T"HH24:00')`, nil
	case model.GroupByDay:
		return `to_char(date_trunc('day', created_at), 'YYYY-MM-DD')`, nil
	default:
		return "", fmt.Errorf("unknown rollup dimension %q", groupBy)
	}
}

// RollupIntents aggregates count and total amount per group key over
// the given window, including only intents whose status is in the
// caller's inclusion set. Computed directly from ledger state on every
// call; there is no separately maintained aggregate that could drift.
func (d Datasource) RollupIntents(ctx context.Context, from, to time.Time, groupBy string, statuses []string) (map[string]model.RollupBucket, error) {
	expr, err := groupExpression(groupBy)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+expr+` AS grp, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payment_intents
		WHERE status = ANY($1) AND created_at >= $2 AND created_at < $3
		GROUP BY grp
	`, pq.Array(statuses), from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute rollup", err)
	}
	defer rows.Close()

	buckets := make(map[string]model.RollupBucket)
	for rows.Next() {
		var key string
		var bucket model.RollupBucket
		if err := rows.Scan(&key, &bucket.Count, &bucket.TotalAmount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan rollup bucket", err)
		}
		buckets[key] = bucket
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over rollup buckets", err)
	}
	return buckets, nil
}

// TopCounterparties ranks recipients by total amount over the window,
// ties broken by counterparty id ascending for a deterministic order.
func (d Datasource) TopCounterparties(ctx context.Context, from, to time.Time, statuses []string, limit int) ([]model.CounterpartyTotal, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT recipient, COUNT(*), COALESCE(SUM(amount), 0) AS total
		FROM payment_intents
		WHERE status = ANY($1) AND created_at >= $2 AND created_at < $3
		GROUP BY recipient
		ORDER BY total DESC, recipient ASC
		LIMIT $4
	`, pq.Array(statuses), from, to, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute top counterparties", err)
	}
	defer rows.Close()

	var totals []model.CounterpartyTotal
	for rows.Next() {
		var t model.CounterpartyTotal
		if err := rows.Scan(&t.Counterparty, &t.Count, &t.TotalAmount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan counterparty total", err)
		}
		totals = append(totals, t)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over counterparty totals", err)
	}
	return totals, nil
}

// SuspiciousIntents returns intents at or above the amount threshold,
// largest first.
func (d Datasource) SuspiciousIntents(ctx context.Context, threshold decimal.Decimal, statuses []string, limit int) ([]model.PaymentIntent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = ANY($1) AND amount >= $2
		ORDER BY amount DESC, intent_id ASC
		LIMIT $3
	`, pq.Array(statuses), threshold, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve suspicious intents", err)
	}
	defer rows.Close()

	var intents []model.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan intent data", err)
		}
		intents = append(intents, *intent)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over intents", err)
	}
	return intents, nil
}
