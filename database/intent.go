package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

const intentColumns = `intent_id, sender, recipient, amount, category, description, status, reason, submission_ref, settlement_ref, attempts, created_at, last_attempt_at, settled_at, meta_data`

func intentCacheKey(id string) string {
	return fmt.Sprintf("intent:%s", id)
}

// invalidateIntent drops the cached copy of an intent after a write so
// readers can never observe a stale status through the cache.
func (d Datasource) invalidateIntent(ctx context.Context, id string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, intentCacheKey(id)); err != nil {
		log.Printf("failed to invalidate cached intent %s: %v", id, err)
	}
}

// RecordIntent appends a new payment intent to the ledger. A duplicate
// intent id is rejected with a Conflict error and leaves the ledger
// unchanged.
func (d Datasource) RecordIntent(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, error) {
	metaDataJSON, err := json.Marshal(intent.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO payment_intents(intent_id,sender,recipient,amount,category,description,status,attempts,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		intent.IntentID, intent.Sender, intent.Recipient, intent.Amount, intent.Category, intent.Description, intent.Status, intent.Attempts, intent.CreatedAt, metaDataJSON,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Intent with ID '%s' already exists", intent.IntentID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record intent", err)
	}

	return intent, nil
}

func scanIntent(row interface{ Scan(dest ...interface{}) error }) (*model.PaymentIntent, error) {
	intent := &model.PaymentIntent{}
	var metaDataJSON []byte
	var lastAttemptAt, settledAt sql.NullTime

	err := row.Scan(
		&intent.IntentID,
		&intent.Sender,
		&intent.Recipient,
		&intent.Amount,
		&intent.Category,
		&intent.Description,
		&intent.Status,
		&intent.Reason,
		&intent.SubmissionRef,
		&intent.SettlementRef,
		&intent.Attempts,
		&intent.CreatedAt,
		&lastAttemptAt,
		&settledAt,
		&metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	if lastAttemptAt.Valid {
		intent.LastAttemptAt = &lastAttemptAt.Time
	}
	if settledAt.Valid {
		intent.SettledAt = &settledAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &intent.MetaData); err != nil {
			return nil, err
		}
	}
	return intent, nil
}

func (d Datasource) GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error) {
	if d.Cache != nil {
		cached := &model.PaymentIntent{}
		if err := d.Cache.Get(ctx, intentCacheKey(id), cached); err == nil && cached.IntentID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE intent_id = $1
	`, id)

	intent, err := scanIntent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Intent with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve intent", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, intentCacheKey(id), intent, 5*time.Minute); err != nil {
			log.Printf("failed to cache intent %s: %v", id, err)
		}
	}
	return intent, nil
}

// UpdateIntentStatus applies one lifecycle transition. The row is
// locked for the duration of the check-and-update, which serializes
// concurrent writers per intent id while writers of distinct ids
// proceed unordered. Readers outside the transaction never observe a
// partially applied update.
func (d Datasource) UpdateIntentStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM payment_intents WHERE intent_id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Intent with ID '%s' not found", id), nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock intent row", err)
	}

	if !model.TransitionAllowed(current, update.Status) {
		return apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("Cannot transition intent '%s' from %s to %s", id, current, update.Status), nil)
	}

	ts := update.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2,
			reason = CASE WHEN $3 <> '' THEN $3 ELSE reason END,
			submission_ref = CASE WHEN $4 <> '' THEN $4 ELSE submission_ref END,
			settlement_ref = CASE WHEN $5 <> '' THEN $5 ELSE settlement_ref END,
			last_attempt_at = $6,
			settled_at = CASE WHEN $2 IN ('CONFIRMED', 'FAILED') THEN $6 ELSE settled_at END
		WHERE intent_id = $1
	`, id, update.Status, update.Reason, update.SubmissionRef, update.SettlementRef, ts)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update intent status", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit status update", err)
	}

	d.invalidateIntent(ctx, id)
	return nil
}

// RecordAttempt increments the submission attempt counter for a
// non-terminal intent and returns the new count. Terminal intents are
// left untouched and reported as invalid transitions.
func (d Datasource) RecordAttempt(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE payment_intents
		SET attempts = attempts + 1, last_attempt_at = $2
		WHERE intent_id = $1 AND status IN ('PENDING', 'SUBMITTED')
		RETURNING attempts
	`, id, at).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("Intent with ID '%s' is terminal or missing", id), nil)
		}
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record attempt", err)
	}

	d.invalidateIntent(ctx, id)
	return attempts, nil
}

// ListIntents returns a page of intents matching the filter, newest
// first with ties broken by intent id ascending so pagination is
// deterministic.
func (d Datasource) ListIntents(ctx context.Context, filter model.IntentFilter, limit int, offset int64) ([]model.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE 1=1`
	var args []interface{}
	var clauses []string
	argIndex := 1

	if len(filter.Categories) > 0 {
		clauses = append(clauses, fmt.Sprintf("category = ANY($%d)", argIndex))
		args = append(args, pq.Array(filter.Categories))
		argIndex++
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, pq.Array(filter.Statuses))
		argIndex++
	}
	if filter.Counterparty != "" {
		clauses = append(clauses, fmt.Sprintf("recipient = $%d", argIndex))
		args = append(args, filter.Counterparty)
		argIndex++
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, filter.From)
		argIndex++
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, filter.To)
		argIndex++
	}

	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, intent_id ASC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve intents", err)
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

// GetResumableIntents returns non-terminal intents whose last activity
// predates the cutoff. The recovery processor re-drives these after a
// crash: PENDING intents are resubmitted (with their idempotency
// token), SUBMITTED intents are only re-polled.
func (d Datasource) GetResumableIntents(ctx context.Context, cutoff time.Time, limit int) ([]model.PaymentIntent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status IN ('PENDING', 'SUBMITTED')
		AND COALESCE(last_attempt_at, created_at) < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve resumable intents", err)
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
