package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

func intentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"intent_id", "sender", "recipient", "amount", "category", "description",
		"status", "reason", "submission_ref", "settlement_ref", "attempts",
		"created_at", "last_attempt_at", "settled_at", "meta_data",
	})
}

func TestRecordIntent(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	intent := &model.PaymentIntent{
		IntentID:  "pay_" + gofakeit.UUID(),
		Sender:    gofakeit.UUID(),
		Recipient: gofakeit.UUID(),
		Amount:    decimal.NewFromFloat(25.5),
		Category:  "food",
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO payment_intents").
		WithArgs(intent.IntentID, intent.Sender, intent.Recipient, sqlmock.AnyArg(), intent.Category, intent.Description, model.StatusPending, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorded, err := datasource.RecordIntent(context.Background(), intent)
	assert.NoError(t, err)
	assert.Equal(t, intent.IntentID, recorded.IntentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordIntentDuplicateID(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	intent := &model.PaymentIntent{
		IntentID: "pay_dup",
		Amount:   decimal.NewFromInt(10),
		Status:   model.StatusPending,
	}

	mock.ExpectExec("INSERT INTO payment_intents").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = datasource.RecordIntent(context.Background(), intent)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIntent(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM payment_intents WHERE intent_id = \\$1").
		WithArgs("pay_1").
		WillReturnRows(intentRows().AddRow(
			"pay_1", "A", "B", "10.5", "food", "lunch",
			model.StatusConfirmed, "", "sub_ref", "sig1", 1,
			now, now, now, `{"campus":"north"}`,
		))

	intent, err := datasource.GetIntent(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", intent.IntentID)
	assert.Equal(t, model.StatusConfirmed, intent.Status)
	assert.Equal(t, "sig1", intent.SettlementRef)
	assert.True(t, intent.Amount.Equal(decimal.NewFromFloat(10.5)))
	assert.NotNil(t, intent.SettledAt)
	assert.Equal(t, "north", intent.MetaData["campus"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIntentNotFound(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM payment_intents WHERE intent_id = \\$1").
		WithArgs("pay_missing").
		WillReturnRows(intentRows())

	_, err = datasource.GetIntent(context.Background(), "pay_missing")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestUpdateIntentStatus(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payment_intents WHERE intent_id = \\$1 FOR UPDATE").
		WithArgs("pay_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.StatusSubmitted))
	mock.ExpectExec("UPDATE payment_intents").
		WithArgs("pay_1", model.StatusConfirmed, "", "", "sig1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = datasource.UpdateIntentStatus(context.Background(), "pay_1", model.StatusUpdate{
		Status:        model.StatusConfirmed,
		SettlementRef: "sig1",
		Timestamp:     time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntentStatusInvalidTransition(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payment_intents WHERE intent_id = \\$1 FOR UPDATE").
		WithArgs("pay_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.StatusConfirmed))
	mock.ExpectRollback()

	err = datasource.UpdateIntentStatus(context.Background(), "pay_1", model.StatusUpdate{
		Status: model.StatusFailed,
	})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntentStatusNotFound(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payment_intents WHERE intent_id = \\$1 FOR UPDATE").
		WithArgs("pay_missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err = datasource.UpdateIntentStatus(context.Background(), "pay_missing", model.StatusUpdate{
		Status: model.StatusSubmitted,
	})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestRecordAttempt(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE payment_intents").
		WithArgs("pay_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))

	attempts, err := datasource.RecordAttempt(context.Background(), "pay_1", time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRecordAttemptTerminalIntent(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE payment_intents").
		WithArgs("pay_done", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}))

	_, err = datasource.RecordAttempt(context.Background(), "pay_done", time.Now())
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidTransition))
}

func TestListIntentsWithFilter(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM payment_intents WHERE 1=1 AND category = ANY\\(\\$1\\) AND status = ANY\\(\\$2\\) ORDER BY created_at DESC, intent_id ASC LIMIT \\$3 OFFSET \\$4").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 20, int64(0)).
		WillReturnRows(intentRows().
			AddRow("pay_2", "A", "B", "5", "food", "", model.StatusConfirmed, "", "", "sig2", 1, now, nil, now, `{}`).
			AddRow("pay_1", "A", "C", "7", "food", "", model.StatusConfirmed, "", "", "sig1", 1, now.Add(-time.Hour), nil, now, `{}`))

	intents, err := datasource.ListIntents(context.Background(), model.IntentFilter{
		Categories: []string{"food"},
		Statuses:   []string{model.StatusConfirmed},
	}, 20, 0)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "pay_2", intents[0].IntentID)
	assert.Equal(t, "pay_1", intents[1].IntentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResumableIntents(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM payment_intents WHERE status IN \\('PENDING', 'SUBMITTED'\\)").
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(intentRows().
			AddRow("pay_1", "A", "B", "5", "other", "", model.StatusSubmitted, "", "sub_1", "", 2, now.Add(-time.Hour), now.Add(-30*time.Minute), nil, `{}`))

	intents, err := datasource.GetResumableIntents(context.Background(), now.Add(-10*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, model.StatusSubmitted, intents[0].Status)
	assert.Equal(t, "sub_1", intents[0].SubmissionRef)
}
