package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

func TestRollupIntentsByCategory(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	mock.ExpectQuery("SELECT category AS grp, COUNT\\(\\*\\), COALESCE\\(SUM\\(amount\\), 0\\)").
		WithArgs(sqlmock.AnyArg(), from, to).
		WillReturnRows(sqlmock.NewRows([]string{"grp", "count", "sum"}).
			AddRow("food", 3, "45.5").
			AddRow("transport", 1, "12"))

	buckets, err := datasource.RollupIntents(context.Background(), from, to, model.GroupByCategory, []string{model.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(3), buckets["food"].Count)
	assert.True(t, buckets["food"].TotalAmount.Equal(decimal.NewFromFloat(45.5)))
	assert.True(t, buckets["transport"].TotalAmount.Equal(decimal.NewFromInt(12)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollupIntentsUnknownDimension(t *testing.T) {
	datasource, _, err := newTestDataSource()
	require.NoError(t, err)

	_, err = datasource.RollupIntents(context.Background(), time.Now().Add(-time.Hour), time.Now(), "week", []string{model.StatusConfirmed})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestTopCounterparties(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	mock.ExpectQuery("SELECT recipient, COUNT\\(\\*\\), COALESCE\\(SUM\\(amount\\), 0\\) AS total").
		WithArgs(sqlmock.AnyArg(), from, to, 5).
		WillReturnRows(sqlmock.NewRows([]string{"recipient", "count", "total"}).
			AddRow("cafeteria", 4, "80").
			AddRow("bookstore", 2, "80").
			AddRow("printshop", 1, "3"))

	totals, err := datasource.TopCounterparties(context.Background(), from, to, []string{model.StatusConfirmed}, 5)
	require.NoError(t, err)
	require.Len(t, totals, 3)
	assert.Equal(t, "cafeteria", totals[0].Counterparty)
	assert.Equal(t, int64(4), totals[0].Count)
	assert.Equal(t, "printshop", totals[2].Counterparty)
}

func TestSuspiciousIntents(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM payment_intents WHERE status = ANY\\(\\$1\\) AND amount >= \\$2").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(intentRows().
			AddRow("pay_big", "A", "B", "5000", "other", "", model.StatusConfirmed, "", "", "sig9", 1, now, nil, now, `{}`))

	intents, err := datasource.SuspiciousIntents(context.Background(), decimal.NewFromInt(1000), []string{model.StatusConfirmed}, 10)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "pay_big", intents[0].IntentID)
	assert.True(t, intents[0].Amount.Equal(decimal.NewFromInt(5000)))
}
