package settlr

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/model"
	"github.com/settlr/settlr/settlement"
)

func newTestEngine(t *testing.T) (*Settlr, *memoryLedger, *stubBackend, *stubQueue) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Queue: config.QueueConfig{
			PaymentQueue:   "new:payment",
			PollQueue:      "new:poll",
			WebhookQueue:   "new:webhook",
			NumberOfQueues: 4,
		},
		Settlement: config.SettlementConfig{
			Endpoint:       "http://settlement.test/rpc",
			Network:        "devnet",
			TimeoutSeconds: 1,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 1,
			MaxDelayMS:  5,
		},
		Insight: config.InsightConfig{
			SuspiciousThreshold: "1000",
		},
	})

	ledger := newMemoryLedger()
	backend := &stubBackend{}
	queue := &stubQueue{}
	engine := &Settlr{
		datasource: ledger,
		backend:    backend,
		queue:      queue,
	}
	return engine, ledger, backend, queue
}

func recordPending(t *testing.T, engine *Settlr, sender, recipient string, amount int64) *model.PaymentIntent {
	t.Helper()
	intent, err := engine.CreatePayment(context.Background(), &model.PaymentIntent{
		Sender:    sender,
		Recipient: recipient,
		Amount:    decimal.NewFromInt(amount),
		Category:  model.CategoryOther,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, intent.Status)
	return intent
}

func TestCreatePaymentVisibleBeforeSettlement(t *testing.T) {
	engine, _, _, queue := newTestEngine(t)

	intent := recordPending(t, engine, "A", "B", 10)

	listed, err := engine.ListPayments(context.Background(), model.IntentFilter{
		Statuses: []string{model.StatusPending},
	}, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, intent.IntentID, listed[0].IntentID)
	assert.Equal(t, []string{intent.IntentID}, queue.submittedIDs())
}

func TestCreatePaymentRejectsInvalidIntent(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.CreatePayment(context.Background(), &model.PaymentIntent{
		Sender:    "A",
		Recipient: "A",
		Amount:    decimal.NewFromInt(10),
	})
	assert.Error(t, err)

	_, err = engine.CreatePayment(context.Background(), &model.PaymentIntent{
		Sender:    "A",
		Recipient: "B",
		Amount:    decimal.Zero,
	})
	assert.Error(t, err)
}

func TestCreatePaymentAppliesDirectoryCategory(t *testing.T) {
	engine, ledger, _, _ := newTestEngine(t)
	require.NoError(t, ledger.UpsertCounterparty(context.Background(), model.Counterparty{
		AccountID: "cafeteria",
		Name:      "Campus Cafeteria",
		Category:  "food",
	}))

	intent, err := engine.CreatePayment(context.Background(), &model.PaymentIntent{
		Sender:    "A",
		Recipient: "cafeteria",
		Amount:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "food", intent.Category)
}

func TestConfirmedOnFirstPoll(t *testing.T) {
	engine, _, backend, _ := newTestEngine(t)
	backend.queueSubmit(settlement.SubmissionHandle{Ref: "sub_1"}, nil)
	backend.queuePoll(settlement.Confirmation{State: settlement.StateConfirmed, Ref: "sig1"}, nil)

	intent := recordPending(t, engine, "A", "B", 10)
	ctx := context.Background()

	require.NoError(t, engine.ProcessSubmission(ctx, intent.IntentID))
	mid, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, mid.Status)
	assert.Equal(t, "sub_1", mid.SubmissionRef)
	assert.Empty(t, mid.SettlementRef)

	require.NoError(t, engine.ProcessConfirmation(ctx, intent.IntentID))
	final, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, final.Status)
	assert.Equal(t, "sig1", final.SettlementRef)
	require.NotNil(t, final.SettledAt)

	listed, err := engine.ListPayments(ctx, model.IntentFilter{Statuses: []string{model.StatusConfirmed}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	snapshot, err := engine.Rollup(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), model.GroupByCategory, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Buckets[model.CategoryOther].Count)
}

func TestInsufficientFundsFailsWithoutPolling(t *testing.T) {
	engine, _, backend, queue := newTestEngine(t)
	backend.queueSubmit(settlement.SubmissionHandle{}, settlement.ErrInsufficientFunds)

	intent := recordPending(t, engine, "A", "B", 10)
	require.NoError(t, engine.ProcessSubmission(context.Background(), intent.IntentID))

	final, err := engine.GetPayment(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, model.ReasonInsufficientFunds, final.Reason)
	assert.Zero(t, backend.pollCalls)
	assert.Empty(t, queue.polledIDs())
}

func TestInvalidRecipientFails(t *testing.T) {
	engine, _, backend, _ := newTestEngine(t)
	backend.queueSubmit(settlement.SubmissionHandle{}, settlement.ErrInvalidRecipient)

	intent := recordPending(t, engine, "A", "B", 10)
	require.NoError(t, engine.ProcessSubmission(context.Background(), intent.IntentID))

	final, err := engine.GetPayment(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, model.ReasonInvalidRecipient, final.Reason)
}

func TestRetriesExhaustedAfterExactlyMaxAttempts(t *testing.T) {
	engine, _, backend, _ := newTestEngine(t)
	// No scripted responses: every submit returns BackendUnavailable.

	intent := recordPending(t, engine, "A", "B", 10)
	ctx := context.Background()

	cnf, err := config.Fetch()
	require.NoError(t, err)

	for i := 1; i < cnf.Retry.MaxAttempts; i++ {
		require.NoError(t, engine.ProcessSubmission(ctx, intent.IntentID))
		current, err := engine.GetPayment(ctx, intent.IntentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, current.Status, "must not fail before the attempt ceiling")
	}

	require.NoError(t, engine.ProcessSubmission(ctx, intent.IntentID))
	final, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, model.ReasonRetriesExhausted, final.Reason)
	assert.Equal(t, cnf.Retry.MaxAttempts, backend.submitCalls)
	assert.Equal(t, cnf.Retry.MaxAttempts, final.Attempts)
}

func TestResumeFromSubmittedNeverResubmits(t *testing.T) {
	engine, ledger, backend, _ := newTestEngine(t)
	backend.queuePoll(settlement.Confirmation{State: settlement.StateConfirmed, Ref: "sig2"}, nil)

	now := time.Now()
	_, err := ledger.RecordIntent(context.Background(), &model.PaymentIntent{
		IntentID:      "pay_resume",
		Sender:        "A",
		Recipient:     "B",
		Amount:        decimal.NewFromInt(10),
		Category:      model.CategoryOther,
		Status:        model.StatusSubmitted,
		SubmissionRef: "sub_9",
		CreatedAt:     now,
	})
	require.NoError(t, err)

	require.NoError(t, engine.ProcessSubmission(context.Background(), "pay_resume"))

	final, err := engine.GetPayment(context.Background(), "pay_resume")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, final.Status)
	assert.Equal(t, "sig2", final.SettlementRef)
	assert.Zero(t, backend.submitCalls, "a submitted intent is resumed by polling only")
	assert.Equal(t, 1, backend.pollCalls)
}

func TestPendingConfirmationReschedulesPoll(t *testing.T) {
	engine, _, backend, queue := newTestEngine(t)
	backend.queueSubmit(settlement.SubmissionHandle{Ref: "sub_1"}, nil)
	backend.queuePoll(settlement.Confirmation{State: settlement.StatePending}, nil)
	backend.queuePoll(settlement.Confirmation{State: settlement.StateConfirmed, Ref: "sig3"}, nil)

	intent := recordPending(t, engine, "A", "B", 10)
	ctx := context.Background()

	require.NoError(t, engine.ProcessSubmission(ctx, intent.IntentID))
	require.NoError(t, engine.ProcessConfirmation(ctx, intent.IntentID))

	mid, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, mid.Status)
	assert.Len(t, queue.polledIDs(), 2)

	require.NoError(t, engine.ProcessConfirmation(ctx, intent.IntentID))
	final, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, final.Status)
}

func TestFailedConfirmationIsTerminal(t *testing.T) {
	engine, _, backend, _ := newTestEngine(t)
	backend.queueSubmit(settlement.SubmissionHandle{Ref: "sub_1"}, nil)
	backend.queuePoll(settlement.Confirmation{State: settlement.StateFailed, Reason: "slippage"}, nil)

	intent := recordPending(t, engine, "A", "B", 10)
	ctx := context.Background()

	require.NoError(t, engine.ProcessSubmission(ctx, intent.IntentID))
	require.NoError(t, engine.ProcessConfirmation(ctx, intent.IntentID))

	final, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, "slippage", final.Reason)

	// Terminal states are sticky; a stray poll task is dropped.
	require.NoError(t, engine.ProcessConfirmation(ctx, intent.IntentID))
	after, err := engine.GetPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, after.Status)
}

func TestSubmissionTaskForUnknownIntentSkipsRetry(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	err := engine.ProcessSubmission(context.Background(), "pay_missing")
	assert.Error(t, err)
}

func TestRetryDelayBackoff(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	cnf := &config.Configuration{Retry: config.RetryConfig{BaseDelayMS: 100, MaxDelayMS: 1000}}

	assert.Equal(t, 100*time.Millisecond, engine.retryDelay(cnf, 0))
	assert.Equal(t, 200*time.Millisecond, engine.retryDelay(cnf, 1))
	assert.Equal(t, 400*time.Millisecond, engine.retryDelay(cnf, 2))
	assert.Equal(t, 800*time.Millisecond, engine.retryDelay(cnf, 3))
	assert.Equal(t, time.Second, engine.retryDelay(cnf, 4), "capped at max delay")
	assert.Equal(t, time.Second, engine.retryDelay(cnf, 40), "huge attempt counts stay capped")
}

func TestRetryDelayJitterBounded(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	cnf := &config.Configuration{Retry: config.RetryConfig{BaseDelayMS: 100, MaxDelayMS: 1000, JitterMS: 50}}

	for i := 0; i < 20; i++ {
		delay := engine.retryDelay(cnf, 1)
		assert.GreaterOrEqual(t, delay, 200*time.Millisecond)
		assert.Less(t, delay, 250*time.Millisecond)
	}
}
