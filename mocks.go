package settlr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
	"github.com/settlr/settlr/settlement"
)

// memoryLedger is an in-memory IDataSource used by the engine tests.
// It enforces the same append and transition contracts as the Postgres
// store.
type memoryLedger struct {
	mu      sync.Mutex
	intents map[string]*model.PaymentIntent
	parties map[string]model.Counterparty
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		intents: make(map[string]*model.PaymentIntent),
		parties: make(map[string]model.Counterparty),
	}
}

func (m *memoryLedger) RecordIntent(_ context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.IntentID]; ok {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Intent with ID '%s' already exists", intent.IntentID), nil)
	}
	cp := *intent
	m.intents[intent.IntentID] = &cp
	out := cp
	return &out, nil
}

func (m *memoryLedger) GetIntent(_ context.Context, id string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Intent with ID '%s' not found", id), nil)
	}
	out := *intent
	return &out, nil
}

func (m *memoryLedger) UpdateIntentStatus(_ context.Context, id string, update model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Intent with ID '%s' not found", id), nil)
	}
	if !model.TransitionAllowed(intent.Status, update.Status) {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Cannot transition from %s to %s", intent.Status, update.Status), nil)
	}
	intent.Status = update.Status
	if update.Reason != "" {
		intent.Reason = update.Reason
	}
	if update.SubmissionRef != "" {
		intent.SubmissionRef = update.SubmissionRef
	}
	if update.SettlementRef != "" {
		intent.SettlementRef = update.SettlementRef
	}
	if model.IsTerminal(intent.Status) {
		at := update.Timestamp
		intent.SettledAt = &at
	}
	return nil
}

func (m *memoryLedger) RecordAttempt(_ context.Context, id string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return 0, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Intent with ID '%s' not found", id), nil)
	}
	if model.IsTerminal(intent.Status) {
		return 0, apierror.NewAPIError(apierror.ErrInvalidTransition, "Intent is terminal", nil)
	}
	intent.Attempts++
	intent.LastAttemptAt = &at
	return intent.Attempts, nil
}

func (m *memoryLedger) ListIntents(_ context.Context, filter model.IntentFilter, limit int, offset int64) ([]model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []model.PaymentIntent
	for _, intent := range m.intents {
		if matchesFilter(intent, filter) {
			matched = append(matched, *intent)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].IntentID < matched[j].IntentID
	})

	start := int(offset)
	if start >= len(matched) {
		return nil, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func matchesFilter(intent *model.PaymentIntent, filter model.IntentFilter) bool {
	if len(filter.Categories) > 0 && !contains(filter.Categories, intent.Category) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, intent.Status) {
		return false
	}
	if filter.Counterparty != "" && intent.Recipient != filter.Counterparty {
		return false
	}
	if !filter.From.IsZero() && intent.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !intent.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (m *memoryLedger) GetResumableIntents(_ context.Context, cutoff time.Time, limit int) ([]model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []model.PaymentIntent
	for _, intent := range m.intents {
		if model.IsTerminal(intent.Status) {
			continue
		}
		last := intent.CreatedAt
		if intent.LastAttemptAt != nil {
			last = *intent.LastAttemptAt
		}
		if last.Before(cutoff) {
			stale = append(stale, *intent)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].IntentID < stale[j].IntentID })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m *memoryLedger) GetCounterparty(_ context.Context, accountID string) (*model.Counterparty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.parties[accountID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Counterparty '%s' not found", accountID), nil)
	}
	return &cp, nil
}

func (m *memoryLedger) UpsertCounterparty(_ context.Context, cp model.Counterparty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parties[cp.AccountID] = cp
	return nil
}

func (m *memoryLedger) AllCounterparties(_ context.Context) ([]model.Counterparty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Counterparty
	for _, cp := range m.parties {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *memoryLedger) RollupIntents(_ context.Context, from, to time.Time, groupBy string, statuses []string) (map[string]model.RollupBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make(map[string]model.RollupBucket)
	for _, intent := range m.intents {
		if !contains(statuses, intent.Status) {
			continue
		}
		if intent.CreatedAt.Before(from) || !intent.CreatedAt.Before(to) {
			continue
		}
		key, err := groupKey(intent, groupBy)
		if err != nil {
			return nil, err
		}
		bucket := buckets[key]
		bucket.Count++
		bucket.TotalAmount = bucket.TotalAmount.Add(intent.Amount)
		buckets[key] = bucket
	}
	return buckets, nil
}

func groupKey(intent *model.PaymentIntent, groupBy string) (string, error) {
	switch groupBy {
	case model.GroupByCategory:
		return intent.Category, nil
	case model.GroupByHour:
		return intent.CreatedAt.Format("2006-01-02T15:00"), nil
	case model.GroupByDay:
		return intent.CreatedAt.Format("2006-01-02"), nil
	default:
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown rollup dimension %q", groupBy), nil)
	}
}

func (m *memoryLedger) TopCounterparties(_ context.Context, from, to time.Time, statuses []string, limit int) ([]model.CounterpartyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRecipient := make(map[string]model.CounterpartyTotal)
	for _, intent := range m.intents {
		if !contains(statuses, intent.Status) {
			continue
		}
		if intent.CreatedAt.Before(from) || !intent.CreatedAt.Before(to) {
			continue
		}
		total := byRecipient[intent.Recipient]
		total.Counterparty = intent.Recipient
		total.Count++
		total.TotalAmount = total.TotalAmount.Add(intent.Amount)
		byRecipient[intent.Recipient] = total
	}

	totals := make([]model.CounterpartyTotal, 0, len(byRecipient))
	for _, total := range byRecipient {
		totals = append(totals, total)
	}
	sort.Slice(totals, func(i, j int) bool {
		if !totals[i].TotalAmount.Equal(totals[j].TotalAmount) {
			return totals[i].TotalAmount.GreaterThan(totals[j].TotalAmount)
		}
		return totals[i].Counterparty < totals[j].Counterparty
	})
	if len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func (m *memoryLedger) SuspiciousIntents(_ context.Context, threshold decimal.Decimal, statuses []string, limit int) ([]model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.PaymentIntent
	for _, intent := range m.intents {
		if !contains(statuses, intent.Status) {
			continue
		}
		if intent.Amount.GreaterThanOrEqual(threshold) {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].IntentID < out[j].IntentID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// stubBackend is a scriptable settlement backend. Each call pops the
// next queued response.
type stubBackend struct {
	mu          sync.Mutex
	submits     []stubSubmit
	polls       []stubPoll
	submitCalls int
	pollCalls   int
}

type stubSubmit struct {
	handle settlement.SubmissionHandle
	err    error
}

type stubPoll struct {
	confirmation settlement.Confirmation
	err          error
}

func (b *stubBackend) queueSubmit(handle settlement.SubmissionHandle, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, stubSubmit{handle: handle, err: err})
}

func (b *stubBackend) queuePoll(confirmation settlement.Confirmation, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls = append(b.polls, stubPoll{confirmation: confirmation, err: err})
}

func (b *stubBackend) CheckBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (b *stubBackend) Fund(context.Context, string, decimal.Decimal) error {
	return nil
}

func (b *stubBackend) Submit(_ context.Context, _ *model.PaymentIntent) (settlement.SubmissionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitCalls++
	if len(b.submits) == 0 {
		return settlement.SubmissionHandle{}, settlement.ErrBackendUnavailable
	}
	next := b.submits[0]
	b.submits = b.submits[1:]
	return next.handle, next.err
}

func (b *stubBackend) PollConfirmation(_ context.Context, _ settlement.SubmissionHandle) (settlement.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollCalls++
	if len(b.polls) == 0 {
		return settlement.Confirmation{}, settlement.ErrBackendUnavailable
	}
	next := b.polls[0]
	b.polls = b.polls[1:]
	return next.confirmation, next.err
}

// stubQueue collects enqueued work instead of talking to Redis, so
// engine tests can drive the state machine step by step.
type stubQueue struct {
	mu       sync.Mutex
	submits  []string
	polls    []string
	webhooks [][]byte
}

func (q *stubQueue) Enqueue(_ context.Context, intent *model.PaymentIntent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits = append(q.submits, intent.IntentID)
	return nil
}

func (q *stubQueue) EnqueueSubmitRetry(_ context.Context, intent *model.PaymentIntent, _ int, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits = append(q.submits, intent.IntentID)
	return nil
}

func (q *stubQueue) EnqueuePoll(_ context.Context, intent *model.PaymentIntent, _ int, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.polls = append(q.polls, intent.IntentID)
	return nil
}

func (q *stubQueue) EnqueueWebhook(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.webhooks = append(q.webhooks, payload)
	return nil
}

func (q *stubQueue) submittedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.submits...)
}

func (q *stubQueue) polledIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.polls...)
}
