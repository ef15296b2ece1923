package settlr

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/internal/notification"
	"github.com/settlr/settlr/model"
)

// CreatePayment validates a new payment intent, records it as PENDING
// and hands it to the reconciliation queue. The ledger write is the
// durability boundary: once the row exists the payment is accepted,
// and a failed enqueue is recovered later by the recovery processor.
func (s *Settlr) CreatePayment(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, error) {
	if err := intent.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	s.applyDirectoryDefaults(ctx, intent)
	intent.Category = model.NormalizeCategory(intent.Category)

	if intent.IntentID == "" {
		intent.IntentID = model.GenerateUUIDWithSuffix("pay")
	}
	intent.Status = model.StatusPending
	intent.CreatedAt = time.Now()

	recorded, err := s.datasource.RecordIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	paymentsRecorded.WithLabelValues(recorded.Category).Inc()

	if err := s.queue.Enqueue(ctx, recorded); err != nil {
		logrus.WithError(err).WithField("intent_id", recorded.IntentID).
			Error("failed to enqueue payment intent, recovery will pick it up")
		notification.NotifyError(err)
	}

	return recorded, nil
}

// applyDirectoryDefaults fills a missing category from the counterparty
// directory. An unknown recipient is not an error; the intent keeps
// whatever category the caller supplied (or OTHER).
func (s *Settlr) applyDirectoryDefaults(ctx context.Context, intent *model.PaymentIntent) {
	if intent.Category != "" && intent.Category != model.CategoryOther {
		return
	}
	cp, err := s.datasource.GetCounterparty(ctx, intent.Recipient)
	if err != nil {
		if !apierror.IsCode(err, apierror.ErrNotFound) {
			logrus.WithError(err).Warn("counterparty lookup failed")
		}
		return
	}
	if cp.Category != "" {
		intent.Category = cp.Category
	}
}

// GetPayment retrieves a single intent by id.
func (s *Settlr) GetPayment(ctx context.Context, id string) (*model.PaymentIntent, error) {
	return s.datasource.GetIntent(ctx, id)
}

// ListPayments returns a page of intents matching the filter, newest
// first, ties broken by id for deterministic pagination.
func (s *Settlr) ListPayments(ctx context.Context, filter model.IntentFilter, limit int, offset int64) ([]model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.datasource.ListIntents(ctx, filter, limit, offset)
}

// UpsertCounterparty seeds or refreshes a directory entry.
func (s *Settlr) UpsertCounterparty(ctx context.Context, cp model.Counterparty) error {
	return s.datasource.UpsertCounterparty(ctx, cp)
}

// ListCounterparties returns the full counterparty directory.
func (s *Settlr) ListCounterparties(ctx context.Context) ([]model.Counterparty, error) {
	return s.datasource.AllCounterparties(ctx)
}
