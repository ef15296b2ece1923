package settlr

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/insight"
	"github.com/settlr/settlr/model"
)

// Analytics is the aggregate view served by the analytics endpoint:
// totals over the window, large transfers, and a narrative summary.
type Analytics struct {
	Snapshot   model.RollupSnapshot  `json:"snapshot"`
	Suspicious []model.PaymentIntent `json:"suspicious"`
	Summary    string                `json:"summary"`
}

// Rollup aggregates intents over the window grouped by the requested
// dimension. The inclusion set defaults to CONFIRMED only, so money not
// yet settled is never counted; callers wanting pending exposure pass
// the statuses explicitly. Always computed from current ledger state.
func (s *Settlr) Rollup(ctx context.Context, from, to time.Time, groupBy string, statuses []string) (*model.RollupSnapshot, error) {
	if groupBy == "" {
		groupBy = model.GroupByCategory
	}
	if len(statuses) == 0 {
		statuses = []string{model.StatusConfirmed}
	}

	buckets, err := s.datasource.RollupIntents(ctx, from, to, groupBy, statuses)
	if err != nil {
		return nil, err
	}
	return &model.RollupSnapshot{
		From:     from,
		To:       to,
		GroupBy:  groupBy,
		Statuses: statuses,
		Buckets:  buckets,
	}, nil
}

// TopCounterparties ranks recipients by settled volume over the window.
func (s *Settlr) TopCounterparties(ctx context.Context, from, to time.Time, limit int) ([]model.CounterpartyTotal, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.datasource.TopCounterparties(ctx, from, to, []string{model.StatusConfirmed}, limit)
}

// Suspicious returns settled intents at or above the configured amount
// threshold, largest first.
func (s *Settlr) Suspicious(ctx context.Context, limit int) ([]model.PaymentIntent, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	threshold, err := decimal.NewFromString(cnf.Insight.SuspiciousThreshold)
	if err != nil {
		logrus.WithError(err).Warn("bad suspicious threshold, using 1000")
		threshold = decimal.NewFromInt(1000)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.datasource.SuspiciousIntents(ctx, threshold, []string{model.StatusConfirmed}, limit)
}

// GetAnalytics assembles the analytics view for the window. A failing
// insight provider never fails the request; the deterministic fallback
// text is served instead.
func (s *Settlr) GetAnalytics(ctx context.Context, from, to time.Time) (*Analytics, error) {
	snapshot, err := s.Rollup(ctx, from, to, model.GroupByCategory, nil)
	if err != nil {
		return nil, err
	}

	suspicious, err := s.Suspicious(ctx, 20)
	if err != nil {
		return nil, err
	}

	return &Analytics{
		Snapshot:   *snapshot,
		Suspicious: suspicious,
		Summary:    insight.Summarize(ctx, s.insight, *snapshot),
	}, nil
}
