package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentFilter is a conjunction of list criteria. Zero values mean "no
// constraint" for that dimension.
type IntentFilter struct {
	Categories   []string
	Statuses     []string
	Counterparty string
	From         time.Time
	To           time.Time
}

// Rollup group-by dimensions.
const (
	GroupByCategory = "category"
	GroupByHour     = "hour"
	GroupByDay      = "day"
)

// RollupBucket is the aggregate for one group key.
type RollupBucket struct {
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// RollupSnapshot is a derived aggregate over the ledger. It is never
// persisted independently; it is always recomputable by replaying the
// intents whose status is in the inclusion set.
type RollupSnapshot struct {
	From     time.Time               `json:"from"`
	To       time.Time               `json:"to"`
	GroupBy  string                  `json:"group_by"`
	Statuses []string                `json:"statuses"`
	Buckets  map[string]RollupBucket `json:"buckets"`
}

// TotalCount sums the bucket counts.
func (s *RollupSnapshot) TotalCount() int64 {
	var total int64
	for _, b := range s.Buckets {
		total += b.Count
	}
	return total
}

// TotalAmount sums the bucket totals.
func (s *RollupSnapshot) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Buckets {
		total = total.Add(b.TotalAmount)
	}
	return total
}

// TopCategory returns the group key with the largest total, ties broken
// by key ascending so the result is deterministic.
func (s *RollupSnapshot) TopCategory() string {
	var top string
	var topAmount decimal.Decimal
	for key, b := range s.Buckets {
		if top == "" || b.TotalAmount.GreaterThan(topAmount) || (b.TotalAmount.Equal(topAmount) && key < top) {
			top = key
			topAmount = b.TotalAmount
		}
	}
	return top
}

// CounterpartyTotal is one row of the top-counterparties ranking.
type CounterpartyTotal struct {
	Counterparty string          `json:"counterparty"`
	Count        int64           `json:"count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}
