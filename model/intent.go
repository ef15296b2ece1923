package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Intent lifecycle statuses. Transitions are monotonic: an intent never
// moves back to an earlier status, and CONFIRMED/FAILED are terminal.
const (
	StatusPending   = "PENDING"
	StatusSubmitted = "SUBMITTED"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
)

// Failure reason codes recorded on terminal FAILED intents. Operators
// rely on RetriesExhausted being distinct from backend rejections.
const (
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonInvalidRecipient  = "INVALID_RECIPIENT"
	ReasonBackendRejected   = "BACKEND_REJECTED"
	ReasonRetriesExhausted  = "RETRIES_EXHAUSTED"
)

// CategoryOther is the fallback category used when the caller supplies
// none and the counterparty directory has no entry for the recipient.
const CategoryOther = "other"

// Categories is the closed set of spend categories an intent may carry.
var Categories = []string{"food", "transport", "data", "books", "entertainment", "utilities", "supplies", CategoryOther}

// PaymentIntent is the unit of work: one durable row per logical
// payment. Identity fields (sender, recipient, amount, category,
// description, metadata) are immutable after creation; only status,
// refs, attempts and timestamps mutate, and only through the
// reconciliation engine.
type PaymentIntent struct {
	ID            int64                  `json:"-"`
	IntentID      string                 `json:"id"`
	Sender        string                 `json:"sender"`
	Recipient     string                 `json:"recipient"`
	Amount        decimal.Decimal        `json:"amount"`
	Category      string                 `json:"category"`
	Description   string                 `json:"description,omitempty"`
	Status        string                 `json:"status"`
	Reason        string                 `json:"reason,omitempty"`
	SubmissionRef string                 `json:"submission_ref,omitempty"`
	SettlementRef string                 `json:"settlement_ref,omitempty"`
	Attempts      int                    `json:"attempts"`
	CreatedAt     time.Time              `json:"created_at"`
	LastAttemptAt *time.Time             `json:"last_attempt_at,omitempty"`
	SettledAt     *time.Time             `json:"settled_at,omitempty"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

func (intent *PaymentIntent) ToJSON() ([]byte, error) {
	return json.Marshal(intent)
}

// statusRank orders the lifecycle for the monotonicity check. Both
// terminal statuses share the highest rank.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusConfirmed: 2,
	StatusFailed:    2,
}

// TransitionAllowed reports whether moving from one status to another
// respects the monotonic order PENDING -> SUBMITTED -> {CONFIRMED,
// FAILED}. PENDING -> FAILED is permitted for terminal submit errors;
// PENDING -> CONFIRMED is not, since confirmation requires a submission.
func TransitionAllowed(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if to == StatusConfirmed && from != StatusSubmitted {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusConfirmed || status == StatusFailed
}

// ValidCategory reports whether the given category is in the closed set.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// NormalizeCategory lowercases and trims a caller-supplied category and
// falls back to CategoryOther when it is empty or unknown.
func NormalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" || !ValidCategory(category) {
		return CategoryOther
	}
	return category
}

// Validate rejects intents that must never enter the ledger: missing
// accounts, self transfers and non-positive amounts.
func (intent *PaymentIntent) Validate() error {
	if strings.TrimSpace(intent.Sender) == "" {
		return errors.New("sender is required")
	}
	if strings.TrimSpace(intent.Recipient) == "" {
		return errors.New("recipient is required")
	}
	if intent.Sender == intent.Recipient {
		return errors.New("sender and recipient must differ")
	}
	if !intent.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", intent.Amount)
	}
	if intent.Category != "" && !ValidCategory(intent.Category) {
		return fmt.Errorf("unknown category %q", intent.Category)
	}
	return nil
}

// PaymentURI renders the intent as a payment-request URI suitable for
// QR encoding. The scheme carries the recipient plus amount and the
// intent id as the request reference.
func (intent *PaymentIntent) PaymentURI() string {
	return fmt.Sprintf("settlr:%s?amount=%s&reference=%s", intent.Recipient, intent.Amount.String(), intent.IntentID)
}
