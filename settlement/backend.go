package settlement

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/settlr/settlr/model"
)

// Sentinel errors returned by Backend implementations. Callers decide
// retry policy from these; a backend never retries on its own.
var (
	// ErrInsufficientFunds and ErrInvalidRecipient are terminal: the
	// submission was rejected and will never succeed as-is.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRecipient  = errors.New("invalid recipient")

	// ErrBackendUnavailable is retriable: the backend could not be
	// reached or answered with a transient fault, try again later.
	ErrBackendUnavailable = errors.New("settlement backend unavailable")
)

// ConfirmationState is the backend's view of a submitted transfer.
type ConfirmationState string

const (
	StatePending   ConfirmationState = "PENDING"
	StateConfirmed ConfirmationState = "CONFIRMED"
	StateFailed    ConfirmationState = "FAILED"
)

// SubmissionHandle identifies an in-flight submission so it can be
// polled later, including across process restarts.
type SubmissionHandle struct {
	Ref string `json:"ref"`
}

// Confirmation is the result of polling a submission. Ref is set only
// when State is CONFIRMED; Reason only when State is FAILED.
type Confirmation struct {
	State  ConfirmationState `json:"state"`
	Ref    string            `json:"ref,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// Backend is the settlement gateway boundary. Implementations wrap one
// external settlement network and translate its account, amount and
// error encodings. All retry policy lives with the caller.
type Backend interface {
	// CheckBalance returns the spendable balance of an account in the
	// backend's native unit.
	CheckBalance(ctx context.Context, account string) (decimal.Decimal, error)

	// Fund credits an account from the network's faucet. Only available
	// on test networks; production backends return ErrBackendUnavailable.
	Fund(ctx context.Context, account string, amount decimal.Decimal) error

	// Submit sends a transfer for the intent and returns a handle for
	// polling. The intent's idempotency token is passed through so a
	// resubmission after an ambiguous crash is recognized as the same
	// logical operation.
	Submit(ctx context.Context, intent *model.PaymentIntent) (SubmissionHandle, error)

	// PollConfirmation reports the current state of a submission. A
	// PENDING result is not an error; ErrBackendUnavailable means the
	// state could not be determined at all.
	PollConfirmation(ctx context.Context, handle SubmissionHandle) (Confirmation, error)
}

// Retriable reports whether err warrants another attempt. Terminal
// rejections and nil are not retriable.
func Retriable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
