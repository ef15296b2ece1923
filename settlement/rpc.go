package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/internal/request"
	"github.com/settlr/settlr/model"
)

// JSON-RPC error codes the settlement network uses for transfer
// rejections. Anything else server-side is treated as transient.
const (
	rpcCodeInsufficientFunds = -32010
	rpcCodeInvalidRecipient  = -32011
)

var accountPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{3,64}$`)

// ValidAccount performs the syntactic well-formedness check for
// backend account identifiers. Anything deeper (existence, ownership)
// is the backend's call.
func ValidAccount(account string) bool {
	return accountPattern.MatchString(account)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// RPCBackend talks JSON-RPC 2.0 to a settlement network node. It is
// stateless; every call is a single round trip.
type RPCBackend struct {
	endpoint string
	network  string
}

func NewRPCBackend(endpoint, network string) *RPCBackend {
	return &RPCBackend{endpoint: endpoint, network: network}
}

func (b *RPCBackend) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := request.ToJsonReq(&rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, payload)
	if err != nil {
		return errors.Wrap(err, "failed to build rpc request")
	}

	var rpcResp rpcResponse
	resp, err := request.Call(req, &rpcResp)
	if err != nil {
		logrus.WithError(err).WithField("method", method).Warn("settlement rpc transport error")
		return ErrBackendUnavailable
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return ErrBackendUnavailable
	}
	if rpcResp.Error != nil {
		return b.mapRPCError(method, rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return errors.Wrapf(err, "failed to decode %s result", method)
		}
	}
	return nil
}

func (b *RPCBackend) mapRPCError(method string, rpcErr *rpcError) error {
	switch rpcErr.Code {
	case rpcCodeInsufficientFunds:
		return ErrInsufficientFunds
	case rpcCodeInvalidRecipient:
		return ErrInvalidRecipient
	default:
		logrus.WithFields(logrus.Fields{
			"method": method,
			"code":   rpcErr.Code,
		}).Warn("settlement rpc error: ", rpcErr.Message)
		return ErrBackendUnavailable
	}
}

func (b *RPCBackend) CheckBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	if !ValidAccount(account) {
		return decimal.Zero, errors.Wrapf(ErrInvalidRecipient, "malformed account %q", account)
	}

	var result struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := b.call(ctx, "settlement_getBalance", []interface{}{account, b.network}, &result); err != nil {
		return decimal.Zero, err
	}
	return result.Balance, nil
}

func (b *RPCBackend) Fund(ctx context.Context, account string, amount decimal.Decimal) error {
	if !ValidAccount(account) {
		return errors.Wrapf(ErrInvalidRecipient, "malformed account %q", account)
	}
	return b.call(ctx, "settlement_requestFunds", []interface{}{account, amount.String(), b.network}, nil)
}

// Submit sends the transfer. The idempotency token rides along so the
// backend can deduplicate a resubmission of the same intent.
func (b *RPCBackend) Submit(ctx context.Context, intent *model.PaymentIntent) (SubmissionHandle, error) {
	if !ValidAccount(intent.Recipient) {
		return SubmissionHandle{}, errors.Wrapf(ErrInvalidRecipient, "malformed recipient %q", intent.Recipient)
	}
	if !ValidAccount(intent.Sender) {
		return SubmissionHandle{}, errors.Wrapf(ErrInvalidRecipient, "malformed sender %q", intent.Sender)
	}

	params := []interface{}{map[string]interface{}{
		"sender":            intent.Sender,
		"recipient":         intent.Recipient,
		"amount":            intent.Amount.String(),
		"network":           b.network,
		"idempotency_token": intent.IdempotencyToken(),
	}}

	var result struct {
		Ref string `json:"ref"`
	}
	if err := b.call(ctx, "settlement_submitTransfer", params, &result); err != nil {
		return SubmissionHandle{}, err
	}
	if result.Ref == "" {
		return SubmissionHandle{}, errors.Wrap(ErrBackendUnavailable, "backend returned empty submission ref")
	}
	return SubmissionHandle{Ref: result.Ref}, nil
}

func (b *RPCBackend) PollConfirmation(ctx context.Context, handle SubmissionHandle) (Confirmation, error) {
	var result struct {
		State  string `json:"state"`
		Ref    string `json:"ref"`
		Reason string `json:"reason"`
	}
	if err := b.call(ctx, "settlement_getConfirmation", []interface{}{handle.Ref, b.network}, &result); err != nil {
		return Confirmation{}, err
	}

	switch ConfirmationState(result.State) {
	case StatePending:
		return Confirmation{State: StatePending}, nil
	case StateConfirmed:
		ref := result.Ref
		if ref == "" {
			ref = handle.Ref
		}
		return Confirmation{State: StateConfirmed, Ref: ref}, nil
	case StateFailed:
		return Confirmation{State: StateFailed, Reason: result.Reason}, nil
	default:
		return Confirmation{}, errors.Wrap(ErrBackendUnavailable, fmt.Sprintf("unknown confirmation state %q", result.State))
	}
}
