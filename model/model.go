package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with a module name,
// e.g. "pay_9f0c...". The prefix makes identifiers self-describing in
// logs and API payloads.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// IdempotencyToken derives a stable token from the intent's identity
// fields. The token is passed to the settlement backend on every submit
// so a resubmission after an ambiguous crash is recognised as the same
// logical operation and cannot double-spend.
func (intent *PaymentIntent) IdempotencyToken() string {
	data := fmt.Sprintf("%s|%s|%s|%s", intent.IntentID, intent.Sender, intent.Recipient, intent.Amount.String())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
