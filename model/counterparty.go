package model

// Counterparty is one entry of the read-only counterparty directory:
// a settlement-backend account mapped to a display name and a default
// spend category. The core consults it once at intent creation and
// never mutates it.
type Counterparty struct {
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}
