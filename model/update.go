package model

import "time"

// StatusUpdate describes one lifecycle transition to apply to an
// intent. Only the fields relevant to the target status are set:
// SubmissionRef on SUBMITTED, SettlementRef and Reason on terminal
// statuses.
type StatusUpdate struct {
	Status        string
	Reason        string
	SubmissionRef string
	SettlementRef string
	Timestamp     time.Time
}
