package models

import "time"

// License grants a user permanent access to a sample. One row per
// (user, sample) pair; deleting a sample from the catalog does not
// retract the license.
type License struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SampleID     string    `json:"sample_id"`
	CreditsSpent int64     `json:"credits_spent"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditGrant is one entry in the append-only grant audit trail.
type CreditGrant struct {
	ID          string    `json:"id"`
	GrantorID   string    `json:"grantor_id"`
	RecipientID string    `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
