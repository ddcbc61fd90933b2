package types

import "time"

// QueueItem is one slot in the per-scope ordered transaction queue.
type QueueItem struct {
	Seq     int64 `json:"seq"`
	Scope   Scope `json:"scope"`
	Tx      Tx    `json:"tx"`
	Claimed bool  `json:"claimed"`

	// ClaimToken and ClaimExpiresAt are non-empty only while Claimed.
	ClaimToken    string    `json:"claimToken,omitempty"`
	ClaimExpiresAt time.Time `json:"claimExpiresAt,omitempty"`

	// JobID is set when the item was synthesized by the codex bridge from
	// an AI response, for the best-effort transactionId -> jobId map.
	JobID string `json:"jobId,omitempty"`
}

// Claim is the reservation handed to a waiter that received a QueueItem.
// It is destroyed on a matching receipt, a scope reset, or expiry.
type Claim struct {
	ClaimToken    string    `json:"claimToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Seq           int64     `json:"seq"`
	TransactionID string    `json:"transactionId"`
	Scope         Scope     `json:"scope"`
}

// Receipt is the host's report of applying a claimed transaction.
type Receipt struct {
	TransactionID string         `json:"transactionId"`
	ClaimToken    string         `json:"claimToken"`
	Applied       []string       `json:"applied,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	Notes         []string       `json:"notes,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// LastReceipt records the most recent receipt per scope for status and
// inspection endpoints, with the time it was recorded.
type LastReceipt struct {
	Receipt   Receipt   `json:"receipt"`
	RecordedAt time.Time `json:"recordedAt"`
}
