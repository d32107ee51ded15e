package paygate

import "time"

// AttemptStatus is the status of a PurchaseAttempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptPurchased AttemptStatus = "purchased"
	AttemptFailed    AttemptStatus = "failed"
	AttemptRestored  AttemptStatus = "restored"
)

// PurchaseAttempt is one user-initiated transaction, from payment submission
// until the store reports a terminal state for it.
type PurchaseAttempt struct {
	ID      string
	Product ProductDescriptor
	Status  AttemptStatus
	// Reason is set when Status is AttemptFailed.
	Reason string
	// Handle is the store transaction bound to this attempt, once known.
	Handle      string
	StartedAt   time.Time
	CompletedAt time.Time
}

func attemptStatusFor(s TransactionState) AttemptStatus {
	switch s {
	case TransactionPurchased:
		return AttemptPurchased
	case TransactionRestored:
		return AttemptRestored
	case TransactionFailed:
		return AttemptFailed
	}
	return AttemptPending
}
