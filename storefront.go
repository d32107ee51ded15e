package paygate

import "context"

// Store is the platform purchase capability the Controller talks to.
// The user of the library is responsible for providing a concrete
// implementation of this interface, typically an adapter over the
// platform's in-app purchase API.
type Store interface {
	// Products looks up descriptors for the given identifiers.
	// Unknown identifiers are simply absent from the result.
	Products(ctx context.Context, ids []string) ([]ProductDescriptor, error)
	// SubmitPayment queues a payment for product. The outcome arrives later on Updates.
	SubmitPayment(ctx context.Context, product ProductDescriptor) error
	// Updates delivers batches of transaction updates, including transactions
	// left unfinished by a previous session.
	Updates() <-chan []Transaction
	// Finish acknowledges a terminal transaction so the store stops redelivering it.
	Finish(ctx context.Context, handle string) error
}

// ProductDescriptor describes one purchasable offering.
type ProductDescriptor struct {
	ID          string
	DisplayName string
	Description string
	Price       string
}

// TransactionState is the state of a store transaction.
type TransactionState string

const (
	// TransactionPurchasing means the payment sheet is still in progress.
	TransactionPurchasing TransactionState = "purchasing"
	// TransactionDeferred means the payment awaits an external approval.
	TransactionDeferred TransactionState = "deferred"
	// TransactionPurchased means the store charged the user.
	TransactionPurchased TransactionState = "purchased"
	// TransactionFailed means the store rejected the payment or the user cancelled.
	TransactionFailed TransactionState = "failed"
	// TransactionRestored means the store replayed a purchase from a previous session.
	TransactionRestored TransactionState = "restored"
)

// Terminal reports whether the state requires the transaction to be finished.
func (s TransactionState) Terminal() bool {
	switch s {
	case TransactionPurchased, TransactionFailed, TransactionRestored:
		return true
	}
	return false
}

// Transaction is a single update delivered by the store.
type Transaction struct {
	Handle    string
	ProductID string
	State     TransactionState
	// Err is set for TransactionFailed.
	Err error
}

// failureReason returns the message shown to the user for a failed transaction.
func (t Transaction) failureReason() string {
	if t.Err != nil {
		return t.Err.Error()
	}
	return "the purchase could not be completed"
}
