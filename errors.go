package paygate

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when the store has no descriptor for a product id.
	ErrProductNotFound = errors.New("product not found")
	// ErrPurchaseInFlight is returned when a purchase for the product is already pending.
	ErrPurchaseInFlight = errors.New("purchase already in progress")
	// ErrPurchaseThrottled is returned when the purchase trigger fires faster than allowed.
	ErrPurchaseThrottled = errors.New("purchase trigger throttled")
	// ErrDuplicateFinalization marks a transaction handle that was already finalized.
	// It is never surfaced to the user.
	ErrDuplicateFinalization = errors.New("transaction already finalized")
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrControllerClosed is returned when a purchase is requested after Shutdown.
	ErrControllerClosed = errors.New("controller is shut down")
)

// ProductResolutionError means the requested product could not be resolved,
// either because the store does not know it or because the store is unreachable.
// No PurchaseAttempt exists when this error is reported.
type ProductResolutionError struct {
	ProductID string
	Err       error
}

func (e *ProductResolutionError) Error() string {
	return fmt.Sprintf("resolve product %q: %v", e.ProductID, e.Err)
}

func (e *ProductResolutionError) Unwrap() error {
	return e.Err
}

// PurchaseError means the store rejected the payment, the user cancelled it,
// or the payment could not be submitted.
type PurchaseError struct {
	ProductID string
	Reason    string
	Err       error
}

func (e *PurchaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purchase %q failed: %s: %v", e.ProductID, e.Reason, e.Err)
	}
	return fmt.Sprintf("purchase %q failed: %s", e.ProductID, e.Reason)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

// UserMessage renders err as the one-line text shown in the alert dialog.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var resolution *ProductResolutionError
	if errors.As(err, &resolution) {
		if errors.Is(resolution.Err, ErrProductNotFound) {
			return "This subscription is not available right now."
		}
		return "Could not reach the store. Please try again."
	}

	var purchase *PurchaseError
	if errors.As(err, &purchase) {
		return purchase.Reason
	}

	return err.Error()
}
