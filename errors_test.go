package paygate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", &ProductResolutionError{ProductID: "sub-weekly", Err: ErrProductNotFound}, "This subscription is not available right now."},
		{"unreachable", &ProductResolutionError{ProductID: "sub-weekly", Err: errors.New("dial tcp: timeout")}, "Could not reach the store. Please try again."},
		{"purchase", &PurchaseError{ProductID: "sub-weekly", Reason: "card declined"}, "card declined"},
		{"wrapped purchase", fmt.Errorf("start: %w", &PurchaseError{Reason: "cancelled"}), "cancelled"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("offline")

	err := error(&PurchaseError{ProductID: "sub-weekly", Reason: "Could not submit", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "sub-weekly")

	err = &ProductResolutionError{ProductID: "sub-weekly", Err: ErrProductNotFound}
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Contains(t, err.Error(), "product not found")
}
