package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrBidNotFound is returned when a bid cannot be found in the store
	ErrBidNotFound = errors.New("bid not found")

	// ErrOrderNotFound is returned when an order cannot be found in the store
	ErrOrderNotFound = errors.New("order not found")

	// ErrDisputeNotFound is returned when a job has no matching dispute
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrPaymentRequestNotFound is returned when a payment request cannot be found
	ErrPaymentRequestNotFound = errors.New("payment request not found")

	// ErrBatchNotFound is returned when a payment batch cannot be found
	ErrBatchNotFound = errors.New("payment batch not found")

	// ErrBidMismatch is returned when accepting a bid that belongs to a
	// different job. This is a caller error, never a retry condition.
	ErrBidMismatch = errors.New("bid does not belong to this job")

	// ErrRefundFailed is returned when the payment processor could not
	// refund the customer payment during unaccept.
	ErrRefundFailed = errors.New("customer payment refund failed")

	// ErrUnauthorizedResolver is returned when a dispute resolution is
	// attempted by a user other than the one who opened it.
	ErrUnauthorizedResolver = errors.New("dispute can only be resolved by the user that opened it")

	// ErrNotBatchable is returned when assigning a batch to a payment
	// request that is not approved or already sits in a closed batch.
	ErrNotBatchable = errors.New("payment request cannot be batched")
)

// NotPayableError reports a job/order reference that failed the
// aggregation precondition. Nothing is persisted when it is returned.
type NotPayableError struct {
	Ref string
}

func (e *NotPayableError) Error() string {
	return fmt.Sprintf("referenced job %s is not contractor payable", e.Ref)
}
