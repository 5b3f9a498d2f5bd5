package domain

import "context"

// Recipient roles for notification events.
const (
	RecipientCustomer   = "customer"
	RecipientContractor = "contractor"
	RecipientAdmin      = "admin"
)

// Notification is a named event dispatched to a recipient role with
// the entity it concerns.
type Notification struct {
	Event      string `json:"event"`
	Recipient  string `json:"recipient"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Notifier dispatches notifications fire-and-forget. Implementations
// log delivery failures and never propagate them; workflow operations
// call Notify only after their transaction has committed.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// PaymentProcessor is the external payment collaborator.
type PaymentProcessor interface {
	// RefundCustomerPayment refunds the customer payment held for the
	// job. A non-nil error means the refund did not happen.
	RefundCustomerPayment(ctx context.Context, job *Job) error

	// ItemStatus reports the processor-side payout status for the
	// request's sender item id.
	ItemStatus(ctx context.Context, pr *PaymentRequest) (string, error)
}
