package domain

import "time"

// PaymentRequest state values. Persisted integers, never renumbered.
const (
	PaymentStateRequested    = 1
	PaymentStateApproved     = 2
	PaymentStatePending      = 3
	PaymentStatePaid         = 4
	PaymentStatePaymentErred = -1
)

// Payout item statuses reported by the external payment processor.
// Terminal statuses never change again, so polling can stop there.
const (
	ItemStatusSuccess  = "SUCCESS"
	ItemStatusDenied   = "DENIED"
	ItemStatusFailed   = "FAILED"
	ItemStatusBlocked  = "BLOCKED"
	ItemStatusReturned = "RETURNED"
	ItemStatusRefunded = "REFUNDED"
)

// ItemTerminalStatuses are the processor item statuses that end polling.
var ItemTerminalStatuses = []string{
	ItemStatusSuccess,
	ItemStatusDenied,
	ItemStatusFailed,
	ItemStatusBlocked,
	ItemStatusReturned,
	ItemStatusRefunded,
}

// TerminalItemStatus reports whether the given processor status is terminal.
func TerminalItemStatus(status string) bool {
	for _, s := range ItemTerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// PaymentRequest is an aggregated payment owed to a contractor, built
// from one or more payable jobs/orders. AmountCents always equals the
// sum of contractor payment amounts over the associated records at the
// moment of the last aggregation.
type PaymentRequest struct {
	ID                     string     `db:"payment_request_id"`
	ContractorID           string     `db:"contractor_id"`
	State                  int        `db:"state"`
	AmountCents            int64      `db:"amount_cents"`
	BatchID                *string    `db:"batch_id"`
	SenderItemID           string     `db:"sender_item_id"`
	PaymentStatus          *string    `db:"payment_status"`
	PaymentStatusUpdatedAt *time.Time `db:"payment_status_updated_at"`
	ApprovedAt             *time.Time `db:"approved_at"`
	PaidAt                 *time.Time `db:"paid_at"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// StateValue implements statemachine.Stateful.
func (p *PaymentRequest) StateValue() int { return p.State }

// SetStateValue implements statemachine.Stateful.
func (p *PaymentRequest) SetStateValue(v int) { p.State = v }

// TerminalPaymentState reports whether the request's last known
// processor status is terminal. A nil status needs no polling either.
func (p *PaymentRequest) TerminalPaymentState() bool {
	return p.PaymentStatus == nil || TerminalItemStatus(*p.PaymentStatus)
}

// PaymentBatch groups approved payment requests submitted to the
// external payout mechanism together.
type PaymentBatch struct {
	ID        string     `db:"batch_id"`
	PaidAt    *time.Time `db:"paid_at"`
	ClosedAt  *time.Time `db:"closed_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Paid reports whether the batch payout has been submitted.
func (b *PaymentBatch) Paid() bool { return b.PaidAt != nil }

// Closed reports whether the batch no longer accepts requests.
func (b *PaymentBatch) Closed() bool { return b.ClosedAt != nil }
