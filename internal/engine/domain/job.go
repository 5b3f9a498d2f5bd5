package domain

import "time"

// Job state values. The integers are persisted as-is, so they are part
// of the storage contract and must never be renumbered.
const (
	JobStateDrafted  = 0
	JobStateCreated  = 1
	JobStateAccepted = 2
	JobStateWorked   = 3
	JobStateApproved = 5

	JobStatePaymentErrored        = -1
	JobStateCancelled             = -2
	JobStateArbitratedCompleted   = -4
	JobStateArbitratedIncompleted = -5
)

// Job is a unit of contracted work (a bid request) moving through the
// job lifecycle. Contractor, total cost and payment amount are only
// set by accepting a bid and only cleared by unaccepting it.
type Job struct {
	ID                     string     `db:"job_id"`
	OrderID                *string    `db:"order_id"`
	CustomerID             string     `db:"customer_id"`
	ContractorID           *string    `db:"contractor_id"`
	State                  int        `db:"state"`
	TotalCostCents         *int64     `db:"total_cost_cents"`
	ContractorPaymentCents *int64     `db:"contractor_payment_cents"`
	CancelReason           *string    `db:"cancel_reason"`
	Refunded               bool       `db:"refunded"`
	RefundErrored          bool       `db:"refund_errored"`
	AcceptedAt             *time.Time `db:"accepted_at"`
	ReportedAt             *time.Time `db:"reported_at"`
	ApprovedAt             *time.Time `db:"approved_at"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// StateValue implements statemachine.Stateful.
func (j *Job) StateValue() int { return j.State }

// SetStateValue implements statemachine.Stateful.
func (j *Job) SetStateValue(v int) { j.State = v }

// ContractorPayable reports whether the job is in a state where the
// contractor can request payment for it.
func (j *Job) ContractorPayable() bool {
	return j.State == JobStateApproved || j.State == JobStateArbitratedCompleted
}

// Bid is a contractor's offer on a job. Accepting a bid assigns its
// contractor and amount to the job.
type Bid struct {
	ID           string    `db:"bid_id"`
	JobID        string    `db:"job_id"`
	ContractorID string    `db:"contractor_id"`
	AmountCents  int64     `db:"amount_cents"`
	CreatedAt    time.Time `db:"created_at"`
}

// Order is a recurring unit of work a job may originate from. It
// shares the job state encoding so the payable check is uniform.
type Order struct {
	ID                     string    `db:"order_id"`
	CustomerID             string    `db:"customer_id"`
	ContractorID           *string   `db:"contractor_id"`
	State                  int       `db:"state"`
	TotalCostCents         *int64    `db:"total_cost_cents"`
	ContractorPaymentCents *int64    `db:"contractor_payment_cents"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

// ContractorPayable reports whether the order can be paid out.
func (o *Order) ContractorPayable() bool {
	return o.State == JobStateApproved || o.State == JobStateArbitratedCompleted
}
