package domain

import "context"

// Store is the durable record store the lifecycle engine runs against.
//
// WithinTx opens one atomic transaction scope: every store call made
// with the context it passes to fn joins that transaction, and the
// scope commits only if fn returns nil. Any error (or panic) rolls the
// whole scope back. Nested WithinTx calls join the ambient transaction
// instead of opening a new one.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetJob(ctx context.Context, jobID string) (*Job, error)
	SaveJob(ctx context.Context, job *Job) error
	JobsInState(ctx context.Context, state int) ([]Job, error)

	GetBid(ctx context.Context, bidID string) (*Bid, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	CreateComment(ctx context.Context, comment *Comment) error

	CreateDispute(ctx context.Context, dispute *Dispute) error
	SaveDispute(ctx context.Context, dispute *Dispute) error
	// DisputesForJob returns the job's disputes ordered by creation
	// time, oldest first.
	DisputesForJob(ctx context.Context, jobID string) ([]Dispute, error)
	// OpenDisputeForJob returns the currently open dispute, or
	// ErrDisputeNotFound if none is open.
	OpenDisputeForJob(ctx context.Context, jobID string) (*Dispute, error)

	CreatePaymentRequest(ctx context.Context, pr *PaymentRequest) error
	SavePaymentRequest(ctx context.Context, pr *PaymentRequest) error
	GetPaymentRequest(ctx context.Context, id string) (*PaymentRequest, error)
	// GetPaymentRequestByItemID looks a request up by its unique
	// sender item id, returning ErrPaymentRequestNotFound on a miss.
	GetPaymentRequestByItemID(ctx context.Context, itemID string) (*PaymentRequest, error)
	PaymentRequestsInState(ctx context.Context, state int) ([]PaymentRequest, error)

	AttachJobToPaymentRequest(ctx context.Context, paymentRequestID, jobID string) error
	AttachOrderToPaymentRequest(ctx context.Context, paymentRequestID, orderID string) error

	GetBatch(ctx context.Context, batchID string) (*PaymentBatch, error)
}
