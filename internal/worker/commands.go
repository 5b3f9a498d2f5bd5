package worker

import "errors"

// Command types the worker consumes.
const (
	CommandAutoApprove  = "auto_approve"
	CommandPayoutStatus = "payout_status"
)

// Command is a lifecycle command message from RabbitMQ.
type Command struct {
	Type             string `json:"type"`
	JobID            string `json:"job_id,omitempty"`
	PaymentRequestID string `json:"payment_request_id,omitempty"`
	DeliveryTag      uint64 `json:"-"`
}

var (
	// ErrUnknownCommand is returned for command types the worker does
	// not handle
	ErrUnknownCommand = errors.New("unknown command type")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
