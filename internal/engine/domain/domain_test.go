package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobContractorPayable(t *testing.T) {
	tests := []struct {
		state   int
		payable bool
	}{
		{JobStateDrafted, false},
		{JobStateCreated, false},
		{JobStateAccepted, false},
		{JobStateWorked, false},
		{JobStateApproved, true},
		{JobStatePaymentErrored, false},
		{JobStateCancelled, false},
		{JobStateArbitratedCompleted, true},
		{JobStateArbitratedIncompleted, false},
	}

	for _, tt := range tests {
		job := &Job{State: tt.state}
		assert.Equal(t, tt.payable, job.ContractorPayable(), "state %d", tt.state)

		order := &Order{State: tt.state}
		assert.Equal(t, tt.payable, order.ContractorPayable(), "order state %d", tt.state)
	}
}

func TestTerminalItemStatus(t *testing.T) {
	for _, status := range ItemTerminalStatuses {
		assert.True(t, TerminalItemStatus(status), status)
	}
	assert.False(t, TerminalItemStatus("PENDING"))
	assert.False(t, TerminalItemStatus("UNCLAIMED"))
	assert.False(t, TerminalItemStatus(""))
}

func TestPaymentRequestTerminalPaymentState(t *testing.T) {
	pr := &PaymentRequest{}
	assert.True(t, pr.TerminalPaymentState(), "no status yet means nothing to poll")

	success := ItemStatusSuccess
	pr.PaymentStatus = &success
	assert.True(t, pr.TerminalPaymentState())

	pending := "PENDING"
	pr.PaymentStatus = &pending
	assert.False(t, pr.TerminalPaymentState())
}

func TestPaymentBatchFlags(t *testing.T) {
	batch := &PaymentBatch{}
	assert.False(t, batch.Paid())
	assert.False(t, batch.Closed())

	now := time.Now()
	batch.PaidAt = &now
	batch.ClosedAt = &now
	assert.True(t, batch.Paid())
	assert.True(t, batch.Closed())
}

func TestDisputeDuration(t *testing.T) {
	created := time.Now().Add(-10 * time.Hour)
	dispute := &Dispute{CreatedAt: created}

	assert.True(t, dispute.Opened())
	assert.Equal(t, 10*time.Hour, dispute.Duration(created.Add(10*time.Hour)))

	resolvedAt := created.Add(3 * time.Hour)
	dispute.ResolvedAt = &resolvedAt
	assert.False(t, dispute.Opened())
	assert.Equal(t, 3*time.Hour, dispute.Duration(time.Now()), "resolution freezes the duration")
}

func TestNotPayableError(t *testing.T) {
	err := &NotPayableError{Ref: "Job:job-1"}
	assert.Contains(t, err.Error(), "Job:job-1")
	assert.Contains(t, err.Error(), "not contractor payable")
}
