package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/statemachine"
	"github.com/tuanbq/marketplace-be/internal/engine/storage/memory"
)

func seedPaymentRequest(f *paymentFixture, state int) *domain.PaymentRequest {
	pr := &domain.PaymentRequest{
		ID:           "pr-1",
		ContractorID: "cont-1",
		State:        state,
		AmountCents:  4000,
		SenderItemID: "CPRdeadbeef",
	}
	f.store.SeedPaymentRequest(pr)
	return pr
}

func TestPaymentApprove(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStateRequested)

	err := f.lifecycle.Approve(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateApproved, pr.State)
	assert.NotNil(t, pr.ApprovedAt)
	assert.Nil(t, pr.BatchID)
	assert.Nil(t, pr.PaidAt)
}

func TestPaymentApproveClearsBatchAndPaidAt(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStatePaymentErred)
	batchID := "batch-1"
	paidAt := time.Now().Add(-time.Hour)
	pr.BatchID = &batchID
	pr.PaidAt = &paidAt
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.Approve(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateApproved, pr.State)
	assert.Nil(t, pr.BatchID, "re-approving releases the request from its batch")
	assert.Nil(t, pr.PaidAt)
}

func TestPaymentUnapprove(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStateApproved)
	now := time.Now()
	pr.ApprovedAt = &now
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.Unapprove(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateRequested, pr.State)
	assert.Nil(t, pr.ApprovedAt)
}

func TestPaymentInitiate(t *testing.T) {
	tests := []struct {
		name  string
		state int
	}{
		{name: "from requested", state: domain.PaymentStateRequested},
		{name: "from approved", state: domain.PaymentStateApproved},
		{name: "from pending", state: domain.PaymentStatePending},
		{name: "from payment_erred", state: domain.PaymentStatePaymentErred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture()
			pr := seedPaymentRequest(f, tt.state)

			err := f.lifecycle.Initiate(context.Background(), pr)
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentStatePending, pr.State)
		})
	}
}

func TestPaymentInitiateFromPaid(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStatePaid)

	err := f.lifecycle.Initiate(context.Background(), pr)

	var illegal *statemachine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, domain.PaymentStatePaid, pr.State)
}

func TestPaymentPay(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStatePending)

	err := f.lifecycle.Pay(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatePaid, pr.State)
	assert.NotNil(t, pr.PaidAt)
	assert.Equal(t, []string{"payment-sent"}, f.notifier.events())
	n, _ := f.notifier.last()
	assert.Equal(t, domain.RecipientContractor, n.Recipient)
}

func TestPaymentErr(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStatePending)

	err := f.lifecycle.PaymentErr(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatePaymentErred, pr.State)
	assert.Equal(t, []string{"payment-errored"}, f.notifier.events())
	n, _ := f.notifier.last()
	assert.Equal(t, domain.RecipientAdmin, n.Recipient)
}

func TestAssignBatch(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStateApproved)

	err := f.lifecycle.AssignBatch(context.Background(), pr, "batch-1")
	require.NoError(t, err)

	require.NotNil(t, pr.BatchID)
	assert.Equal(t, "batch-1", *pr.BatchID)

	stored, err := f.store.GetPaymentRequest(context.Background(), pr.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BatchID)
	assert.Equal(t, "batch-1", *stored.BatchID)
}

func TestAssignBatchRequiresApproved(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStateRequested)

	err := f.lifecycle.AssignBatch(context.Background(), pr, "batch-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotBatchable)
	assert.Nil(t, pr.BatchID)
}

func TestAssignBatchRejectsClosedBatch(t *testing.T) {
	f := newPaymentFixture()
	closedAt := time.Now().Add(-time.Hour)
	f.store.SeedBatch(&domain.PaymentBatch{ID: "batch-old", ClosedAt: &closedAt})

	pr := seedPaymentRequest(f, domain.PaymentStateApproved)
	oldBatch := "batch-old"
	pr.BatchID = &oldBatch
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.AssignBatch(context.Background(), pr, "batch-new")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotBatchable)
	assert.Equal(t, "batch-old", *pr.BatchID)
}

func TestAssignBatchReassignsOpenBatch(t *testing.T) {
	f := newPaymentFixture()
	f.store.SeedBatch(&domain.PaymentBatch{ID: "batch-open"})

	pr := seedPaymentRequest(f, domain.PaymentStateApproved)
	openBatch := "batch-open"
	pr.BatchID = &openBatch
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.AssignBatch(context.Background(), pr, "batch-new")
	require.NoError(t, err)
	assert.Equal(t, "batch-new", *pr.BatchID)
}

func seedPaidBatch(f *paymentFixture, id string) {
	paidAt := time.Now().Add(-time.Hour)
	f.store.SeedBatch(&domain.PaymentBatch{ID: id, PaidAt: &paidAt})
}

func TestUpdatePaymentStatusSuccess(t *testing.T) {
	f := newPaymentFixture()
	f.processor.itemStatus = domain.ItemStatusSuccess
	seedPaidBatch(f, "batch-1")

	pr := seedPaymentRequest(f, domain.PaymentStateApproved)
	batchID := "batch-1"
	pr.BatchID = &batchID
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.UpdatePaymentStatus(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatePaid, pr.State)
	require.NotNil(t, pr.PaymentStatus)
	assert.Equal(t, domain.ItemStatusSuccess, *pr.PaymentStatus)
	assert.NotNil(t, pr.PaymentStatusUpdatedAt)
	assert.NotNil(t, pr.PaidAt)
	assert.Equal(t, []string{"payment-sent"}, f.notifier.events())
}

func TestUpdatePaymentStatusFailure(t *testing.T) {
	failureStatuses := []string{
		domain.ItemStatusDenied,
		domain.ItemStatusFailed,
		domain.ItemStatusBlocked,
		domain.ItemStatusReturned,
		domain.ItemStatusRefunded,
	}

	for _, status := range failureStatuses {
		t.Run(status, func(t *testing.T) {
			f := newPaymentFixture()
			f.processor.itemStatus = status
			seedPaidBatch(f, "batch-1")

			pr := seedPaymentRequest(f, domain.PaymentStatePending)
			batchID := "batch-1"
			pr.BatchID = &batchID
			f.store.SeedPaymentRequest(pr)

			err := f.lifecycle.UpdatePaymentStatus(context.Background(), pr)
			require.NoError(t, err)

			assert.Equal(t, domain.PaymentStatePaymentErred, pr.State)
			require.NotNil(t, pr.PaymentStatus)
			assert.Equal(t, status, *pr.PaymentStatus)
			assert.Equal(t, []string{"payment-errored"}, f.notifier.events())
		})
	}
}

func TestUpdatePaymentStatusNonTerminal(t *testing.T) {
	f := newPaymentFixture()
	f.processor.itemStatus = "PENDING"
	seedPaidBatch(f, "batch-1")

	pr := seedPaymentRequest(f, domain.PaymentStatePending)
	batchID := "batch-1"
	pr.BatchID = &batchID
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.UpdatePaymentStatus(context.Background(), pr)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatePending, pr.State, "non-terminal status leaves the state alone")
	require.NotNil(t, pr.PaymentStatus)
	assert.Equal(t, "PENDING", *pr.PaymentStatus)
	assert.Empty(t, f.notifier.events())
}

func TestUpdatePaymentStatusSkipsUnbatched(t *testing.T) {
	f := newPaymentFixture()
	pr := seedPaymentRequest(f, domain.PaymentStateApproved)

	err := f.lifecycle.UpdatePaymentStatus(context.Background(), pr)
	require.NoError(t, err)

	assert.Zero(t, f.processor.statusCalls, "no processor call without a batch")
	assert.NotNil(t, pr.PaymentStatusUpdatedAt, "the poll attempt is still stamped")
}

func TestUpdatePaymentStatusSkipsUnpaidBatch(t *testing.T) {
	f := newPaymentFixture()
	f.store.SeedBatch(&domain.PaymentBatch{ID: "batch-1"})

	pr := seedPaymentRequest(f, domain.PaymentStateApproved)
	batchID := "batch-1"
	pr.BatchID = &batchID
	f.store.SeedPaymentRequest(pr)

	err := f.lifecycle.UpdatePaymentStatus(context.Background(), pr)
	require.NoError(t, err)

	assert.Zero(t, f.processor.statusCalls, "polling waits for the batch payout")
	assert.Equal(t, domain.PaymentStateApproved, pr.State)
}

func TestUpdatePaymentStatusGatedByInterval(t *testing.T) {
	store := memory.NewStore()
	processor := &stubProcessor{itemStatus: domain.ItemStatusSuccess}
	pl := NewPaymentRequestLifecycle(&PaymentConfig{
		Store:              store,
		Processor:          processor,
		Notifier:           &recordingNotifier{},
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		StatusPollInterval: time.Hour,
	})

	recent := time.Now().Add(-time.Minute)
	pr := &domain.PaymentRequest{
		ID:                     "pr-1",
		ContractorID:           "cont-1",
		State:                  domain.PaymentStateApproved,
		SenderItemID:           "CPRdeadbeef",
		PaymentStatusUpdatedAt: &recent,
	}
	store.SeedPaymentRequest(pr)

	err := pl.UpdatePaymentStatus(context.Background(), pr)
	require.NoError(t, err)

	assert.Zero(t, processor.statusCalls, "a recent poll suppresses the next one")
	assert.Equal(t, recent.Unix(), pr.PaymentStatusUpdatedAt.Unix())
}

func TestPaymentMachineIntrospection(t *testing.T) {
	f := newPaymentFixture()
	m := f.lifecycle.Machine()

	assert.Equal(t, "requested", m.Initial().Name)
	assert.Equal(t, []string{"requested", "approved", "pending", "paid", "payment_erred"}, m.StateNames())

	opts := m.StateCollection()
	require.Len(t, opts, 5)
	assert.Equal(t, statemachine.StateOption{Label: "Payment Erred", Value: domain.PaymentStatePaymentErred}, opts[4])
}
