package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/statemachine"
)

// Payment request lifecycle events.
const (
	EventPaymentApprove   = "approve"
	EventPaymentUnapprove = "unapprove"
	EventPaymentInitiate  = "initiate"
	EventPaymentPay       = "pay"
	EventPaymentErr       = "payment_err"
)

// PaymentConfig holds the collaborators a PaymentRequestLifecycle needs.
type PaymentConfig struct {
	Store     domain.Store
	Processor domain.PaymentProcessor
	Notifier  domain.Notifier
	Logger    *slog.Logger

	// StatusPollInterval gates how often UpdatePaymentStatus asks the
	// processor for a fresh item status per request.
	StatusPollInterval time.Duration
}

// PaymentRequestLifecycle drives contractor payment requests through
// their approval/payout state machine.
type PaymentRequestLifecycle struct {
	store        domain.Store
	processor    domain.PaymentProcessor
	notifier     domain.Notifier
	logger       *slog.Logger
	pollInterval time.Duration
	machine      *statemachine.Machine
}

// NewPaymentRequestLifecycle builds the payment request machine
// definition and wires its after hooks.
func NewPaymentRequestLifecycle(cfg *PaymentConfig) *PaymentRequestLifecycle {
	pl := &PaymentRequestLifecycle{
		store:        cfg.Store,
		processor:    cfg.Processor,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
		pollInterval: cfg.StatusPollInterval,
	}

	m := statemachine.New("payment_request")
	m.AddState("requested", domain.PaymentStateRequested)
	m.AddState("approved", domain.PaymentStateApproved)
	m.AddState("pending", domain.PaymentStatePending)
	m.AddState("paid", domain.PaymentStatePaid)
	m.AddState("payment_erred", domain.PaymentStatePaymentErred)
	m.SetInitial("requested")

	m.AddTransition(EventPaymentApprove, []string{"requested", "payment_erred"}, "approved")
	m.AddTransition(EventPaymentUnapprove, []string{"approved"}, "requested")
	m.AddTransition(EventPaymentInitiate, []string{"requested", "approved", "pending", "payment_erred"}, "pending")
	m.AddTransition(EventPaymentPay, []string{"pending"}, "paid")
	m.AddTransition(EventPaymentErr, []string{"approved", "pending"}, "payment_erred")

	m.WithPersist(func(ctx context.Context, e statemachine.Stateful) error {
		return pl.store.SavePaymentRequest(ctx, e.(*domain.PaymentRequest))
	})

	m.AfterEvent(EventPaymentApprove, pl.afterApprove)
	m.AfterEvent(EventPaymentUnapprove, pl.afterUnapprove)
	m.AfterEvent(EventPaymentPay, pl.afterPay)

	pl.machine = m
	return pl
}

// Machine exposes the machine definition for introspection.
func (pl *PaymentRequestLifecycle) Machine() *statemachine.Machine { return pl.machine }

// afterApprove stamps the approval and releases the request from any
// batch; re-entering approved always clears paid_at and the batch
// reference so the request can be re-batched.
func (pl *PaymentRequestLifecycle) afterApprove(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	pr := e.(*domain.PaymentRequest)
	now := time.Now()
	pr.ApprovedAt = &now
	pr.PaidAt = nil
	pr.BatchID = nil
	return pl.store.SavePaymentRequest(ctx, pr)
}

func (pl *PaymentRequestLifecycle) afterUnapprove(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	pr := e.(*domain.PaymentRequest)
	pr.ApprovedAt = nil
	return pl.store.SavePaymentRequest(ctx, pr)
}

func (pl *PaymentRequestLifecycle) afterPay(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	pr := e.(*domain.PaymentRequest)
	now := time.Now()
	pr.PaidAt = &now
	return pl.store.SavePaymentRequest(ctx, pr)
}

func (pl *PaymentRequestLifecycle) fire(ctx context.Context, pr *domain.PaymentRequest, event string) error {
	err := pl.store.WithinTx(ctx, func(ctx context.Context) error {
		_, err := pl.machine.Fire(ctx, pr, event, nil)
		return err
	})
	if err != nil {
		return err
	}

	pl.logger.Info("Payment request transition applied",
		slog.String("payment_request_id", pr.ID),
		slog.String("event", event),
		slog.Int("state", pr.State),
	)
	return nil
}

// Approve approves the request for payout.
func (pl *PaymentRequestLifecycle) Approve(ctx context.Context, pr *domain.PaymentRequest) error {
	return pl.fire(ctx, pr, EventPaymentApprove)
}

// Unapprove returns an approved request to requested.
func (pl *PaymentRequestLifecycle) Unapprove(ctx context.Context, pr *domain.PaymentRequest) error {
	return pl.fire(ctx, pr, EventPaymentUnapprove)
}

// Initiate marks the request as submitted to the payout mechanism.
func (pl *PaymentRequestLifecycle) Initiate(ctx context.Context, pr *domain.PaymentRequest) error {
	return pl.fire(ctx, pr, EventPaymentInitiate)
}

// Pay marks the request paid and notifies the contractor.
func (pl *PaymentRequestLifecycle) Pay(ctx context.Context, pr *domain.PaymentRequest) error {
	if err := pl.fire(ctx, pr, EventPaymentPay); err != nil {
		return err
	}
	pl.notifier.Notify(ctx, domain.Notification{
		Event:      "payment-sent",
		Recipient:  domain.RecipientContractor,
		EntityType: "payment_request",
		EntityID:   pr.ID,
	})
	return nil
}

// PaymentErr records a payout failure reported by the processor.
func (pl *PaymentRequestLifecycle) PaymentErr(ctx context.Context, pr *domain.PaymentRequest) error {
	if err := pl.fire(ctx, pr, EventPaymentErr); err != nil {
		return err
	}
	pl.notifier.Notify(ctx, domain.Notification{
		Event:      "payment-errored",
		Recipient:  domain.RecipientAdmin,
		EntityType: "payment_request",
		EntityID:   pr.ID,
	})
	return nil
}

// AssignBatch places an approved request into a payout batch. A
// request may only be batched while approved and while it is not
// already held by a closed batch.
func (pl *PaymentRequestLifecycle) AssignBatch(ctx context.Context, pr *domain.PaymentRequest, batchID string) error {
	if pr.State != domain.PaymentStateApproved {
		return fmt.Errorf("%w: state is %d", domain.ErrNotBatchable, pr.State)
	}
	if pr.BatchID != nil {
		current, err := pl.store.GetBatch(ctx, *pr.BatchID)
		if err != nil {
			return fmt.Errorf("failed to load current batch: %w", err)
		}
		if current.Closed() {
			return fmt.Errorf("%w: already in closed batch %s", domain.ErrNotBatchable, current.ID)
		}
	}

	return pl.store.WithinTx(ctx, func(ctx context.Context) error {
		pr.BatchID = &batchID
		return pl.store.SavePaymentRequest(ctx, pr)
	})
}

// UpdatePaymentStatus polls the processor for the request's payout
// item status and fires pay/payment_err when a terminal status comes
// back. Polling is gated to once per configured interval per request
// and only happens once the request's batch has been paid out.
func (pl *PaymentRequestLifecycle) UpdatePaymentStatus(ctx context.Context, pr *domain.PaymentRequest) error {
	if pr.PaymentStatusUpdatedAt != nil && time.Since(*pr.PaymentStatusUpdatedAt) < pl.pollInterval {
		return nil
	}
	now := time.Now()
	pr.PaymentStatusUpdatedAt = &now
	if err := pl.store.SavePaymentRequest(ctx, pr); err != nil {
		return fmt.Errorf("failed to stamp payment status poll: %w", err)
	}

	if pr.BatchID == nil {
		return nil
	}
	batch, err := pl.store.GetBatch(ctx, *pr.BatchID)
	if err != nil {
		return fmt.Errorf("failed to load payment batch: %w", err)
	}
	if !batch.Paid() {
		return nil
	}

	status, err := pl.processor.ItemStatus(ctx, pr)
	if err != nil {
		return fmt.Errorf("failed to fetch payout item status: %w", err)
	}

	pr.PaymentStatus = &status
	if err := pl.store.SavePaymentRequest(ctx, pr); err != nil {
		return fmt.Errorf("failed to save payout item status: %w", err)
	}

	switch {
	case status == domain.ItemStatusSuccess:
		if pr.State == domain.PaymentStatePaid {
			return nil
		}
		if pr.State != domain.PaymentStatePending {
			if err := pl.Initiate(ctx, pr); err != nil {
				return err
			}
		}
		return pl.Pay(ctx, pr)
	case domain.TerminalItemStatus(status):
		if pr.State != domain.PaymentStateApproved && pr.State != domain.PaymentStatePending {
			return nil
		}
		return pl.PaymentErr(ctx, pr)
	default:
		pl.logger.Debug("Payout item still in progress",
			slog.String("payment_request_id", pr.ID),
			slog.String("status", status),
		)
		return nil
	}
}
