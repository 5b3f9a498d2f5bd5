// Package lifecycle builds the concrete job and payment-request
// workflows on top of the state machine engine. Each public operation
// runs inside one transaction scope against the store and dispatches
// its notifications only after the scope has committed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/statemachine"
)

// Job lifecycle events.
const (
	EventList                = "list"
	EventAccept              = "accept"
	EventUnaccept            = "unaccept"
	EventWork                = "work"
	EventApprove             = "approve"
	EventAutomatedApprove    = "automated_approve"
	EventCancel              = "cancel"
	EventArbitrateComplete   = "arbitrate_complete"
	EventArbitrateIncomplete = "arbitrate_incomplete"
)

// Argument keys consumed by job lifecycle hooks.
const (
	ArgBid          = "bid"
	ArgCancelReason = "cancel_reason"
)

// JobConfig holds the collaborators a JobLifecycle needs.
type JobConfig struct {
	Store     domain.Store
	Processor domain.PaymentProcessor
	Notifier  domain.Notifier
	Logger    *slog.Logger

	// ContractorShare is the fraction of an accepted bid amount paid
	// out to the contractor.
	ContractorShare float64
}

// JobLifecycle drives jobs through the bid-request state machine.
type JobLifecycle struct {
	store     domain.Store
	processor domain.PaymentProcessor
	notifier  domain.Notifier
	logger    *slog.Logger
	share     float64
	machine   *statemachine.Machine
}

// NewJobLifecycle builds the job machine definition and wires its
// guards and after hooks.
func NewJobLifecycle(cfg *JobConfig) *JobLifecycle {
	jl := &JobLifecycle{
		store:     cfg.Store,
		processor: cfg.Processor,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		share:     cfg.ContractorShare,
	}

	m := statemachine.New("job")
	m.AddState("drafted", domain.JobStateDrafted)
	m.AddState("created", domain.JobStateCreated)
	m.AddState("accepted", domain.JobStateAccepted)
	m.AddState("worked", domain.JobStateWorked)
	m.AddState("approved", domain.JobStateApproved)
	m.AddState("payment_errored", domain.JobStatePaymentErrored)
	m.AddState("cancelled", domain.JobStateCancelled)
	m.AddState("arbitrated_completed", domain.JobStateArbitratedCompleted)
	m.AddState("arbitrated_incompleted", domain.JobStateArbitratedIncompleted)
	m.SetInitial("drafted")

	m.AddTransition(EventList, []string{"drafted"}, "created")
	m.AddTransition(EventAccept, []string{"created"}, "accepted")
	m.AddTransition(EventUnaccept, []string{"accepted"}, "created")
	m.AddTransition(EventWork, []string{"accepted"}, "worked")
	m.AddTransition(EventApprove, []string{"worked"}, "approved")
	m.AddTransition(EventAutomatedApprove, []string{"worked"}, "approved")
	m.AddTransition(EventCancel, []string{"created", "accepted", "worked"}, "cancelled")
	m.AddTransition(EventArbitrateComplete, []string{"accepted", "worked"}, "arbitrated_completed")
	m.AddTransition(EventArbitrateIncomplete, []string{"accepted", "worked"}, "arbitrated_incompleted")

	m.WithPersist(func(ctx context.Context, e statemachine.Stateful) error {
		return jl.store.SaveJob(ctx, e.(*domain.Job))
	})

	m.BeforeEvent(EventAccept, jl.guardAccept, statemachine.Requires(ArgBid))
	m.AfterEvent(EventAccept, jl.afterAccept)
	m.BeforeEvent(EventUnaccept, jl.guardUnaccept)
	m.AfterEvent(EventWork, jl.afterWork)
	m.AfterEvent(EventApprove, jl.afterApprove)
	m.AfterEvent(EventAutomatedApprove, jl.afterApprove)
	m.AfterEvent(EventCancel, jl.afterCancel)

	jl.machine = m
	return jl
}

// Machine exposes the machine definition for introspection (state
// enumerations, selection scopes, reporting).
func (jl *JobLifecycle) Machine() *statemachine.Machine { return jl.machine }

// guardAccept verifies the supplied bid belongs to this job and
// assigns the contractor and money columns from it.
func (jl *JobLifecycle) guardAccept(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	bid, ok := tr.Args[ArgBid].(*domain.Bid)
	if !ok {
		return fmt.Errorf("argument %q is not a bid", ArgBid)
	}

	if bid.JobID != job.ID {
		return fmt.Errorf("%w: bid %s is for job %s", domain.ErrBidMismatch, bid.ID, bid.JobID)
	}

	contractorID := bid.ContractorID
	totalCost := bid.AmountCents
	payment := jl.contractorPaymentAmount(bid.AmountCents)

	job.ContractorID = &contractorID
	job.TotalCostCents = &totalCost
	job.ContractorPaymentCents = &payment
	return nil
}

func (jl *JobLifecycle) afterAccept(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	now := time.Now()
	job.AcceptedAt = &now
	return jl.store.SaveJob(ctx, job)
}

// guardUnaccept refunds the customer payment before the job returns to
// created. The refund is attempted once: a job that already refunded
// passes straight through. On refund failure the transition is blocked
// and the caller records the error marker.
func (jl *JobLifecycle) guardUnaccept(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	if job.Refunded {
		return nil
	}

	if err := jl.processor.RefundCustomerPayment(ctx, job); err != nil {
		jl.logger.Error("Customer payment refund failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}

	job.Refunded = true
	if job.OrderID != nil {
		order, err := jl.store.GetOrder(ctx, *job.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load originating order: %w", err)
		}
		job.TotalCostCents = order.TotalCostCents
		job.ContractorPaymentCents = order.ContractorPaymentCents
	} else {
		job.TotalCostCents = nil
		job.ContractorPaymentCents = nil
	}
	job.ContractorID = nil
	return nil
}

func (jl *JobLifecycle) afterWork(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	now := time.Now()
	job.ReportedAt = &now
	return jl.store.SaveJob(ctx, job)
}

func (jl *JobLifecycle) afterApprove(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	now := time.Now()
	job.ApprovedAt = &now
	return jl.store.SaveJob(ctx, job)
}

// afterCancel persists the cancel reason when one was supplied; an
// absent reason leaves the stored reason unchanged.
func (jl *JobLifecycle) afterCancel(ctx context.Context, e statemachine.Stateful, tr statemachine.Transition) error {
	job := e.(*domain.Job)
	reason, ok := tr.Args[ArgCancelReason].(string)
	if !ok || reason == "" {
		return nil
	}
	job.CancelReason = &reason
	return jl.store.SaveJob(ctx, job)
}

// contractorPaymentAmount computes the contractor's cut of a bid.
func (jl *JobLifecycle) contractorPaymentAmount(amountCents int64) int64 {
	return int64(float64(amountCents) * jl.share)
}

// fire runs one transition inside its own transaction scope.
func (jl *JobLifecycle) fire(ctx context.Context, job *domain.Job, event string, args statemachine.Args) error {
	err := jl.store.WithinTx(ctx, func(ctx context.Context) error {
		_, err := jl.machine.Fire(ctx, job, event, args)
		return err
	})
	if err != nil {
		return err
	}

	jl.logger.Info("Job transition applied",
		slog.String("job_id", job.ID),
		slog.String("event", event),
		slog.Int("state", job.State),
	)
	return nil
}

// List opens the job for bidding.
func (jl *JobLifecycle) List(ctx context.Context, job *domain.Job) error {
	if err := jl.fire(ctx, job, EventList, nil); err != nil {
		return err
	}
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-listed",
		Recipient:  domain.RecipientCustomer,
		EntityType: "job",
		EntityID:   job.ID,
	})
	return nil
}

// Accept accepts the given bid on the job.
func (jl *JobLifecycle) Accept(ctx context.Context, job *domain.Job, bid *domain.Bid) error {
	if err := jl.fire(ctx, job, EventAccept, statemachine.Args{ArgBid: bid}); err != nil {
		return err
	}
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-accepted",
		Recipient:  domain.RecipientContractor,
		EntityType: "job",
		EntityID:   job.ID,
	})
	return nil
}

// Unaccept returns an accepted job to created, refunding the customer
// payment first. A refund failure blocks the transition; the job keeps
// its state and carries a refund-error marker for admin follow-up.
func (jl *JobLifecycle) Unaccept(ctx context.Context, job *domain.Job) error {
	err := jl.fire(ctx, job, EventUnaccept, nil)
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrRefundFailed) {
		job.RefundErrored = true
		if saveErr := jl.store.SaveJob(ctx, job); saveErr != nil {
			jl.logger.Error("Failed to record refund error marker",
				slog.String("job_id", job.ID),
				slog.String("error", saveErr.Error()),
			)
		}
		jl.notifier.Notify(ctx, domain.Notification{
			Event:      "refund-errored",
			Recipient:  domain.RecipientAdmin,
			EntityType: "job",
			EntityID:   job.ID,
		})
	}
	return err
}

// Work marks the contractor's work as completed.
func (jl *JobLifecycle) Work(ctx context.Context, job *domain.Job) error {
	if err := jl.fire(ctx, job, EventWork, nil); err != nil {
		return err
	}
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-worked",
		Recipient:  domain.RecipientCustomer,
		EntityType: "job",
		EntityID:   job.ID,
	})
	return nil
}

// Approve records the customer's approval of completed work.
func (jl *JobLifecycle) Approve(ctx context.Context, job *domain.Job) error {
	if err := jl.fire(ctx, job, EventApprove, nil); err != nil {
		return err
	}
	jl.notifyApproved(ctx, job)
	return nil
}

// AutomatedApprove approves completed work on behalf of the system,
// keeping a distinct trigger source for the audit trail.
func (jl *JobLifecycle) AutomatedApprove(ctx context.Context, job *domain.Job) error {
	if err := jl.fire(ctx, job, EventAutomatedApprove, nil); err != nil {
		return err
	}
	jl.logger.Info("Job approved automatically", slog.String("job_id", job.ID))
	jl.notifyApproved(ctx, job)
	return nil
}

func (jl *JobLifecycle) notifyApproved(ctx context.Context, job *domain.Job) {
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-approved",
		Recipient:  domain.RecipientContractor,
		EntityType: "job",
		EntityID:   job.ID,
	})
}

// Cancel cancels the job, persisting the reason when one is given.
func (jl *JobLifecycle) Cancel(ctx context.Context, job *domain.Job, reason string) error {
	args := statemachine.Args{}
	if reason != "" {
		args[ArgCancelReason] = reason
	}
	if err := jl.fire(ctx, job, EventCancel, args); err != nil {
		return err
	}
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-cancelled",
		Recipient:  domain.RecipientContractor,
		EntityType: "job",
		EntityID:   job.ID,
	})
	return nil
}

// ArbitrateComplete closes the job crediting the contractor with a
// completion.
func (jl *JobLifecycle) ArbitrateComplete(ctx context.Context, job *domain.Job) error {
	return jl.arbitrate(ctx, job, EventArbitrateComplete)
}

// ArbitrateIncomplete closes the job docking the contractor an
// incompletion.
func (jl *JobLifecycle) ArbitrateIncomplete(ctx context.Context, job *domain.Job) error {
	return jl.arbitrate(ctx, job, EventArbitrateIncomplete)
}

func (jl *JobLifecycle) arbitrate(ctx context.Context, job *domain.Job, event string) error {
	if err := jl.fire(ctx, job, event, nil); err != nil {
		return err
	}
	jl.notifier.Notify(ctx, domain.Notification{
		Event:      "job-arbitrated",
		Recipient:  domain.RecipientAdmin,
		EntityType: "job",
		EntityID:   job.ID,
	})
	return nil
}

// Fire drives an arbitrary event through the job machine inside the
// ambient transaction scope. Used by workflows that need to trigger a
// transition as part of their own atomic operation.
func (jl *JobLifecycle) Fire(ctx context.Context, job *domain.Job, event string, args statemachine.Args) error {
	_, err := jl.machine.Fire(ctx, job, event, args)
	return err
}
