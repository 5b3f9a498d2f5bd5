package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

// processCommand executes a single lifecycle command.
func (w *Worker) processCommand(ctx context.Context, cmd *Command) error {
	w.logger.Info("Processing command",
		slog.String("type", cmd.Type),
		slog.String("worker_id", w.workerID),
	)

	switch cmd.Type {
	case CommandAutoApprove:
		return w.processAutoApprove(ctx, cmd)
	case CommandPayoutStatus:
		return w.processPayoutStatus(ctx, cmd)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// processAutoApprove fires automated_approve on a worked job. A job
// that already left worked is treated as done, not an error: the
// customer beat the automation to it.
func (w *Worker) processAutoApprove(ctx context.Context, cmd *Command) error {
	job, err := w.store.GetJob(ctx, cmd.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.State != domain.JobStateWorked {
		w.logger.Info("Job no longer worked, skipping automated approval",
			slog.String("job_id", job.ID),
			slog.Int("state", job.State),
		)
		return nil
	}

	return w.jobs.AutomatedApprove(ctx, job)
}

// processPayoutStatus refreshes a payment request's payout status from
// the processor.
func (w *Worker) processPayoutStatus(ctx context.Context, cmd *Command) error {
	pr, err := w.store.GetPaymentRequest(ctx, cmd.PaymentRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentRequestNotFound) {
			return err
		}
		return NewRetryableError(fmt.Errorf("failed to load payment request: %w", err))
	}

	if pr.TerminalPaymentState() && pr.PaymentStatus != nil {
		w.logger.Debug("Payout item already terminal, skipping",
			slog.String("payment_request_id", pr.ID),
			slog.String("status", *pr.PaymentStatus),
		)
		return nil
	}

	return w.paymentRequests.UpdatePaymentStatus(ctx, pr)
}
