// Package payments holds the payment-processor collaborator wiring.
// The real batch payout integration lives outside this service; the
// engine only needs the hook points RefundCustomerPayment and
// ItemStatus.
package payments

import (
	"context"
	"log/slog"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

// LoggingProcessor is a stand-in domain.PaymentProcessor used until
// the payout integration is wired in deployment. Refunds succeed and
// item statuses come back as still in progress, so no lifecycle
// transition fires off it.
type LoggingProcessor struct {
	logger *slog.Logger
}

var _ domain.PaymentProcessor = (*LoggingProcessor)(nil)

// NewLoggingProcessor creates the stand-in processor.
func NewLoggingProcessor(logger *slog.Logger) *LoggingProcessor {
	return &LoggingProcessor{logger: logger}
}

// RefundCustomerPayment logs and reports success.
func (p *LoggingProcessor) RefundCustomerPayment(ctx context.Context, job *domain.Job) error {
	p.logger.Info("Refund requested",
		slog.String("job_id", job.ID),
	)
	return nil
}

// ItemStatus logs and reports a non-terminal status.
func (p *LoggingProcessor) ItemStatus(ctx context.Context, pr *domain.PaymentRequest) (string, error) {
	p.logger.Info("Payout item status requested",
		slog.String("payment_request_id", pr.ID),
		slog.String("sender_item_id", pr.SenderItemID),
	)
	return "PENDING", nil
}
