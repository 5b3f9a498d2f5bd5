// Package aggregator builds contractor payment requests from sets of
// payable jobs and orders.
package aggregator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

// Job reference kinds accepted in "<kind>:<id>" form.
const (
	RefKindJob   = "Job"
	RefKindOrder = "Order"
)

// Aggregator validates job/order references and aggregates them into a
// single payment request.
type Aggregator struct {
	store  domain.Store
	logger *slog.Logger
}

// New creates an aggregator over the given store.
func New(store domain.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

type resolvedRef struct {
	kind         string
	id           string
	paymentCents int64
}

// Build creates a payment request for the contractor from the given
// references ("Job:<id>" or "Order:<id>", duplicates ignored).
//
// Every referenced record must belong to the contractor and be in a
// contractor-payable state; the first record failing that check fails
// the whole build with a NotPayableError and nothing is persisted.
// Otherwise the request is created inside one transaction: amount
// starts at zero, every record is associated, and the amount
// accumulates the records' contractor payment amounts.
func (a *Aggregator) Build(ctx context.Context, contractorID string, refs []string) (*domain.PaymentRequest, error) {
	resolved := make([]resolvedRef, 0, len(refs))
	seen := map[string]bool{}

	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		r, err := a.resolve(ctx, contractorID, ref)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, *r)
	}

	itemID, err := a.generateItemID(ctx)
	if err != nil {
		return nil, err
	}

	pr := &domain.PaymentRequest{
		ID:           uuid.New().String(),
		ContractorID: contractorID,
		State:        domain.PaymentStateRequested,
		SenderItemID: itemID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	err = a.store.WithinTx(ctx, func(ctx context.Context) error {
		pr.AmountCents = 0
		if err := a.store.CreatePaymentRequest(ctx, pr); err != nil {
			return fmt.Errorf("failed to create payment request: %w", err)
		}

		for _, r := range resolved {
			switch r.kind {
			case RefKindJob:
				if err := a.store.AttachJobToPaymentRequest(ctx, pr.ID, r.id); err != nil {
					return fmt.Errorf("failed to attach job %s: %w", r.id, err)
				}
			case RefKindOrder:
				if err := a.store.AttachOrderToPaymentRequest(ctx, pr.ID, r.id); err != nil {
					return fmt.Errorf("failed to attach order %s: %w", r.id, err)
				}
			}
			pr.AmountCents += r.paymentCents
		}

		return a.store.SavePaymentRequest(ctx, pr)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Payment request built",
		slog.String("payment_request_id", pr.ID),
		slog.String("contractor_id", contractorID),
		slog.Int64("amount_cents", pr.AmountCents),
		slog.Int("job_count", len(resolved)),
	)
	return pr, nil
}

// resolve loads the referenced record and verifies the aggregation
// preconditions: contractor ownership and a contractor-payable state.
func (a *Aggregator) resolve(ctx context.Context, contractorID, ref string) (*resolvedRef, error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, fmt.Errorf("malformed job reference %q", ref)
	}

	switch kind {
	case RefKindJob:
		job, err := a.store.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				return nil, &domain.NotPayableError{Ref: ref}
			}
			return nil, err
		}
		if !job.ContractorPayable() || job.ContractorID == nil || *job.ContractorID != contractorID ||
			job.ContractorPaymentCents == nil {
			return nil, &domain.NotPayableError{Ref: ref}
		}
		return &resolvedRef{kind: kind, id: id, paymentCents: *job.ContractorPaymentCents}, nil

	case RefKindOrder:
		order, err := a.store.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return nil, &domain.NotPayableError{Ref: ref}
			}
			return nil, err
		}
		if !order.ContractorPayable() || order.ContractorID == nil || *order.ContractorID != contractorID ||
			order.ContractorPaymentCents == nil {
			return nil, &domain.NotPayableError{Ref: ref}
		}
		return &resolvedRef{kind: kind, id: id, paymentCents: *order.ContractorPaymentCents}, nil

	default:
		return nil, fmt.Errorf("unknown job reference kind %q", kind)
	}
}

// generateItemID produces the unique external sender item id for a new
// payment request, retrying on collision. Collisions are vanishingly
// rare but the loop is deliberately unbounded rather than fixed-count.
func (a *Aggregator) generateItemID(ctx context.Context) (string, error) {
	for {
		buf := make([]byte, 10)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate item id: %w", err)
		}
		itemID := "CPR" + hex.EncodeToString(buf)

		_, err := a.store.GetPaymentRequestByItemID(ctx, itemID)
		if errors.Is(err, domain.ErrPaymentRequestNotFound) {
			return itemID, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check item id uniqueness: %w", err)
		}

		a.logger.Warn("Sender item id collision, regenerating",
			slog.String("item_id", itemID),
		)
	}
}
