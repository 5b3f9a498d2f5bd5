// Package storage implements the engine's durable store on PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/shared/postgresql"
)

// Storage handles all database operations for the lifecycle engine.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

type txKey struct{}

// WithinTx runs fn inside one transaction scope. The transaction rides
// in the context, so every Storage call made with the context fn
// receives joins the same transaction. Nested calls join the ambient
// scope; commit and rollback stay with the outermost caller.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction",
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func txFrom(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// q returns the ambient transaction if one is in flight, the pool
// otherwise.
func (s *Storage) q(ctx context.Context) sqlx.ExtContext {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

// GetJob retrieves a job by its ID.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, order_id, customer_id, contractor_id, state,
		       total_cost_cents, contractor_payment_cents, cancel_reason,
		       refunded, refund_errored, accepted_at, reported_at,
		       approved_at, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := sqlx.GetContext(ctx, s.q(ctx), &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// SaveJob persists every mutable job column.
func (s *Storage) SaveJob(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET state = :state,
		    contractor_id = :contractor_id,
		    total_cost_cents = :total_cost_cents,
		    contractor_payment_cents = :contractor_payment_cents,
		    cancel_reason = :cancel_reason,
		    refunded = :refunded,
		    refund_errored = :refund_errored,
		    accepted_at = :accepted_at,
		    reported_at = :reported_at,
		    approved_at = :approved_at,
		    updated_at = NOW()
		WHERE job_id = :job_id
	`

	result, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, job)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// JobsInState returns every job currently in the given state. This is
// the scope surface the lifecycle exposes per declared state.
func (s *Storage) JobsInState(ctx context.Context, state int) ([]domain.Job, error) {
	query := `
		SELECT job_id, order_id, customer_id, contractor_id, state,
		       total_cost_cents, contractor_payment_cents, cancel_reason,
		       refunded, refund_errored, accepted_at, reported_at,
		       approved_at, created_at, updated_at
		FROM jobs
		WHERE state = $1
		ORDER BY created_at DESC, job_id DESC
	`

	var jobs []domain.Job
	if err := sqlx.SelectContext(ctx, s.q(ctx), &jobs, query, state); err != nil {
		return nil, fmt.Errorf("failed to list jobs in state %d: %w", state, err)
	}
	return jobs, nil
}

// GetBid retrieves a bid by its ID.
func (s *Storage) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	query := `
		SELECT bid_id, job_id, contractor_id, amount_cents, created_at
		FROM bids
		WHERE bid_id = $1
	`

	var bid domain.Bid
	if err := sqlx.GetContext(ctx, s.q(ctx), &bid, query, bidID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return &bid, nil
}

// GetOrder retrieves an order by its ID.
func (s *Storage) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `
		SELECT order_id, customer_id, contractor_id, state,
		       total_cost_cents, contractor_payment_cents,
		       created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`

	var order domain.Order
	if err := sqlx.GetContext(ctx, s.q(ctx), &order, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// CreateComment appends a comment to a job's audit trail.
func (s *Storage) CreateComment(ctx context.Context, comment *domain.Comment) error {
	query := `
		INSERT INTO comments (comment_id, job_id, user_id, body, comment_type, created_at)
		VALUES (:comment_id, :job_id, :user_id, :body, :comment_type, :created_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, comment); err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// CreateDispute writes a new dispute record.
func (s *Storage) CreateDispute(ctx context.Context, dispute *domain.Dispute) error {
	query := `
		INSERT INTO disputes (dispute_id, job_id, user_id, initiating_comment_id,
		                      resolving_comment_id, deadline_at, resolved_at, created_at)
		VALUES (:dispute_id, :job_id, :user_id, :initiating_comment_id,
		        :resolving_comment_id, :deadline_at, :resolved_at, :created_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, dispute); err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

// SaveDispute persists the mutable dispute columns.
func (s *Storage) SaveDispute(ctx context.Context, dispute *domain.Dispute) error {
	query := `
		UPDATE disputes
		SET resolving_comment_id = :resolving_comment_id,
		    resolved_at = :resolved_at,
		    deadline_at = :deadline_at
		WHERE dispute_id = :dispute_id
	`

	result, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, dispute)
	if err != nil {
		return fmt.Errorf("failed to save dispute: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrDisputeNotFound
	}
	return nil
}

// DisputesForJob returns the job's disputes, oldest first.
func (s *Storage) DisputesForJob(ctx context.Context, jobID string) ([]domain.Dispute, error) {
	query := `
		SELECT dispute_id, job_id, user_id, initiating_comment_id,
		       resolving_comment_id, deadline_at, resolved_at, created_at
		FROM disputes
		WHERE job_id = $1
		ORDER BY created_at ASC, dispute_id ASC
	`

	var disputes []domain.Dispute
	if err := sqlx.SelectContext(ctx, s.q(ctx), &disputes, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	return disputes, nil
}

// OpenDisputeForJob returns the job's open dispute, if any.
func (s *Storage) OpenDisputeForJob(ctx context.Context, jobID string) (*domain.Dispute, error) {
	query := `
		SELECT dispute_id, job_id, user_id, initiating_comment_id,
		       resolving_comment_id, deadline_at, resolved_at, created_at
		FROM disputes
		WHERE job_id = $1 AND resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	var dispute domain.Dispute
	if err := sqlx.GetContext(ctx, s.q(ctx), &dispute, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to get open dispute: %w", err)
	}
	return &dispute, nil
}

// CreatePaymentRequest writes a new payment request.
func (s *Storage) CreatePaymentRequest(ctx context.Context, pr *domain.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests (payment_request_id, contractor_id, state,
		                              amount_cents, batch_id, sender_item_id,
		                              payment_status, payment_status_updated_at,
		                              approved_at, paid_at, created_at, updated_at)
		VALUES (:payment_request_id, :contractor_id, :state,
		        :amount_cents, :batch_id, :sender_item_id,
		        :payment_status, :payment_status_updated_at,
		        :approved_at, :paid_at, :created_at, :updated_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, pr); err != nil {
		return fmt.Errorf("failed to create payment request: %w", err)
	}
	return nil
}

// SavePaymentRequest persists every mutable payment request column.
func (s *Storage) SavePaymentRequest(ctx context.Context, pr *domain.PaymentRequest) error {
	query := `
		UPDATE payment_requests
		SET state = :state,
		    amount_cents = :amount_cents,
		    batch_id = :batch_id,
		    payment_status = :payment_status,
		    payment_status_updated_at = :payment_status_updated_at,
		    approved_at = :approved_at,
		    paid_at = :paid_at,
		    updated_at = NOW()
		WHERE payment_request_id = :payment_request_id
	`

	result, err := sqlx.NamedExecContext(ctx, s.q(ctx), query, pr)
	if err != nil {
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrPaymentRequestNotFound
	}
	return nil
}

// GetPaymentRequest retrieves a payment request by its ID.
func (s *Storage) GetPaymentRequest(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	query := paymentRequestSelect + ` WHERE payment_request_id = $1`

	var pr domain.PaymentRequest
	if err := sqlx.GetContext(ctx, s.q(ctx), &pr, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentRequestNotFound
		}
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return &pr, nil
}

// GetPaymentRequestByItemID looks a payment request up by its unique
// sender item id.
func (s *Storage) GetPaymentRequestByItemID(ctx context.Context, itemID string) (*domain.PaymentRequest, error) {
	query := paymentRequestSelect + ` WHERE sender_item_id = $1`

	var pr domain.PaymentRequest
	if err := sqlx.GetContext(ctx, s.q(ctx), &pr, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentRequestNotFound
		}
		return nil, fmt.Errorf("failed to get payment request by item id: %w", err)
	}
	return &pr, nil
}

// PaymentRequestsInState returns every payment request in the given
// state.
func (s *Storage) PaymentRequestsInState(ctx context.Context, state int) ([]domain.PaymentRequest, error) {
	query := paymentRequestSelect + ` WHERE state = $1 ORDER BY created_at DESC, payment_request_id DESC`

	var prs []domain.PaymentRequest
	if err := sqlx.SelectContext(ctx, s.q(ctx), &prs, query, state); err != nil {
		return nil, fmt.Errorf("failed to list payment requests in state %d: %w", state, err)
	}
	return prs, nil
}

const paymentRequestSelect = `
	SELECT payment_request_id, contractor_id, state, amount_cents,
	       batch_id, sender_item_id, payment_status,
	       payment_status_updated_at, approved_at, paid_at,
	       created_at, updated_at
	FROM payment_requests`

// AttachJobToPaymentRequest associates a job with a payment request.
func (s *Storage) AttachJobToPaymentRequest(ctx context.Context, paymentRequestID, jobID string) error {
	query := `
		INSERT INTO payment_request_jobs (payment_request_id, job_id)
		VALUES ($1, $2)
	`

	if _, err := s.q(ctx).ExecContext(ctx, query, paymentRequestID, jobID); err != nil {
		return fmt.Errorf("failed to attach job to payment request: %w", err)
	}
	return nil
}

// AttachOrderToPaymentRequest associates an order with a payment
// request.
func (s *Storage) AttachOrderToPaymentRequest(ctx context.Context, paymentRequestID, orderID string) error {
	query := `
		INSERT INTO payment_request_orders (payment_request_id, order_id)
		VALUES ($1, $2)
	`

	if _, err := s.q(ctx).ExecContext(ctx, query, paymentRequestID, orderID); err != nil {
		return fmt.Errorf("failed to attach order to payment request: %w", err)
	}
	return nil
}

// GetBatch retrieves a payment batch by its ID.
func (s *Storage) GetBatch(ctx context.Context, batchID string) (*domain.PaymentBatch, error) {
	query := `
		SELECT batch_id, paid_at, closed_at, created_at
		FROM payment_batches
		WHERE batch_id = $1
	`

	var batch domain.PaymentBatch
	if err := sqlx.GetContext(ctx, s.q(ctx), &batch, query, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get payment batch: %w", err)
	}
	return &batch, nil
}
