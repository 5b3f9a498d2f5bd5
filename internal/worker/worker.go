// Package worker consumes lifecycle commands from RabbitMQ and drives
// the job and payment-request lifecycles: automated approvals of
// worked jobs and payout status updates for batched payment requests.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/lifecycle"
	"github.com/tuanbq/marketplace-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Store           domain.Store
	Jobs            *lifecycle.JobLifecycle
	PaymentRequests *lifecycle.PaymentRequestLifecycle
	RabbitClient    *rabbitmq.Client
	Concurrency     int
	PrefetchCount   int
}

// Worker represents the lifecycle command worker
type Worker struct {
	logger          *slog.Logger
	store           domain.Store
	jobs            *lifecycle.JobLifecycle
	paymentRequests *lifecycle.PaymentRequestLifecycle
	rabbitClient    *rabbitmq.Client
	concurrency     int
	prefetchCount   int
	workerID        string
	cmdChan         chan *Command
	wg              sync.WaitGroup
	stopChan        chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:          cfg.Logger,
		store:           cfg.Store,
		jobs:            cfg.Jobs,
		paymentRequests: cfg.PaymentRequests,
		rabbitClient:    cfg.RabbitClient,
		concurrency:     cfg.Concurrency,
		prefetchCount:   cfg.PrefetchCount,
		workerID:        "lifecycle-worker-" + uuid.New().String(),
		cmdChan:         make(chan *Command, cfg.Concurrency),
		stopChan:        make(chan struct{}),
	}
}

// Start begins consuming and processing commands. It blocks until the
// context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
