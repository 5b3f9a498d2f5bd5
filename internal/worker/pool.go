package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuanbq/marketplace-be/internal/engine/statemachine"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency
// configuration.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case cmd, ok := <-w.cmdChan:
			if !ok {
				return
			}

			err := w.processCommand(ctx, cmd)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("type", cmd.Type),
				)
				continue
			}

			if err != nil {
				w.logger.Error("Command processing failed",
					slog.String("worker_name", workerName),
					slog.String("type", cmd.Type),
					slog.String("error", err.Error()),
				)

				requeue := w.shouldRequeueCommand(err)
				if nackErr := channel.Nack(cmd.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := channel.Ack(cmd.DeliveryTag, false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// shouldRequeueCommand determines if a command should be requeued
// based on the error type. Lifecycle rule violations are final; only
// transient errors go back on the queue.
func (w *Worker) shouldRequeueCommand(err error) bool {
	var illegal *statemachine.IllegalTransitionError
	if errors.As(err, &illegal) {
		return false
	}

	var guard *statemachine.GuardError
	if errors.As(err, &guard) {
		return false
	}

	if errors.Is(err, ErrUnknownCommand) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
