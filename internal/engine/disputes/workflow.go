// Package disputes implements the dispute workflow layered on top of
// the job lifecycle: opening and resolving a dispute each append audit
// comments, write the dispute record and, on completion, may trigger
// an arbitration event — all inside one atomic transaction scope.
// Notifications are dispatched after the scope commits.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/lifecycle"
	"github.com/tuanbq/marketplace-be/internal/engine/statemachine"
)

// Audit bodies for the system comments the workflow writes.
const (
	disputeOpenedBody   = "This job has entered dispute."
	disputeResolvedBody = "The dispute on this job has been resolved"
)

// Params carries the disputing user's comment and, on resolve, an
// optional arbitration event to fire on the job once the dispute is
// closed (lifecycle.EventArbitrateComplete or EventArbitrateIncomplete).
type Params struct {
	CommentBody      string
	ArbitrationEvent string
}

// Config holds the collaborators the dispute workflow needs.
type Config struct {
	Store    domain.Store
	Jobs     *lifecycle.JobLifecycle
	Notifier domain.Notifier
	Logger   *slog.Logger

	// ArbitrationWindow is how long a dispute may stay open before it
	// escalates to arbitration.
	ArbitrationWindow time.Duration
}

// Workflow opens and resolves disputes against jobs.
type Workflow struct {
	store    domain.Store
	jobs     *lifecycle.JobLifecycle
	notifier domain.Notifier
	logger   *slog.Logger
	window   time.Duration
}

// NewWorkflow creates a dispute workflow.
func NewWorkflow(cfg *Config) *Workflow {
	return &Workflow{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		window:   cfg.ArbitrationWindow,
	}
}

// StartDispute opens a dispute on the job: the disputer's comment, a
// system comment and the dispute record are written all-or-nothing.
// It returns true only when every write succeeded; any failure rolls
// the whole operation back and leaves the job untouched. Starting a
// dispute on a job that already has one open is a no-op returning
// false, so an open dispute is never doubled.
func (w *Workflow) StartDispute(ctx context.Context, job *domain.Job, disputerID string, params Params) (bool, error) {
	opened, err := w.Disputed(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if opened {
		w.logger.Warn("Dispute already open, ignoring start",
			slog.String("job_id", job.ID),
			slog.String("disputer_id", disputerID),
		)
		return false, nil
	}

	err = w.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := w.addComment(ctx, job.ID, disputerID, params.CommentBody); err != nil {
			return fmt.Errorf("failed to save disputer comment: %w", err)
		}

		systemComment, err := w.addSystemComment(ctx, job.ID, disputeOpenedBody)
		if err != nil {
			return fmt.Errorf("failed to save system dispute comment: %w", err)
		}

		dispute := &domain.Dispute{
			ID:                  uuid.New().String(),
			JobID:               job.ID,
			UserID:              disputerID,
			InitiatingCommentID: systemComment.ID,
			DeadlineAt:          time.Now().Add(w.window),
			CreatedAt:           time.Now(),
		}
		if err := w.store.CreateDispute(ctx, dispute); err != nil {
			return fmt.Errorf("failed to create dispute record: %w", err)
		}
		return nil
	})
	if err != nil {
		w.logger.Error("Dispute start rolled back",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false, err
	}

	w.notifyAll(ctx, job.ID, "dispute-opened")
	return true, nil
}

// ResolveDispute closes the job's open dispute. Only the user who
// opened it may resolve it; anyone else gets ErrUnauthorizedResolver
// and the dispute stays open. The resolver's comment, the system
// comment, the dispute update and any requested arbitration event are
// applied all-or-nothing.
func (w *Workflow) ResolveDispute(ctx context.Context, job *domain.Job, disputerID string, params Params) (bool, error) {
	disputedBy, err := w.DisputedBy(ctx, job.ID, disputerID)
	if err != nil {
		return false, err
	}
	if !disputedBy {
		return false, domain.ErrUnauthorizedResolver
	}

	err = w.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := w.addComment(ctx, job.ID, disputerID, params.CommentBody); err != nil {
			return fmt.Errorf("failed to save resolver comment: %w", err)
		}

		systemComment, err := w.addSystemComment(ctx, job.ID, disputeResolvedBody)
		if err != nil {
			return fmt.Errorf("failed to save system resolution comment: %w", err)
		}

		dispute, err := w.store.OpenDisputeForJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to load open dispute: %w", err)
		}

		now := time.Now()
		dispute.ResolvingCommentID = &systemComment.ID
		dispute.ResolvedAt = &now
		if err := w.store.SaveDispute(ctx, dispute); err != nil {
			return fmt.Errorf("failed to resolve dispute record: %w", err)
		}

		if params.ArbitrationEvent != "" {
			if err := w.jobs.Fire(ctx, job, params.ArbitrationEvent, statemachine.Args{}); err != nil {
				return fmt.Errorf("failed to fire arbitration event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Error("Dispute resolution rolled back",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false, err
	}

	w.notifyAll(ctx, job.ID, "dispute-resolved")
	return true, nil
}

// Disputed reports whether the job has an open dispute.
func (w *Workflow) Disputed(ctx context.Context, jobID string) (bool, error) {
	_, err := w.store.OpenDisputeForJob(ctx, jobID)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CurrentDispute returns the job's most recent dispute by creation
// time, or ErrDisputeNotFound if the job was never disputed.
func (w *Workflow) CurrentDispute(ctx context.Context, jobID string) (*domain.Dispute, error) {
	all, err := w.store.DisputesForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, domain.ErrDisputeNotFound
	}
	return &all[len(all)-1], nil
}

// DisputeDuration returns how long the latest dispute was open, or the
// elapsed time if it is still open. Nil means the job was never
// disputed.
func (w *Workflow) DisputeDuration(ctx context.Context, jobID string) (*time.Duration, error) {
	dispute, err := w.CurrentDispute(ctx, jobID)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := dispute.Duration(time.Now())
	return &d, nil
}

// DisputedBy reports whether the given user opened the job's most
// recent dispute.
func (w *Workflow) DisputedBy(ctx context.Context, jobID, userID string) (bool, error) {
	dispute, err := w.CurrentDispute(ctx, jobID)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dispute.UserID == userID, nil
}

// DisputedAt returns when the currently open dispute was created, or
// nil if none is open.
func (w *Workflow) DisputedAt(ctx context.Context, jobID string) (*time.Time, error) {
	dispute, err := w.store.OpenDisputeForJob(ctx, jobID)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dispute.CreatedAt, nil
}

// InArbitration reports whether the job has an open dispute whose
// resolution deadline has passed.
func (w *Workflow) InArbitration(ctx context.Context, jobID string) (bool, error) {
	dispute, err := w.store.OpenDisputeForJob(ctx, jobID)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !dispute.DeadlineAt.After(time.Now()), nil
}

func (w *Workflow) addComment(ctx context.Context, jobID, userID, body string) error {
	return w.store.CreateComment(ctx, &domain.Comment{
		ID:        uuid.New().String(),
		JobID:     jobID,
		UserID:    userID,
		Body:      body,
		Type:      domain.CommentTypeDispute,
		CreatedAt: time.Now(),
	})
}

func (w *Workflow) addSystemComment(ctx context.Context, jobID, body string) (*domain.Comment, error) {
	comment := &domain.Comment{
		ID:        uuid.New().String(),
		JobID:     jobID,
		UserID:    domain.SystemUserID,
		Body:      body,
		Type:      domain.CommentTypeDispute,
		CreatedAt: time.Now(),
	}
	if err := w.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

func (w *Workflow) notifyAll(ctx context.Context, jobID, event string) {
	for _, recipient := range []string{
		domain.RecipientCustomer,
		domain.RecipientContractor,
		domain.RecipientAdmin,
	} {
		w.notifier.Notify(ctx, domain.Notification{
			Event:      event,
			Recipient:  recipient,
			EntityType: "job",
			EntityID:   jobID,
		})
	}
}
