package domain

import "time"

// SystemUserID authors the audit comments the engine writes itself.
const SystemUserID = "system"

// Comment types used for the job audit trail.
const (
	CommentTypeGeneral = "general"
	CommentTypeDispute = "dispute"
)

// Comment is an append-only audit record on a job.
type Comment struct {
	ID        string    `db:"comment_id"`
	JobID     string    `db:"job_id"`
	UserID    string    `db:"user_id"`
	Body      string    `db:"body"`
	Type      string    `db:"comment_type"`
	CreatedAt time.Time `db:"created_at"`
}

// Dispute records a disagreement opened against a job. A job has a
// linear history of disputes ordered by creation time, with at most
// one open at any moment.
type Dispute struct {
	ID                  string     `db:"dispute_id"`
	JobID               string     `db:"job_id"`
	UserID              string     `db:"user_id"`
	InitiatingCommentID string     `db:"initiating_comment_id"`
	ResolvingCommentID  *string    `db:"resolving_comment_id"`
	DeadlineAt          time.Time  `db:"deadline_at"`
	ResolvedAt          *time.Time `db:"resolved_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

// Opened reports whether the dispute is still unresolved.
func (d *Dispute) Opened() bool { return d.ResolvedAt == nil }

// Duration is the time the dispute has been (or was) open.
func (d *Dispute) Duration(now time.Time) time.Duration {
	if d.ResolvedAt != nil {
		return d.ResolvedAt.Sub(d.CreatedAt)
	}
	return now.Sub(d.CreatedAt)
}
