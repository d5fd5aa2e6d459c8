// Package port defines the interfaces the application layer needs from its
// collaborators. Persistence, identity, and notification storage are
// conventional plumbing behind these seams.
package port

import (
	"context"
	"errors"
	"time"

	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
	"github.com/taskflowhq/taskflow/internal/domain/task"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a save loses a concurrent update
	// race; callers re-read and retry
	ErrVersionConflict = errors.New("version conflict")
)

// TaskRepository defines persistence operations for Task.
// Save applies the whole aggregate (task, assignments, token audit list)
// under an optimistic version check: the row is only written when the stored
// version equals expectedVersion, and the write bumps it by one.
type TaskRepository interface {
	Create(ctx context.Context, t *task.Task) error
	GetByID(ctx context.Context, id string) (*task.Task, error)
	Save(ctx context.Context, t *task.Task, expectedVersion int64) error
	List(ctx context.Context, limit, offset int) ([]*task.Task, error)

	// FindStaleApprovals returns tasks sitting at stage DONE, not yet
	// approved or rejected, completed before doneBefore, whose last
	// reminder (if any) predates remindedBefore.
	FindStaleApprovals(ctx context.Context, doneBefore, remindedBefore time.Time) ([]*task.Task, error)
}

// HistoryRepository appends domain events to the immutable history log
type HistoryRepository interface {
	Append(ctx context.Context, evt *event.Event) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]*event.Event, error)
}

// Notification is an addressed record produced from a domain event
type Notification struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	TaskID      string     `json:"task_id"`
	RecipientID string     `json:"recipient_id"`
	Type        event.Type `json:"type"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// NotificationRepository defines persistence operations for notifications.
// Create must be idempotent per (event, recipient): re-inserting the same
// pair is a no-op, which is what makes dispatch safe to retry.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Notification, error)
	MarkSent(ctx context.Context, id string) error
}

// IdentityProvider resolves actor identities and roles
type IdentityProvider interface {
	GetActor(ctx context.Context, id string) (*identity.Actor, error)
}
