package service

import (
	"context"
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// NotificationService translates domain events into addressed notification
// records. It subscribes to every lifecycle event type; delivery is a
// best-effort side channel and its failures never reach the mutation that
// produced the event.
type NotificationService interface {
	HandleEvent(ctx context.Context, evt *event.Event) error
	Register(d dispatcher.Dispatcher)
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*port.Notification, error)
}

type notificationServiceImpl struct {
	notifRepo port.NotificationRepository
	taskRepo  port.TaskRepository
	logger    Logger
	now       func() time.Time
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notifRepo port.NotificationRepository,
	taskRepo port.TaskRepository,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notifRepo: notifRepo,
		taskRepo:  taskRepo,
		logger:    logger,
		now:       time.Now,
	}
}

// Register subscribes the service to every event type it derives
// recipients for
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeTaskAssigned,
		event.TypeStageChanged,
		event.TypeTaskApproved,
		event.TypeTaskRejected,
		event.TypeIndividualApproval,
		event.TypeRemarkAdded,
		event.TypeApprovalReminder,
	} {
		d.Subscribe(t, "notifications", s.HandleEvent)
	}
}

// HandleEvent produces at most one notification per recipient for the
// event. Actors are never notified of their own actions, and re-handling
// the same event instance is a no-op because the repository is idempotent
// per (event, recipient).
func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	t, err := s.taskRepo.GetByID(ctx, evt.TaskID)
	if err != nil {
		s.logger.Error("Failed to load task for notification", "error", err, "task_id", evt.TaskID)
		return nil
	}

	seen := make(map[string]bool)
	for _, recipient := range s.recipients(evt, t) {
		if recipient == "" || recipient == evt.ActorID || seen[recipient] {
			continue
		}
		seen[recipient] = true

		n := &port.Notification{
			ID:          event.NewID(),
			EventID:     evt.ID,
			TaskID:      evt.TaskID,
			RecipientID: recipient,
			Type:        evt.Type,
			Message:     s.message(evt, t),
			Status:      port.NotificationStatusPending,
			CreatedAt:   s.now(),
		}
		if err := s.notifRepo.Create(ctx, n); err != nil {
			s.logger.Error("Failed to create notification",
				"error", err,
				"event_id", evt.ID,
				"recipient_id", recipient,
			)
		}
	}
	return nil
}

// ListByRecipient retrieves a recipient's notifications
func (s *notificationServiceImpl) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*port.Notification, error) {
	return s.notifRepo.ListByRecipient(ctx, recipientID, limit, offset)
}

// recipients derives the interested parties for an event
func (s *notificationServiceImpl) recipients(evt *event.Event, t *task.Task) []string {
	switch evt.Type {
	case event.TypeTaskAssigned:
		// Only the newly assigned actors, carried on the event.
		return evt.GetPayloadStrings("assignees")

	case event.TypeStageChanged:
		if evt.NewValue == task.StageDone.String() {
			// Completion interests the creator and the other assignees.
			return append([]string{t.CreatorID}, t.AssigneeIDs()...)
		}
		return []string{t.CreatorID}

	case event.TypeTaskApproved, event.TypeTaskRejected:
		return t.AssigneeIDs()

	case event.TypeIndividualApproval:
		return []string{evt.GetPayloadString("assignee")}

	case event.TypeRemarkAdded:
		// Remarks notify the other side of the conversation.
		if evt.ActorID == t.CreatorID {
			return t.AssigneeIDs()
		}
		return []string{t.CreatorID}

	case event.TypeApprovalReminder:
		return []string{t.CreatorID}
	}
	return nil
}

// message renders the human-readable notification text
func (s *notificationServiceImpl) message(evt *event.Event, t *task.Task) string {
	if evt.Description != "" {
		return fmt.Sprintf("[%s] %s", t.Title, evt.Description)
	}
	return fmt.Sprintf("[%s] %s", t.Title, evt.Type)
}
