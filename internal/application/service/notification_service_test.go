package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// memNotifRepo mimics the sqlite repository's (event, recipient) idempotency
type memNotifRepo struct {
	mu      sync.Mutex
	records []*port.Notification
	seen    map[string]bool
}

func newMemNotifRepo() *memNotifRepo {
	return &memNotifRepo{seen: make(map[string]bool)}
}

func (r *memNotifRepo) Create(ctx context.Context, n *port.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := n.EventID + "|" + n.RecipientID
	if r.seen[key] {
		return nil
	}
	r.seen[key] = true
	r.records = append(r.records, n)
	return nil
}

func (r *memNotifRepo) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*port.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*port.Notification
	for _, n := range r.records {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *memNotifRepo) MarkSent(ctx context.Context, id string) error { return nil }

func (r *memNotifRepo) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.records {
		out = append(out, n.RecipientID)
	}
	return out
}

func notifFixture() (*memTaskRepo, *memNotifRepo, NotificationService) {
	taskRepo := newMemTaskRepo()
	notifRepo := newMemNotifRepo()
	svc := NewNotificationService(notifRepo, taskRepo, nopLogger{})
	return taskRepo, notifRepo, svc
}

func seedTask(t *testing.T, repo *memTaskRepo) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:          "t1",
		Title:       "quarterly report",
		CreatorID:   "creator",
		Status:      task.StatusInProgress,
		Stage:       task.StagePending,
		IsGroupTask: true,
		Assignments: []task.Assignment{
			{AssigneeID: "u1", Stage: task.StagePending},
			{AssigneeID: "u2", Stage: task.StagePending},
		},
	}
	require.NoError(t, repo.Create(context.Background(), tk))
	return tk
}

func TestNotificationService_Assigned(t *testing.T) {
	ctx := context.Background()
	taskRepo, notifRepo, svc := notifFixture()
	seedTask(t, taskRepo)

	evt := event.New(event.TypeTaskAssigned, "t1", "creator", "", "", "Task assigned").
		WithPayload("assignees", []string{"u1", "u2"})
	require.NoError(t, svc.HandleEvent(ctx, evt))

	assert.ElementsMatch(t, []string{"u1", "u2"}, notifRepo.recipients())
}

func TestNotificationService_StageChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("intermediate stage notifies creator only", func(t *testing.T) {
		taskRepo, notifRepo, svc := notifFixture()
		seedTask(t, taskRepo)

		evt := event.New(event.TypeStageChanged, "t1", "u1",
			task.StageNotStarted.String(), task.StagePending.String(), "started")
		require.NoError(t, svc.HandleEvent(ctx, evt))
		assert.Equal(t, []string{"creator"}, notifRepo.recipients())
	})

	t.Run("done notifies creator and the other assignees", func(t *testing.T) {
		taskRepo, notifRepo, svc := notifFixture()
		seedTask(t, taskRepo)

		evt := event.New(event.TypeStageChanged, "t1", "u1",
			task.StagePending.String(), task.StageDone.String(), "done")
		require.NoError(t, svc.HandleEvent(ctx, evt))
		// The reporting actor is excluded from their own notification.
		assert.ElementsMatch(t, []string{"creator", "u2"}, notifRepo.recipients())
	})
}

func TestNotificationService_Decisions(t *testing.T) {
	ctx := context.Background()

	t.Run("task approval notifies all assignees", func(t *testing.T) {
		taskRepo, notifRepo, svc := notifFixture()
		seedTask(t, taskRepo)

		evt := event.New(event.TypeTaskApproved, "t1", "creator", "", "", "approved")
		require.NoError(t, svc.HandleEvent(ctx, evt))
		assert.ElementsMatch(t, []string{"u1", "u2"}, notifRepo.recipients())
	})

	t.Run("individual decision notifies only that assignee", func(t *testing.T) {
		taskRepo, notifRepo, svc := notifFixture()
		seedTask(t, taskRepo)

		evt := event.New(event.TypeIndividualApproval, "t1", "creator", "", "", "rejected").
			WithPayload("assignee", "u2")
		require.NoError(t, svc.HandleEvent(ctx, evt))
		assert.Equal(t, []string{"u2"}, notifRepo.recipients())
	})
}

func TestNotificationService_Remarks(t *testing.T) {
	ctx := context.Background()
	taskRepo, notifRepo, svc := notifFixture()
	seedTask(t, taskRepo)

	// A creator remark goes to the assignees; an assignee remark goes to
	// the creator.
	require.NoError(t, svc.HandleEvent(ctx,
		event.New(event.TypeRemarkAdded, "t1", "creator", "", "", "please hurry")))
	assert.ElementsMatch(t, []string{"u1", "u2"}, notifRepo.recipients())

	require.NoError(t, svc.HandleEvent(ctx,
		event.New(event.TypeRemarkAdded, "t1", "u1", "", "", "almost there")))
	assert.Contains(t, notifRepo.recipients(), "creator")
}

func TestNotificationService_Reminder(t *testing.T) {
	ctx := context.Background()
	taskRepo, notifRepo, svc := notifFixture()
	seedTask(t, taskRepo)

	evt := event.New(event.TypeApprovalReminder, "t1", "", "", "", "still waiting")
	require.NoError(t, svc.HandleEvent(ctx, evt))
	assert.Equal(t, []string{"creator"}, notifRepo.recipients())
}

func TestNotificationService_Idempotent(t *testing.T) {
	ctx := context.Background()
	taskRepo, notifRepo, svc := notifFixture()
	seedTask(t, taskRepo)

	evt := event.New(event.TypeTaskApproved, "t1", "creator", "", "", "approved")
	require.NoError(t, svc.HandleEvent(ctx, evt))
	require.NoError(t, svc.HandleEvent(ctx, evt))

	// Re-handling the same event instance produces no duplicates.
	assert.Len(t, notifRepo.recipients(), 2)
}

func TestNotificationService_UnknownTaskIsSwallowed(t *testing.T) {
	ctx := context.Background()
	_, notifRepo, svc := notifFixture()

	evt := event.New(event.TypeTaskApproved, "missing", "creator", "", "", "approved")
	// Delivery is best effort; a missing task must not propagate an error.
	assert.NoError(t, svc.HandleEvent(ctx, evt))
	assert.Empty(t, notifRepo.recipients())
}

func TestNotificationService_MessageCarriesTitle(t *testing.T) {
	ctx := context.Background()
	taskRepo, _, svc := notifFixture()
	seedTask(t, taskRepo)

	evt := event.New(event.TypeTaskApproved, "t1", "creator", "", "", "Task approved")
	require.NoError(t, svc.HandleEvent(ctx, evt))

	notifications, err := svc.ListByRecipient(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "quarterly report")
	assert.Equal(t, port.NotificationStatusPending, notifications[0].Status)
}
