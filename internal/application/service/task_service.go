package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/lifecycle"
	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateTaskRequest carries the inputs for task creation
type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CreatorID   string   `json:"creator_id"`
	AssigneeIDs []string `json:"assignee_ids"`

	// ForceGroup marks the task as a group task even with one assignee
	ForceGroup bool `json:"force_group"`
}

// TaskService manages task creation, assignment, and progress reporting
type TaskService interface {
	Create(ctx context.Context, req CreateTaskRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, limit, offset int) ([]*task.Task, error)
	Assign(ctx context.Context, taskID string, assigneeIDs []string, actorID string) (*task.Task, error)
	ReportStage(ctx context.Context, taskID string, newStage task.Stage, actorID string) (*task.Task, error)
	AddRemark(ctx context.Context, taskID, actorID, text string) (*task.Task, error)
}

type taskServiceImpl struct {
	taskRepo    port.TaskRepository
	historyRepo port.HistoryRepository
	identity    port.IdentityProvider
	dispatcher  dispatcher.Dispatcher
	logger      Logger
	now         func() time.Time
}

// NewTaskService creates a new TaskService
func NewTaskService(
	taskRepo port.TaskRepository,
	historyRepo port.HistoryRepository,
	identity port.IdentityProvider,
	d dispatcher.Dispatcher,
	logger Logger,
) TaskService {
	return &taskServiceImpl{
		taskRepo:    taskRepo,
		historyRepo: historyRepo,
		identity:    identity,
		dispatcher:  d,
		logger:      logger,
		now:         time.Now,
	}
}

// Create creates a new task, optionally assigning it in the same step
func (s *taskServiceImpl) Create(ctx context.Context, req CreateTaskRequest) (*task.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if _, err := s.identity.GetActor(ctx, req.CreatorID); err != nil {
		return nil, fmt.Errorf("resolve creator %s: %w", req.CreatorID, err)
	}

	now := s.now()
	t := &task.Task{
		ID:          event.NewID(),
		Title:       req.Title,
		Description: req.Description,
		CreatorID:   req.CreatorID,
		Status:      task.StatusCreated,
		Stage:       task.StageNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	events := []*event.Event{
		event.New(event.TypeTaskCreated, t.ID, req.CreatorID, "", task.StatusCreated.String(), "Task created"),
	}

	if len(req.AssigneeIDs) > 0 {
		evt, err := s.applyAssignment(ctx, t, req.AssigneeIDs, req.ForceGroup, req.CreatorID, now)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	} else if req.ForceGroup {
		t.IsGroupTask = true
	}

	if err := s.taskRepo.Create(ctx, t); err != nil {
		s.logger.Error("Failed to create task", "error", err, "title", req.Title)
		return nil, err
	}

	s.publish(ctx, events...)
	s.logger.Info("Task created", "task_id", t.ID, "creator_id", req.CreatorID, "assignees", len(t.Assignments))
	return t, nil
}

// Get retrieves a task by ID
func (s *taskServiceImpl) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.taskRepo.GetByID(ctx, id)
}

// List retrieves a paginated list of tasks
func (s *taskServiceImpl) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	return s.taskRepo.List(ctx, limit, offset)
}

// Assign adds assignees to a task. Only the creator or an escalated role
// may assign.
func (s *taskServiceImpl) Assign(ctx context.Context, taskID string, assigneeIDs []string, actorID string) (*task.Task, error) {
	actor, err := s.identity.GetActor(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolve actor %s: %w", actorID, err)
	}

	var result *task.Task
	err = s.withTask(ctx, taskID, func(t *task.Task) ([]*event.Event, error) {
		if actor.ID != t.CreatorID && !actor.Role.IsEscalated() {
			return nil, fmt.Errorf("%w: %s cannot assign task %s", ErrNotAuthorized, actor.ID, taskID)
		}
		evt, err := s.applyAssignment(ctx, t, assigneeIDs, false, actorID, s.now())
		if err != nil {
			return nil, err
		}
		result = t
		return []*event.Event{evt}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task assigned", "task_id", taskID, "actor_id", actorID, "assignees", assigneeIDs)
	return result, nil
}

// ReportStage advances the reporting actor's workflow position. Assignees
// report their own assignment; the whole-task stage follows once every
// assignee is done (or immediately for a creator-side report). Reaching
// DONE never changes the task status: status only advances through an
// explicit approval decision.
func (s *taskServiceImpl) ReportStage(ctx context.Context, taskID string, newStage task.Stage, actorID string) (*task.Task, error) {
	var result *task.Task
	err := s.withTask(ctx, taskID, func(t *task.Task) ([]*event.Event, error) {
		now := s.now()
		a := t.Assignment(actorID)
		if a == nil && actorID != t.CreatorID {
			return nil, fmt.Errorf("%w: %s is not an assignee of task %s", ErrNotAuthorized, actorID, taskID)
		}

		var events []*event.Event

		// A report after rejection revives the task; SetStatus clears the
		// stale stamps before the new stage is applied.
		if t.Status == task.StatusRejected {
			tr, err := lifecycle.SetStatus(t, task.StatusInProgress, actorID, now)
			if err != nil {
				return nil, err
			}
			events = append(events, event.New(event.TypeStageChanged, t.ID, actorID,
				tr.OldStatus.String(), tr.NewStatus.String(), "Task revived for revision"))
		}

		if a != nil {
			tr, err := lifecycle.AdvanceAssignmentStage(a, newStage, now)
			if err != nil {
				return nil, err
			}
			events = append(events, event.New(event.TypeStageChanged, t.ID, actorID,
				tr.Old.String(), tr.New.String(),
				fmt.Sprintf("Assignee %s reported stage %s", actorID, newStage)).
				WithPayload("assignee", actorID))

			// The whole-task stage follows the assignees: immediately for a
			// single assignee, once everyone is done for a group.
			wholeTask := !t.IsGroupTask || (newStage == task.StageDone && lifecycle.AllIndividuallyDone(t))
			if wholeTask && t.Stage != newStage {
				ttr, err := lifecycle.AdvanceStage(t, newStage, now)
				if err == nil {
					events = append(events, event.New(event.TypeStageChanged, t.ID, actorID,
						ttr.Old.String(), ttr.New.String(),
						fmt.Sprintf("Task stage moved to %s", newStage)))
				}
			}
		} else {
			tr, err := lifecycle.AdvanceStage(t, newStage, now)
			if err != nil {
				return nil, err
			}
			events = append(events, event.New(event.TypeStageChanged, t.ID, actorID,
				tr.Old.String(), tr.New.String(),
				fmt.Sprintf("Task stage moved to %s", newStage)))
		}

		// First activity moves the task into progress.
		if newStage == task.StagePending &&
			(t.Status == task.StatusCreated || t.Status == task.StatusAssigned) {
			if _, err := lifecycle.SetStatus(t, task.StatusInProgress, actorID, now); err != nil {
				return nil, err
			}
		}

		result = t
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stage reported", "task_id", taskID, "actor_id", actorID, "stage", newStage)
	return result, nil
}

// AddRemark records a remark on the task's history and notifies the other
// side of the conversation. Remarks never mutate lifecycle state.
func (s *taskServiceImpl) AddRemark(ctx context.Context, taskID, actorID, text string) (*task.Task, error) {
	if text == "" {
		return nil, fmt.Errorf("remark text is required")
	}

	t, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != t.CreatorID && !t.HasAssignee(actorID) {
		return nil, fmt.Errorf("%w: %s cannot remark on task %s", ErrNotAuthorized, actorID, taskID)
	}

	evt := event.New(event.TypeRemarkAdded, t.ID, actorID, "", "", text)
	s.publish(ctx, evt)

	s.logger.Info("Remark added", "task_id", taskID, "actor_id", actorID)
	return t, nil
}

// applyAssignment mutates the task with new assignees and returns the event
func (s *taskServiceImpl) applyAssignment(ctx context.Context, t *task.Task, assigneeIDs []string, forceGroup bool, actorID string, now time.Time) (*event.Event, error) {
	if len(assigneeIDs) == 0 {
		return nil, ErrNoAssignees
	}

	seen := make(map[string]bool, len(assigneeIDs))
	added := make([]string, 0, len(assigneeIDs))
	for _, id := range assigneeIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAssignee, id)
		}
		seen[id] = true

		if _, err := s.identity.GetActor(ctx, id); err != nil {
			return nil, fmt.Errorf("resolve assignee %s: %w", id, err)
		}
		if t.HasAssignee(id) {
			continue
		}
		t.Assignments = append(t.Assignments, task.Assignment{
			AssigneeID: id,
			Stage:      task.StageNotStarted,
			Status:     task.IndividualAssigned,
			Approval:   task.ApprovalPending,
		})
		added = append(added, id)
	}

	t.IsGroupTask = len(t.Assignments) > 1 || forceGroup || t.IsGroupTask

	oldStatus := t.Status
	if t.Status == task.StatusCreated {
		if _, err := lifecycle.SetStatus(t, task.StatusAssigned, actorID, now); err != nil {
			return nil, err
		}
	}

	return event.New(event.TypeTaskAssigned, t.ID, actorID,
		oldStatus.String(), t.Status.String(),
		fmt.Sprintf("Task assigned to %d assignee(s)", len(added))).
		WithPayload("assignees", added), nil
}

// withTask runs a read-modify-write against the task, retrying on version
// conflicts with fresh state. Events are published only after the save
// commits, so notifications always observe a consistent snapshot.
func (s *taskServiceImpl) withTask(ctx context.Context, taskID string, fn func(t *task.Task) ([]*event.Event, error)) error {
	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		t, err := s.taskRepo.GetByID(ctx, taskID)
		if err != nil {
			return err
		}

		events, err := fn(t)
		if err != nil {
			return err
		}

		if err := s.taskRepo.Save(ctx, t, t.Version); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}

		s.publish(ctx, events...)
		return nil
	}
	return fmt.Errorf("task %s: retries exhausted: %w", taskID, lastErr)
}

// publish appends events to the history log and hands them to the
// dispatcher. Both are best effort: the committed task state is the source
// of truth and a side-channel failure never unwinds it.
func (s *taskServiceImpl) publish(ctx context.Context, events ...*event.Event) {
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if err := s.historyRepo.Append(ctx, evt); err != nil {
			s.logger.Error("Failed to append history", "error", err, "event_id", evt.ID)
		}
		s.dispatcher.DispatchAsync(ctx, evt)
	}
}
