package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/internal/token"
)

// DecideRequest carries an authenticated approval decision
type DecideRequest struct {
	TaskID        string       `json:"task_id"`
	Decision      token.Action `json:"decision"`
	ActorID       string       `json:"actor_id"`
	AssigneeScope string       `json:"assignee_scope,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// ApprovalService orchestrates approval decisions against the state machine
// and the group aggregator
type ApprovalService interface {
	Decide(ctx context.Context, req DecideRequest) (*task.Task, error)
}

type approvalServiceImpl struct {
	taskRepo    port.TaskRepository
	historyRepo port.HistoryRepository
	identity    port.IdentityProvider
	dispatcher  dispatcher.Dispatcher
	logger      Logger
	now         func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	taskRepo port.TaskRepository,
	historyRepo port.HistoryRepository,
	identity port.IdentityProvider,
	d dispatcher.Dispatcher,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		taskRepo:    taskRepo,
		historyRepo: historyRepo,
		identity:    identity,
		dispatcher:  d,
		logger:      logger,
		now:         time.Now,
	}
}

// Decide applies an approve/reject decision from an authenticated actor.
// Concurrent saves against the same task are retried with fresh state;
// terminal business rules like AlreadyFinalized are not.
func (s *approvalServiceImpl) Decide(ctx context.Context, req DecideRequest) (*task.Task, error) {
	actor, err := s.identity.GetActor(ctx, req.ActorID)
	if err != nil {
		return nil, fmt.Errorf("resolve actor %s: %w", req.ActorID, err)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		t, err := s.taskRepo.GetByID(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}

		if err := authorizeDecision(actor, t, req.AssigneeScope); err != nil {
			return nil, err
		}

		events, err := applyDecision(t, req.Decision, req.ActorID, req.AssigneeScope, req.Reason, s.now())
		if err != nil {
			return nil, err
		}

		if err := s.taskRepo.Save(ctx, t, t.Version); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				lastErr = err
				continue
			}
			s.logger.Error("Failed to save decision", "error", err, "task_id", req.TaskID)
			return nil, err
		}

		s.publish(ctx, events...)
		s.logger.Info("Decision applied",
			"task_id", req.TaskID,
			"decision", req.Decision,
			"actor_id", req.ActorID,
			"assignee_scope", req.AssigneeScope,
		)
		return t, nil
	}
	return nil, fmt.Errorf("task %s: retries exhausted: %w", req.TaskID, lastErr)
}

func (s *approvalServiceImpl) publish(ctx context.Context, events ...*event.Event) {
	for _, evt := range events {
		if err := s.historyRepo.Append(ctx, evt); err != nil {
			s.logger.Error("Failed to append history", "error", err, "event_id", evt.ID)
		}
		s.dispatcher.DispatchAsync(ctx, evt)
	}
}
