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

// ApprovalLinks is an approve/reject token pair, always issued together so
// a single notification can offer both choices
type ApprovalLinks struct {
	ApproveToken string `json:"approve_token"`
	RejectToken  string `json:"reject_token"`
}

// TokenService issues and redeems the capability tokens behind the
// email-link approval flow
type TokenService interface {
	IssueApprovalLinks(ctx context.Context, taskID, approverID, assigneeScope string) (*ApprovalLinks, error)

	// Redeem verifies and consumes a token, applying the decision it
	// authorizes. Marking the token used and applying its effect commit in
	// the same versioned save: an aborted save rolls both back together.
	Redeem(ctx context.Context, raw string) (*task.Task, error)
}

type tokenServiceImpl struct {
	codec       *token.Codec
	taskRepo    port.TaskRepository
	historyRepo port.HistoryRepository
	identity    port.IdentityProvider
	dispatcher  dispatcher.Dispatcher
	logger      Logger
	now         func() time.Time
}

// NewTokenService creates a new TokenService
func NewTokenService(
	codec *token.Codec,
	taskRepo port.TaskRepository,
	historyRepo port.HistoryRepository,
	identity port.IdentityProvider,
	d dispatcher.Dispatcher,
	logger Logger,
) TokenService {
	return &tokenServiceImpl{
		codec:       codec,
		taskRepo:    taskRepo,
		historyRepo: historyRepo,
		identity:    identity,
		dispatcher:  d,
		logger:      logger,
		now:         time.Now,
	}
}

// IssueApprovalLinks mints an approve/reject token pair for the given
// approver and records both in the task's audit list with used=false.
// Authorization is fixed at issuance: the tokens can only ever perform the
// action and scope encoded here.
func (s *tokenServiceImpl) IssueApprovalLinks(ctx context.Context, taskID, approverID, assigneeScope string) (*ApprovalLinks, error) {
	actor, err := s.identity.GetActor(ctx, approverID)
	if err != nil {
		return nil, fmt.Errorf("resolve approver %s: %w", approverID, err)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		t, err := s.taskRepo.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}

		if err := authorizeDecision(actor, t, assigneeScope); err != nil {
			return nil, err
		}
		if err := validateIssuanceScope(t, assigneeScope); err != nil {
			return nil, err
		}

		issuedAt := s.now()
		links := &ApprovalLinks{}
		for _, action := range []token.Action{token.ActionApprove, token.ActionReject} {
			raw, err := s.codec.Encode(token.Claims{
				TaskID:        taskID,
				ActorID:       approverID,
				Action:        action,
				AssigneeScope: assigneeScope,
				IssuedAt:      issuedAt.Unix(),
			})
			if err != nil {
				return nil, fmt.Errorf("encode %s token: %w", action, err)
			}

			t.Tokens = append(t.Tokens, task.TokenRecord{
				Digest:        token.Digest(raw),
				ActorID:       approverID,
				Action:        action.String(),
				AssigneeScope: assigneeScope,
				IssuedAt:      issuedAt,
			})

			if action == token.ActionApprove {
				links.ApproveToken = raw
			} else {
				links.RejectToken = raw
			}
		}

		if err := s.taskRepo.Save(ctx, t, t.Version); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.logger.Info("Approval links issued",
			"task_id", taskID,
			"approver_id", approverID,
			"assignee_scope", assigneeScope,
		)
		return links, nil
	}
	return nil, fmt.Errorf("task %s: retries exhausted: %w", taskID, lastErr)
}

// Redeem lets an unauthenticated remote actor perform the single action the
// token encodes. The signature and expiry are checked first, with no task
// state touched on failure; the audit record's used flag is authoritative
// for single-use and never resets.
func (s *tokenServiceImpl) Redeem(ctx context.Context, raw string) (*task.Task, error) {
	claims, err := s.codec.Decode(raw)
	if err != nil {
		return nil, err
	}

	actor, err := s.identity.GetActor(ctx, claims.ActorID)
	if err != nil {
		return nil, fmt.Errorf("resolve token actor %s: %w", claims.ActorID, err)
	}

	digest := token.Digest(raw)

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		t, err := s.taskRepo.GetByID(ctx, claims.TaskID)
		if err != nil {
			return nil, err
		}

		rec := t.Token(digest)
		if rec == nil {
			return nil, fmt.Errorf("%w: no issuance record", token.ErrTokenInvalid)
		}
		if rec.Used {
			return nil, fmt.Errorf("%w: task %s", token.ErrTokenAlreadyUsed, t.ID)
		}

		if err := s.checkScope(t, claims); err != nil {
			return nil, err
		}
		if err := authorizeDecision(actor, t, claims.AssigneeScope); err != nil {
			return nil, err
		}

		now := s.now()
		rec.Used = true
		usedAt := now
		rec.UsedAt = &usedAt

		events, err := applyDecision(t, claims.Action, claims.ActorID, claims.AssigneeScope, "", now)
		if err != nil {
			// Nothing was saved; the in-memory mark-used is discarded with
			// the aborted update.
			return nil, err
		}

		if err := s.taskRepo.Save(ctx, t, t.Version); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.publish(ctx, events...)
		s.logger.Info("Token redeemed",
			"task_id", t.ID,
			"action", claims.Action,
			"actor_id", claims.ActorID,
			"assignee_scope", claims.AssigneeScope,
		)
		return t, nil
	}
	return nil, fmt.Errorf("task %s: retries exhausted: %w", claims.TaskID, lastErr)
}

// validateIssuanceScope refuses to mint a token pair that checkScope would
// never accept: a task-level pair for a group task, or an assignee-scoped
// pair for an individual task. An approver must not receive links that are
// dead on arrival.
func validateIssuanceScope(t *task.Task, assigneeScope string) error {
	if assigneeScope == "" {
		if t.IsGroupTask {
			return fmt.Errorf("%w: group task %s needs assignee-scoped links", token.ErrTokenScopeMismatch, t.ID)
		}
		return nil
	}
	if !t.IsGroupTask {
		return fmt.Errorf("%w: individual task %s takes whole-task links", token.ErrTokenScopeMismatch, t.ID)
	}
	if t.Assignment(assigneeScope) == nil {
		return fmt.Errorf("%w: assignee %s on task %s", ErrAssignmentNotFound, assigneeScope, t.ID)
	}
	return nil
}

// checkScope rejects a task-level token redeemed against the per-assignee
// flow and vice versa. Group tasks close only through individual approvals,
// so they require assignee-scoped tokens; single-assignee tasks take the
// whole-task path. Issuance refuses mismatched pairs up front, but the task
// can gain assignees while a link sits in an inbox, so the shape is checked
// again here against the current task.
func (s *tokenServiceImpl) checkScope(t *task.Task, claims *token.Claims) error {
	if claims.AssigneeScope == "" {
		if t.IsGroupTask {
			return fmt.Errorf("%w: task-level token against group task %s", token.ErrTokenScopeMismatch, t.ID)
		}
		return nil
	}
	if !t.IsGroupTask {
		return fmt.Errorf("%w: assignee-scoped token against individual task %s", token.ErrTokenScopeMismatch, t.ID)
	}
	if t.Assignment(claims.AssigneeScope) == nil {
		return fmt.Errorf("%w: assignee %s not on task %s", token.ErrTokenScopeMismatch, claims.AssigneeScope, t.ID)
	}
	return nil
}

func (s *tokenServiceImpl) publish(ctx context.Context, events ...*event.Event) {
	for _, evt := range events {
		if err := s.historyRepo.Append(ctx, evt); err != nil {
			s.logger.Error("Failed to append history", "error", err, "event_id", evt.ID)
		}
		s.dispatcher.DispatchAsync(ctx, evt)
	}
}
