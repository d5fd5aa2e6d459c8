package service

import (
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
	"github.com/taskflowhq/taskflow/internal/domain/lifecycle"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/internal/token"
)

// authorizeDecision enforces the approval rule: only the task creator or an
// escalated role (department head, admin) may decide, and an assignee may
// never approve their own work. Checked before any mutation, for both
// authenticated calls and token redemption.
func authorizeDecision(actor *identity.Actor, t *task.Task, assigneeScope string) error {
	if assigneeScope != "" && assigneeScope == actor.ID {
		return fmt.Errorf("%w: %s cannot approve their own work", ErrNotAuthorized, actor.ID)
	}
	if assigneeScope == "" && t.HasAssignee(actor.ID) {
		return fmt.Errorf("%w: assignee %s cannot approve task %s", ErrNotAuthorized, actor.ID, t.ID)
	}
	if actor.ID != t.CreatorID && !actor.Role.IsEscalated() {
		return fmt.Errorf("%w: %s may not decide on task %s", ErrNotAuthorized, actor.ID, t.ID)
	}
	return nil
}

// applyDecision runs the approval workflow against an in-memory task and
// returns the domain events describing what changed. The caller owns
// persistence; nothing here is saved or dispatched.
//
// An assignee-scoped decision updates that assignment and reconciles the
// parent through the group aggregator. A whole-task decision sets the
// approval status directly: approve advances the stage to DONE, reject
// rolls the stage back to PENDING through the sanctioned SetStatus path.
func applyDecision(t *task.Task, decision token.Action, actorID, assigneeScope, reason string, now time.Time) ([]*event.Event, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	if assigneeScope != "" {
		return applyIndividualDecision(t, decision, actorID, assigneeScope, reason, now)
	}

	// The finalized gate binds whole-task decisions only: an assignee-scoped
	// rejection must remain able to reopen a closed group task through the
	// aggregator's rollback rule.
	if t.ApprovalStatus == task.ApprovalApproved {
		return nil, fmt.Errorf("%w: task %s", ErrAlreadyFinalized, t.ID)
	}
	return applyTaskDecision(t, decision, actorID, reason, now)
}

func applyIndividualDecision(t *task.Task, decision token.Action, actorID, assigneeScope, reason string, now time.Time) ([]*event.Event, error) {
	a := t.Assignment(assigneeScope)
	if a == nil {
		return nil, fmt.Errorf("%w: assignee %s on task %s", ErrAssignmentNotFound, assigneeScope, t.ID)
	}

	oldApproval := a.Approval
	if decision == token.ActionApprove {
		if err := lifecycle.ApproveAssignment(a, actorID, now); err != nil {
			return nil, err
		}
	} else {
		lifecycle.RejectAssignment(a, actorID, reason, now)
	}

	events := []*event.Event{
		event.New(event.TypeIndividualApproval, t.ID, actorID,
			oldApproval.String(), a.Approval.String(),
			fmt.Sprintf("Approval for %s set to %s", assigneeScope, a.Approval)).
			WithPayload("assignee", assigneeScope).
			WithPayload("reason", reason),
	}

	res := lifecycle.Reconcile(t, now)
	if res.Closed {
		t.ApprovalStatus = task.ApprovalApproved
		events = append(events, event.New(event.TypeTaskApproved, t.ID, actorID,
			res.OldStatus.String(), res.NewStatus.String(),
			"All assignees approved, task closed"))
	}
	if res.RolledBack {
		t.ApprovalStatus = task.ApprovalRejected
		events = append(events, event.New(event.TypeTaskRejected, t.ID, actorID,
			res.OldStatus.String(), res.NewStatus.String(),
			fmt.Sprintf("Task reopened: work of %s was rejected", assigneeScope)))
	}
	return events, nil
}

func applyTaskDecision(t *task.Task, decision token.Action, actorID, reason string, now time.Time) ([]*event.Event, error) {
	oldStatus := t.Status

	if decision == token.ActionApprove {
		t.ApprovalStatus = task.ApprovalApproved
		if _, err := lifecycle.SetStatus(t, task.StatusApproved, actorID, now); err != nil {
			return nil, err
		}
		if t.Stage != task.StageDone {
			if _, err := lifecycle.AdvanceStage(t, task.StageDone, now); err != nil {
				return nil, err
			}
		}
		// The approval invariant holds at the assignment level too.
		for i := range t.Assignments {
			a := &t.Assignments[i]
			if a.Stage != task.StageDone {
				a.Stage = task.StageDone
				a.Status = task.IndividualCompleted
				completed := now
				a.CompletedAt = &completed
			}
			if a.Approval != task.ApprovalApproved {
				approvedAt := now
				a.Approval = task.ApprovalApproved
				a.ApprovalAt = &approvedAt
				a.ApprovedBy = actorID
			}
		}
		return []*event.Event{
			event.New(event.TypeTaskApproved, t.ID, actorID,
				oldStatus.String(), t.Status.String(), "Task approved"),
		}, nil
	}

	t.ApprovalStatus = task.ApprovalRejected
	if _, err := lifecycle.SetStatus(t, task.StatusRejected, actorID, now); err != nil {
		return nil, err
	}
	for i := range t.Assignments {
		lifecycle.RejectAssignment(&t.Assignments[i], actorID, reason, now)
	}
	return []*event.Event{
		event.New(event.TypeTaskRejected, t.ID, actorID,
			oldStatus.String(), t.Status.String(),
			fmt.Sprintf("Task rejected: %s", reason)).
			WithPayload("reason", reason),
	}, nil
}
