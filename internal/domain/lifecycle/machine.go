// Package lifecycle holds the task state machine and the group aggregation
// rules. Every legal stage/status transition is enforced here so no caller
// can assign an unvalidated value or re-implement a coupled effect inline.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// StageTransition reports the old and new values of a stage change so the
// caller can emit a domain event. The machine itself never dispatches events.
type StageTransition struct {
	Old task.Stage
	New task.Stage
}

// StatusTransition reports the old and new values of a status change,
// including any stage rollback the change forced.
type StatusTransition struct {
	OldStatus task.Status
	NewStatus task.Status
	OldStage  task.Stage
	NewStage  task.Stage
}

// AdvanceStage moves the task's stage forward. A stage is only reachable if
// it is strictly later in the fixed order than the current stage; DONE is
// always reachable, since it represents the assignee declaring the work
// finished, not an approval. First reaching DONE stamps CompletedAt and the
// elapsed duration from creation; reporting DONE again is accepted as a
// no-op so a repeated report cannot rewrite the completion stamps. The
// task's status is never touched here: status only advances through an
// explicit approval decision.
func AdvanceStage(t *task.Task, newStage task.Stage, now time.Time) (StageTransition, error) {
	tr := StageTransition{Old: t.Stage, New: newStage}

	if !newStage.IsValid() {
		return tr, fmt.Errorf("%w: %q", ErrInvalidStage, newStage)
	}
	if newStage == task.StageDone && t.Stage == task.StageDone {
		return tr, nil
	}
	if newStage != task.StageDone && newStage.Order() <= t.Stage.Order() {
		return tr, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Stage, newStage)
	}

	t.Stage = newStage
	if newStage == task.StageDone {
		completed := now
		t.CompletedAt = &completed
		t.Elapsed = now.Sub(t.CreatedAt)
	}
	return tr, nil
}

// AdvanceAssignmentStage moves a single assignee's stage forward under the
// same monotonicity rule as AdvanceStage, keeping the individual status in
// step: PENDING means the assignee is working, DONE means completed.
func AdvanceAssignmentStage(a *task.Assignment, newStage task.Stage, now time.Time) (StageTransition, error) {
	tr := StageTransition{Old: a.Stage, New: newStage}

	if !newStage.IsValid() {
		return tr, fmt.Errorf("%w: %q", ErrInvalidStage, newStage)
	}
	if newStage == task.StageDone && a.Stage == task.StageDone {
		return tr, nil
	}
	if newStage != task.StageDone && newStage.Order() <= a.Stage.Order() {
		return tr, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.Stage, newStage)
	}

	a.Stage = newStage
	switch newStage {
	case task.StagePending:
		a.Status = task.IndividualInProgress
	case task.StageDone:
		a.Status = task.IndividualCompleted
		completed := now
		a.CompletedAt = &completed
	}
	return tr, nil
}

// SetStatus assigns a new task status and applies its coupled side effects.
// Actor authorization is the caller's responsibility. Transitioning into
// REJECTED, or back into IN_PROGRESS from REJECTED, clears the completion
// and approval stamps and forces the stage back to PENDING by direct
// assignment: rejection is the one sanctioned backward stage movement, a
// deliberate workflow rollback that bypasses AdvanceStage's monotonicity.
func SetStatus(t *task.Task, newStatus task.Status, actorID string, now time.Time) (StatusTransition, error) {
	tr := StatusTransition{
		OldStatus: t.Status,
		OldStage:  t.Stage,
	}

	if !newStatus.IsValid() {
		return tr, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	rollback := newStatus == task.StatusRejected ||
		(newStatus == task.StatusInProgress && t.Status == task.StatusRejected)

	t.Status = newStatus
	switch newStatus {
	case task.StatusCompleted:
		completed := now
		t.CompletedAt = &completed
	case task.StatusApproved:
		approved := now
		t.ApprovedAt = &approved
		t.ApprovedBy = actorID
	}

	if rollback {
		t.CompletedAt = nil
		t.ApprovedAt = nil
		t.ApprovedBy = ""
		t.Stage = task.StagePending
	}

	tr.NewStatus = t.Status
	tr.NewStage = t.Stage
	return tr, nil
}
