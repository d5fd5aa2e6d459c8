package lifecycle

import (
	"fmt"
	"time"

	"github.com/taskflowhq/taskflow/internal/domain/task"
)

// ApproveAssignment records an approval decision for one assignee. The
// assignee's work must already be reported done; an approval can never
// outrun the work it approves.
func ApproveAssignment(a *task.Assignment, approverID string, now time.Time) error {
	if a.Stage != task.StageDone {
		return fmt.Errorf("%w: assignee %s is at stage %s", ErrAssignmentNotDone, a.AssigneeID, a.Stage)
	}
	approvedAt := now
	a.Approval = task.ApprovalApproved
	a.ApprovalAt = &approvedAt
	a.ApprovedBy = approverID
	a.RejectionReason = ""
	return nil
}

// RejectAssignment records a rejection and returns the assignee to
// actionable work: stage back to PENDING, status back to IN_PROGRESS.
// Rejection never leaves an assignment in a terminal dead state.
func RejectAssignment(a *task.Assignment, approverID, reason string, now time.Time) {
	rejectedAt := now
	a.Approval = task.ApprovalRejected
	a.ApprovalAt = &rejectedAt
	a.ApprovedBy = approverID
	a.RejectionReason = reason
	a.Stage = task.StagePending
	a.Status = task.IndividualInProgress
	a.CompletedAt = nil
}

// AllIndividuallyDone returns true iff every assignment has reported done
func AllIndividuallyDone(t *task.Task) bool {
	if len(t.Assignments) == 0 {
		return false
	}
	for i := range t.Assignments {
		if t.Assignments[i].Stage != task.StageDone {
			return false
		}
	}
	return true
}

// AllApproved returns true iff every assignment has been approved
func AllApproved(t *task.Task) bool {
	if len(t.Assignments) == 0 {
		return false
	}
	for i := range t.Assignments {
		if t.Assignments[i].Approval != task.ApprovalApproved {
			return false
		}
	}
	return true
}

// AnyRejected returns true iff at least one assignment has been rejected
func AnyRejected(t *task.Task) bool {
	for i := range t.Assignments {
		if t.Assignments[i].Approval == task.ApprovalRejected {
			return true
		}
	}
	return false
}

// ReconcileResult reports what Reconcile changed on the parent task
type ReconcileResult struct {
	Changed    bool
	Closed     bool
	RolledBack bool
	OldStatus  task.Status
	NewStatus  task.Status
	OldStage   task.Stage
	NewStage   task.Stage
}

// Reconcile derives the parent task's state from its assignments and is
// re-run after every per-assignee decision, not only at the moment of
// rejection, because approvals and rejections can race.
//
// Closing rule: all assignees done and all approved is the only path by
// which a group task reaches APPROVED; the stamps come from the most recent
// approver. Rollback rule: a rejected member while the parent is APPROVED
// or COMPLETED demotes the parent to IN_PROGRESS/PENDING and clears the
// approval stamps, so the parent can never stay approved over rejected work;
// a rejection against a merely done parent pulls the stage back the same way.
// For a single-assignee task the lone assignment directly mirrors the parent.
func Reconcile(t *task.Task, now time.Time) ReconcileResult {
	res := ReconcileResult{
		OldStatus: t.Status,
		OldStage:  t.Stage,
		NewStatus: t.Status,
		NewStage:  t.Stage,
	}

	if AnyRejected(t) {
		if t.Status == task.StatusApproved || t.Status == task.StatusCompleted {
			t.Status = task.StatusInProgress
			t.Stage = task.StagePending
			t.ApprovedAt = nil
			t.ApprovedBy = ""
			t.CompletedAt = nil
			res.Changed = true
			res.RolledBack = true
			res.NewStatus = t.Status
			res.NewStage = t.Stage
		} else if t.Stage == task.StageDone {
			// A rejected member has open work again, so the parent's done
			// stage no longer holds. Keeping this in step means the final
			// state does not depend on whether the rejection landed before
			// or after the closing approval.
			t.Stage = task.StagePending
			t.CompletedAt = nil
			res.Changed = true
			res.NewStage = t.Stage
		}
		return res
	}

	if AllIndividuallyDone(t) && AllApproved(t) && t.Status != task.StatusApproved {
		approver, approvedAt := lastApprover(t, now)
		t.Status = task.StatusApproved
		t.Stage = task.StageDone
		t.ApprovedAt = &approvedAt
		t.ApprovedBy = approver
		if t.CompletedAt == nil {
			completed := approvedAt
			t.CompletedAt = &completed
		}
		res.Changed = true
		res.Closed = true
		res.NewStatus = t.Status
		res.NewStage = t.Stage
	}
	return res
}

// lastApprover returns the identity and time of the most recent approval
func lastApprover(t *task.Task, fallback time.Time) (string, time.Time) {
	var approver string
	var latest time.Time
	for i := range t.Assignments {
		a := &t.Assignments[i]
		if a.Approval != task.ApprovalApproved || a.ApprovalAt == nil {
			continue
		}
		if a.ApprovalAt.After(latest) {
			latest = *a.ApprovalAt
			approver = a.ApprovedBy
		}
	}
	if latest.IsZero() {
		latest = fallback
	}
	return approver, latest
}
