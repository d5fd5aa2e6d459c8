package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/internal/token"
)

// Walks a single-assignee task through its whole life: create, assign,
// start, report done, approve.
func TestApprovalService_SingleAssigneeFullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "quarterly report", CreatorID: "creator", AssigneeIDs: []string{"u1"},
	})
	require.NoError(t, err)

	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StagePending, "u1")
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u1")
	require.NoError(t, err)

	got, err := f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator",
	})
	require.NoError(t, err)

	assert.Equal(t, task.StatusApproved, got.Status)
	assert.Equal(t, task.StageDone, got.Stage)
	assert.Equal(t, task.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, "creator", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	// The lone assignment mirrors the parent.
	assert.Equal(t, task.ApprovalApproved, got.Assignments[0].Approval)

	approved := f.dispatcher.byType(event.TypeTaskApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, tk.ID, approved[0].TaskID)
}

func TestApprovalService_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"), member("stranger"), departmentHead("head"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1"},
	})
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u1")
	require.NoError(t, err)

	t.Run("assignee cannot approve own work", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "u1",
		})
		assert.True(t, errors.Is(err, ErrNotAuthorized))
	})

	t.Run("uninvolved member cannot decide", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "stranger",
		})
		assert.True(t, errors.Is(err, ErrNotAuthorized))
	})

	t.Run("escalated role may decide", func(t *testing.T) {
		got, err := f.approvals.Decide(ctx, DecideRequest{
			TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "head",
		})
		require.NoError(t, err)
		assert.Equal(t, task.StatusApproved, got.Status)
		assert.Equal(t, "head", got.ApprovedBy)
	})
}

func TestApprovalService_WholeTaskReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1"},
	})
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u1")
	require.NoError(t, err)

	got, err := f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionReject, ActorID: "creator", Reason: "incomplete",
	})
	require.NoError(t, err)

	assert.Equal(t, task.StatusRejected, got.Status)
	assert.Equal(t, task.StagePending, got.Stage, "rejection rolls the stage back to actionable")
	assert.Equal(t, task.ApprovalRejected, got.ApprovalStatus)
	assert.Nil(t, got.CompletedAt)

	a := got.Assignment("u1")
	assert.Equal(t, task.ApprovalRejected, a.Approval)
	assert.Equal(t, task.StagePending, a.Stage)
	assert.Equal(t, "incomplete", a.RejectionReason)

	rejected := f.dispatcher.byType(event.TypeTaskRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "incomplete", rejected[0].GetPayloadString("reason"))
}

// Group flow: one member approved, one rejected, then revised, re-approved,
// and the parent closes with the last approver's stamps.
func TestApprovalService_GroupRejectAndReapprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"), member("u2"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u1")
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u2")
	require.NoError(t, err)

	// Approve u1, reject u2.
	_, err = f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: "u1",
	})
	require.NoError(t, err)
	got, err := f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionReject, ActorID: "creator",
		AssigneeScope: "u2", Reason: "wrong numbers",
	})
	require.NoError(t, err)

	assert.NotEqual(t, task.StatusApproved, got.Status)
	assert.Equal(t, task.ApprovalRejected, got.Assignment("u2").Approval)
	assert.Equal(t, task.StagePending, got.Assignment("u2").Stage)
	assert.Equal(t, task.ApprovalApproved, got.Assignment("u1").Approval, "other approvals survive")

	// u2 revises and reports done again.
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u2")
	require.NoError(t, err)

	// Re-approval closes the task.
	got, err = f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: "u2",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, got.Status)
	assert.Equal(t, task.StageDone, got.Stage)
	assert.Equal(t, task.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, "creator", got.ApprovedBy)
}

// A closed group task refuses further whole-task decisions, but a later
// assignee-scoped rejection reopens it: the parent is demoted and its
// approval stamps are cleared.
func TestApprovalService_LateRejectionReopensClosedTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), departmentHead("head"), member("u1"), member("u2"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u1")
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, "u2")
	require.NoError(t, err)

	for _, scope := range []string{"u1", "u2"} {
		_, err = f.approvals.Decide(ctx, DecideRequest{
			TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: scope,
		})
		require.NoError(t, err)
	}

	stored, err := f.taskRepo.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusApproved, stored.Status)

	// Whole-task decisions are refused once the task has closed.
	_, err = f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionReject, ActorID: "head", Reason: "audit failed",
	})
	assert.True(t, errors.Is(err, ErrAlreadyFinalized))

	// An assignee-scoped rejection is not: it rolls the closed parent back.
	got, err := f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionReject, ActorID: "head",
		AssigneeScope: "u2", Reason: "audit failed",
	})
	require.NoError(t, err)

	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, task.StagePending, got.Stage)
	assert.Equal(t, task.ApprovalRejected, got.ApprovalStatus)
	assert.Empty(t, got.ApprovedBy)
	assert.Nil(t, got.ApprovedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, task.ApprovalRejected, got.Assignment("u2").Approval)
	assert.Equal(t, task.StagePending, got.Assignment("u2").Stage)
	assert.Equal(t, task.ApprovalApproved, got.Assignment("u1").Approval, "other approvals survive")

	rejected := f.dispatcher.byType(event.TypeTaskRejected)
	require.NotEmpty(t, rejected)
	assert.Equal(t, tk.ID, rejected[len(rejected)-1].TaskID)
}

// The closing approval and a rejection of another member must land in the
// same final state no matter which order they arrive in.
func TestApprovalService_DecisionOrderConverges(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, rejectFirst bool) *task.Task {
		f := newFixture(member("creator"), member("u1"), member("u2"))
		tk, err := f.tasks.Create(ctx, CreateTaskRequest{
			Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1", "u2"},
		})
		require.NoError(t, err)
		for _, u := range []string{"u1", "u2"} {
			_, err = f.tasks.ReportStage(ctx, tk.ID, task.StagePending, u)
			require.NoError(t, err)
			_, err = f.tasks.ReportStage(ctx, tk.ID, task.StageDone, u)
			require.NoError(t, err)
		}

		approve := DecideRequest{
			TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: "u1",
		}
		reject := DecideRequest{
			TaskID: tk.ID, Decision: token.ActionReject, ActorID: "creator",
			AssigneeScope: "u2", Reason: "redo",
		}
		order := []DecideRequest{approve, reject}
		if rejectFirst {
			order = []DecideRequest{reject, approve}
		}
		for _, req := range order {
			_, err = f.approvals.Decide(ctx, req)
			require.NoError(t, err)
		}

		got, err := f.taskRepo.GetByID(ctx, tk.ID)
		require.NoError(t, err)
		return got
	}

	a := run(t, false)
	b := run(t, true)

	for _, got := range []*task.Task{a, b} {
		assert.Equal(t, task.StatusInProgress, got.Status)
		assert.Equal(t, task.StagePending, got.Stage)
		assert.Empty(t, got.ApprovedBy)
		assert.Nil(t, got.ApprovedAt)
		assert.Nil(t, got.CompletedAt)
		assert.Equal(t, task.ApprovalApproved, got.Assignment("u1").Approval)
		assert.Equal(t, task.ApprovalRejected, got.Assignment("u2").Approval)
		assert.Equal(t, task.StagePending, got.Assignment("u2").Stage)
	}
}

func TestApprovalService_IndividualApprovalRequiresDone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"), member("u2"))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	_, err = f.tasks.ReportStage(ctx, tk.ID, task.StagePending, "u1")
	require.NoError(t, err)

	_, err = f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: "u1",
	})
	assert.Error(t, err, "approval cannot outrun the work it approves")
}

func TestApprovalService_UnknownTaskAndScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(member("creator"), member("u1"))

	_, err := f.approvals.Decide(ctx, DecideRequest{
		TaskID: "missing", Decision: token.ActionApprove, ActorID: "creator",
	})
	assert.True(t, errors.Is(err, port.ErrNotFound))

	tk, err := f.tasks.Create(ctx, CreateTaskRequest{
		Title: "x", CreatorID: "creator", AssigneeIDs: []string{"u1"},
	})
	require.NoError(t, err)

	_, err = f.approvals.Decide(ctx, DecideRequest{
		TaskID: tk.ID, Decision: token.ActionApprove, ActorID: "creator", AssigneeScope: "ghost",
	})
	assert.True(t, errors.Is(err, ErrAssignmentNotFound))
}
