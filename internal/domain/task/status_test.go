package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{
		StatusCreated, StatusAssigned, StatusInProgress, StatusCompleted,
		StatusApproved, StatusRejected, StatusTransferred, StatusPending,
	} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, Status("PAUSED").IsValid())
	assert.False(t, Status("").IsValid())
}

func TestStageOrder(t *testing.T) {
	assert.Less(t, StageNotStarted.Order(), StagePending.Order())
	assert.Less(t, StagePending.Order(), StageDone.Order())
	assert.False(t, Stage("HALFWAY").IsValid())
}

func TestTaskLookups(t *testing.T) {
	tk := &Task{
		Assignments: []Assignment{
			{AssigneeID: "u1"},
			{AssigneeID: "u2"},
		},
		Tokens: []TokenRecord{{Digest: "d1"}},
	}

	assert.True(t, tk.HasAssignee("u1"))
	assert.False(t, tk.HasAssignee("u3"))
	assert.Equal(t, []string{"u1", "u2"}, tk.AssigneeIDs())
	assert.Nil(t, tk.Assignment("u3"))

	// Lookups return pointers into the task, so mutation sticks.
	tk.Assignment("u1").Stage = StageDone
	assert.Equal(t, StageDone, tk.Assignments[0].Stage)

	assert.NotNil(t, tk.Token("d1"))
	assert.Nil(t, tk.Token("d2"))
}
