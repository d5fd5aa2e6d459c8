package service

import "errors"

var (
	// ErrNotAuthorized is returned when an actor may not perform the
	// requested action; authorization is checked before any mutation
	ErrNotAuthorized = errors.New("actor not authorized")

	// ErrAlreadyFinalized is returned when a whole-task decision targets a
	// task whose approval is already settled. Assignee-scoped rejections are
	// exempt: they reopen a closed group task through the aggregator.
	ErrAlreadyFinalized = errors.New("task approval already finalized")

	// ErrAssignmentNotFound is returned when a decision or report targets
	// an assignee that is not on the task
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrNoAssignees is returned when an assignment request carries an
	// empty assignee list
	ErrNoAssignees = errors.New("assignee list is empty")

	// ErrDuplicateAssignee is returned when an assignment request repeats
	// an assignee
	ErrDuplicateAssignee = errors.New("duplicate assignee")

	// ErrInvalidDecision is returned when a decision is neither approve
	// nor reject
	ErrInvalidDecision = errors.New("invalid decision")
)

// saveRetries bounds the read-modify-write retry loop on version conflicts
const saveRetries = 3
