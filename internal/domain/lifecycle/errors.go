package lifecycle

import "errors"

var (
	// ErrIllegalTransition is returned when a stage transition is not allowed
	ErrIllegalTransition = errors.New("illegal stage transition")

	// ErrInvalidStage is returned when a stage value is not valid
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvalidStatus is returned when a status value is not valid
	ErrInvalidStatus = errors.New("invalid status")

	// ErrAssignmentNotDone is returned when approving an assignment whose
	// work has not been reported done
	ErrAssignmentNotDone = errors.New("assignment is not done")
)
