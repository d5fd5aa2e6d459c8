package task

// Status represents the overall lifecycle state of a task. It advances
// primarily through explicit approval decisions, not through stage reports.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusAssigned    Status = "ASSIGNED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusTransferred Status = "TRANSFERRED"
	StatusPending     Status = "PENDING"
)

var validStatuses = map[Status]bool{
	StatusCreated:     true,
	StatusAssigned:    true,
	StatusInProgress:  true,
	StatusCompleted:   true,
	StatusApproved:    true,
	StatusRejected:    true,
	StatusTransferred: true,
	StatusPending:     true,
}

// IsValid returns true if the status is one of the defined constants
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Stage represents the creator-facing workflow position of a task,
// orthogonal to Status. The order NOT_STARTED -> PENDING -> DONE is fixed.
type Stage string

const (
	StageNotStarted Stage = "NOT_STARTED"
	StagePending    Stage = "PENDING"
	StageDone       Stage = "DONE"
)

var stageOrder = map[Stage]int{
	StageNotStarted: 0,
	StagePending:    1,
	StageDone:       2,
}

// IsValid returns true if the stage is one of the defined constants
func (s Stage) IsValid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the position of the stage in the fixed progression
func (s Stage) Order() int {
	return stageOrder[s]
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// Approval is the tri-state approval decision on a task or assignment
type Approval string

const (
	ApprovalPending  Approval = "PENDING"
	ApprovalApproved Approval = "APPROVED"
	ApprovalRejected Approval = "REJECTED"
)

// IsValid returns true if the approval value is one of the defined constants
func (a Approval) IsValid() bool {
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// String returns the string representation of the approval value
func (a Approval) String() string {
	return string(a)
}

// IndividualStatus is the per-assignee progress state within a task
type IndividualStatus string

const (
	IndividualAssigned   IndividualStatus = "ASSIGNED"
	IndividualInProgress IndividualStatus = "IN_PROGRESS"
	IndividualCompleted  IndividualStatus = "COMPLETED"
	IndividualBlocked    IndividualStatus = "BLOCKED"
)

// IsValid returns true if the individual status is one of the defined constants
func (s IndividualStatus) IsValid() bool {
	switch s {
	case IndividualAssigned, IndividualInProgress, IndividualCompleted, IndividualBlocked:
		return true
	default:
		return false
	}
}

// String returns the string representation of the individual status
func (s IndividualStatus) String() string {
	return string(s)
}
