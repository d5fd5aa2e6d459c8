package event

// Type identifies the type of domain event
type Type string

const (
	TypeTaskCreated        Type = "task.created"
	TypeTaskAssigned       Type = "task.assigned"
	TypeStageChanged       Type = "task.stage_changed"
	TypeTaskApproved       Type = "task.approved"
	TypeTaskRejected       Type = "task.rejected"
	TypeIndividualApproval Type = "task.individual_approval"
	TypeRemarkAdded        Type = "task.remark_added"
	TypeApprovalReminder   Type = "task.approval_reminder"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskCreated,
		TypeTaskAssigned,
		TypeStageChanged,
		TypeTaskApproved,
		TypeTaskRejected,
		TypeIndividualApproval,
		TypeRemarkAdded,
		TypeApprovalReminder:
		return true
	default:
		return false
	}
}
