package task

import (
	"time"
)

// Task represents a trackable unit of work with one creator and one or more
// assignees. All legal mutation goes through the lifecycle package and the
// application services; no other code path may assign status/stage values.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id"`

	Status Status `json:"status"`
	Stage  Stage  `json:"stage"`

	// IsGroupTask is true when the task has more than one assignee, or was
	// explicitly forced at creation time.
	IsGroupTask bool `json:"is_group_task"`

	// Assignments holds one record per assignee; never empty once assigned.
	Assignments []Assignment `json:"assignments,omitempty"`

	// ApprovalStatus is empty until the first approval decision is made
	// through the approval path.
	ApprovalStatus Approval `json:"approval_status,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`

	// Elapsed is the duration between creation and the assignee-reported
	// completion, stamped when the stage reaches DONE.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	LastReminderSent *time.Time `json:"last_reminder_sent,omitempty"`

	// Tokens is the audit list of capability tokens issued for this task.
	// The used flag here is authoritative for single-use; the token's
	// signature only proves authenticity.
	Tokens []TokenRecord `json:"tokens,omitempty"`

	// Version is incremented on every save and checked on write to detect
	// concurrent modification.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment is one assignee's individual progress record within a task
type Assignment struct {
	AssigneeID string `json:"assignee_id"`

	Stage  Stage            `json:"stage"`
	Status IndividualStatus `json:"status"`

	// Approval is the per-person decision made by the task creator or a
	// delegated approver, never by the assignee themselves.
	Approval Approval `json:"approval"`

	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ApprovalAt      *time.Time `json:"approval_at,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// TokenRecord is the persisted audit entry for an issued capability token.
// Only the digest of the opaque token is stored, never the raw value.
type TokenRecord struct {
	Digest        string     `json:"digest"`
	ActorID       string     `json:"actor_id"`
	Action        string     `json:"action"`
	AssigneeScope string     `json:"assignee_scope,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}

// Assignment returns the assignment record for the given assignee, or nil
func (t *Task) Assignment(assigneeID string) *Assignment {
	for i := range t.Assignments {
		if t.Assignments[i].AssigneeID == assigneeID {
			return &t.Assignments[i]
		}
	}
	return nil
}

// HasAssignee returns true if the given actor is one of the task's assignees
func (t *Task) HasAssignee(actorID string) bool {
	return t.Assignment(actorID) != nil
}

// AssigneeIDs returns the ordered list of assignee identities
func (t *Task) AssigneeIDs() []string {
	ids := make([]string, 0, len(t.Assignments))
	for i := range t.Assignments {
		ids = append(ids, t.Assignments[i].AssigneeID)
	}
	return ids
}

// Token returns the audit record matching the given digest, or nil
func (t *Task) Token(digest string) *TokenRecord {
	for i := range t.Tokens {
		if t.Tokens[i].Digest == digest {
			return &t.Tokens[i]
		}
	}
	return nil
}
