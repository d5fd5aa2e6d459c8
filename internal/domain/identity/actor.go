package identity

// Role represents an actor's authorization scope
type Role string

const (
	RoleMember         Role = "MEMBER"
	RoleDepartmentHead Role = "DEPARTMENT_HEAD"
	RoleAdmin          Role = "ADMIN"
)

// IsValid returns true if the role is one of the defined constants
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleDepartmentHead, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsEscalated returns true if the role may approve tasks it did not create
func (r Role) IsEscalated() bool {
	return r == RoleDepartmentHead || r == RoleAdmin
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// Actor is a user known to the identity collaborator
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
