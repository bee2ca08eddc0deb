package domain

import "fmt"

// Role is an access level label issued by the backend.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleUser:   1,
	RoleAdmin:  2,
}

// Rank returns the position of r in viewer < user < admin. Unknown labels rank as viewer.
func (r Role) Rank() int {
	return roleRank[r]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Satisfies reports whether r is at least required.
func (r Role) Satisfies(required Role) bool {
	return r.Rank() >= required.Rank()
}

// StatusType names one status dimension of a truck.
type StatusType string

const (
	StatusPreparation StatusType = "preparation"
	StatusLoading     StatusType = "loading"
)

func (t StatusType) Valid() bool {
	return t == StatusPreparation || t == StatusLoading
}

const (
	StatusOnProcess = "On Process"
	StatusDelay     = "Delay"
	StatusFinished  = "Finished"
)

// Statuses lists the stage labels in display order.
var Statuses = []string{StatusOnProcess, StatusDelay, StatusFinished}

// ValidStatus reports whether s is a known stage label.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ForbiddenError indicates the current role is below the one required.
type ForbiddenError struct {
	Required Role
	Current  Role
}

func (e ForbiddenError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("role %s required", e.Required)
	}
	return fmt.Sprintf("role %s required (current role %s)", e.Required, e.Current)
}
