package auth

import (
	"github.com/google/uuid"
)

// Role is the platform role carried in the access token
type Role string

const (
	RoleClient     Role = "CLIENT"
	RoleFreelancer Role = "FREELANCER"
	RoleBroker     Role = "BROKER"
	RoleStaff      Role = "STAFF"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleFreelancer, RoleBroker, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// IsStaff is true for roles that work the dispute queue
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsAdmin reports whether the actor may override moderator-only actions
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
