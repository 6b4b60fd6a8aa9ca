package domain

import "github.com/google/uuid"

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleScanner    UserRole = "scanner"
	RoleUnassigned UserRole = "unassigned"
)

// UserProfile is an operator account. Profiles are owned by the user directory; this
// service only reads them.
type UserProfile struct {
	ID        uuid.UUID `json:"id"`
	Principal string    `json:"principal_id"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
}

func (u *UserProfile) HasRole(roles ...UserRole) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}
