package domain

import "fmt"

// Role is the already-authenticated capability set of the caller.
type Role string

const (
	RoleUser         Role = "user"
	RoleAdmin        Role = "admin"
	RoleOrganization Role = "organization"
)

// CanModify reports whether the role may edit or delete existing cases.
func (r Role) CanModify() bool {
	return r == RoleAdmin || r == RoleOrganization
}

// ParseRole converts a raw role name to a Role.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleUser, RoleAdmin, RoleOrganization:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
}
