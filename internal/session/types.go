package session

import "strings"

// Role is the portal role carried by a user profile and by credential claims.
type Role string

const (
	// RoleStudent is the default portal role.
	RoleStudent Role = "STUDENT"

	// RoleAdmin grants access to admin-only routes.
	RoleAdmin Role = "ADMIN"
)

// ParseRole normalizes a raw role string. Unknown roles are kept as-is (upper-cased).
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// IsAdmin reports whether the role grants admin-only routes.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// UserProfile identifies the logged-in user. It is replaced wholesale on login.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	// AccessToken is the short-lived bearer token. Empty when absent.
	AccessToken string `json:"-"`

	// User is the current profile, nil when nobody is logged in.
	User *UserProfile `json:"user,omitempty"`

	// IsAuthenticated holds iff both AccessToken and User are present.
	IsAuthenticated bool `json:"is_authenticated"`
}
