package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-50 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,50}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 50

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleOwner has full control including user management. Owners
	// receive device connectivity notifications.
	RoleOwner Role = "OWNER"

	// RoleAdmin manages devices and acknowledges notifications.
	// Admins receive device connectivity notifications.
	RoleAdmin Role = "ADMIN"

	// RoleReadOnly can view devices, readings and dashboards but
	// changes nothing and receives no notifications.
	RoleReadOnly Role = "READ_ONLY"
)

// ValidRoles is the set of valid user roles.
var ValidRoles = []Role{RoleOwner, RoleAdmin, RoleReadOnly}

// IsValidRole returns true if the role is recognised.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// CanModify reports whether the role may change system state
// (devices, notifications acknowledgement).
func (r Role) CanModify() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User represents an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Domain errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrInvalidUsername    = errors.New("auth: invalid username")
)
