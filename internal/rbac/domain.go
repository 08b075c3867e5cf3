package rbac

import "time"

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// RoleTemplate seeds a role and the permissions granted to it.
type RoleTemplate struct {
	Name        string
	Description string
	Permissions []string
}
