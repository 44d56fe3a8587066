package models

import (
	"fmt"
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
)

// rolePrefix is the authority prefix some clients still send ("ROLE_ADMIN").
const rolePrefix = "ROLE_"

// ParseRole normalises a raw role string into one of the recognised roles.
// It is the only place the prefix is stripped; everything downstream works
// with UserRole values.
func ParseRole(raw string) (UserRole, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, rolePrefix)
	switch role := UserRole(normalized); role {
	case RoleAdmin, RoleStudent, RoleStaff:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether r is one of the recognised roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleStudent, RoleStaff:
		return true
	}
	return false
}

// AccountStatus is the lockout state of a user.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountLocked AccountStatus = "LOCKED"
)

// User represents an application user stored in the users table.
type User struct {
	ID             string        `db:"id" json:"id"`
	Email          string        `db:"email" json:"email"`
	Name           string        `db:"name" json:"name"`
	PasswordHash   string        `db:"password_hash" json:"-"`
	Role           UserRole      `db:"role" json:"role"`
	Status         AccountStatus `db:"status" json:"status"`
	FailedAttempts int           `db:"failed_attempts" json:"-"`
	LockTime       *time.Time    `db:"lock_time" json:"-"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Lock marks the account locked at now.
func (u *User) Lock(now time.Time) {
	u.Status = AccountLocked
	locked := now
	u.LockTime = &locked
}

// Unlock returns the account to ACTIVE and clears the lockout counters.
func (u *User) Unlock() {
	u.Status = AccountActive
	u.FailedAttempts = 0
	u.LockTime = nil
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
