package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// RegisterRequest creates a new account. Role is parsed with ParseRole so
// "role_staff" and "STAFF" are equivalent.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required"`
}

// UnlockAccountRequest identifies the account an admin unlocks.
type UnlockAccountRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  UserRole `json:"role"`
}

// LockState is the read-only view returned by the account status query.
type LockState string

const (
	LockStateActive   LockState = "ACTIVE"
	LockStateLocked   LockState = "LOCKED"
	LockStateUnlocked LockState = "UNLOCKED"
)

// AccountStatusResponse reports the lockout state for an email.
type AccountStatusResponse struct {
	Email            string    `json:"email"`
	State            LockState `json:"state"`
	RemainingMinutes float64   `json:"remaining_minutes,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
