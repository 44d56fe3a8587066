package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wrapped
// copies still match the predefined kinds below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound            = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden           = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized        = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict            = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTooManyRequests     = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss           = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "booking is no longer open for this action")
	ErrResourceNotFound    = New("RESOURCE_NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrResourceUnavailable = New("RESOURCE_UNAVAILABLE", http.StatusConflict, "resource is under maintenance")
)

// Authentication gate failures.
var (
	ErrUserNotFound       = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")
	ErrUnauthenticated    = New("UNAUTHENTICATED", http.StatusUnauthorized, "invalid email or password")
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrAccountLocked      = New("ACCOUNT_LOCKED", http.StatusLocked, "account is locked")
	ErrDuplicateIdentity  = New("DUPLICATE_IDENTITY", http.StatusConflict, "email already exists")
	ErrInvalidRole        = New("INVALID_ROLE", http.StatusBadRequest, "invalid role, must be ADMIN, STUDENT or STAFF")
)

// Booking engine failures.
var (
	ErrInvalidTimeRange   = New("INVALID_TIME_RANGE", http.StatusBadRequest, "end time must be after start time")
	ErrDurationExceeded   = New("DURATION_EXCEEDED", http.StatusUnprocessableEntity, "booking exceeds the maximum duration for this role")
	ErrDailyLimitExceeded = New("DAILY_LIMIT_EXCEEDED", http.StatusUnprocessableEntity, "students can only make one booking per day")
	ErrSlotUnavailable    = New("SLOT_UNAVAILABLE", http.StatusConflict, "time slot is already booked")
	ErrBookingNotFound    = New("BOOKING_NOT_FOUND", http.StatusNotFound, "booking not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the provided details merged over
// any existing ones.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// Internal wraps an unexpected failure (typically a store error) as INTERNAL_ERROR.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
