package models

import "time"

// BookingStatus captures the lifecycle of a reservation.
type BookingStatus string

const (
	BookingPending    BookingStatus = "PENDING"
	BookingApproved   BookingStatus = "APPROVED"
	BookingRejected   BookingStatus = "REJECTED"
	BookingOverridden BookingStatus = "OVERRIDDEN"
	BookingCancelled  BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingRejected, BookingOverridden, BookingCancelled:
		return true
	}
	return false
}

// CountsTowardDailyLimit reports whether a booking in this status occupies a
// student's one booking per day. OVERRIDDEN still counts.
func (s BookingStatus) CountsTowardDailyLimit() bool {
	return s != BookingRejected && s != BookingCancelled
}

// Reasons recorded on demoted bookings.
const (
	ReasonOverridden      = "Overridden by admin booking"
	ReasonRejectedDefault = "Rejected by admin"
)

// Booking is a reservation of a resource for [StartTime, EndTime) on BookingDate.
type Booking struct {
	ID              string        `db:"id" json:"id"`
	UserID          string        `db:"user_id" json:"user_id"`
	ResourceID      string        `db:"resource_id" json:"resource_id"`
	BookingDate     Date          `db:"booking_date" json:"booking_date"`
	StartTime       TimeOfDay     `db:"start_time" json:"start_time"`
	EndTime         TimeOfDay     `db:"end_time" json:"end_time"`
	Status          BookingStatus `db:"status" json:"status"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Duration is the booked length.
func (b Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// Overlaps applies the half-open rule: touching endpoints do not overlap.
func Overlaps(start, end, otherStart, otherEnd TimeOfDay) bool {
	return start < otherEnd && end > otherStart
}

// ConflictsWith reports whether b is an APPROVED booking overlapping [start, end).
func (b Booking) ConflictsWith(start, end TimeOfDay) bool {
	return b.Status == BookingApproved && Overlaps(start, end, b.StartTime, b.EndTime)
}

// CreateBookingRequest is the engine input for a new reservation.
type CreateBookingRequest struct {
	ResourceID  string    `json:"resource_id" validate:"required"`
	BookingDate Date      `json:"booking_date"`
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
}

// RejectBookingRequest carries an optional reason.
type RejectBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingFilter narrows admin listings.
type BookingFilter struct {
	Status     *BookingStatus
	ResourceID string
	Date       *Date
}

// TimeSlot is a derived, never persisted, window of the availability grid.
type TimeSlot struct {
	Start     TimeOfDay `json:"start_time"`
	End       TimeOfDay `json:"end_time"`
	Available bool      `json:"available"`
}

// Placeholders rendered for bookings whose owner no longer resolves.
const (
	UnknownUserName  = "Unknown User"
	UnknownUserEmail = "unknown@email.com"
	UnknownUserRole  = "UNKNOWN"
)

// BookingView is a booking enriched with owner and resource details for list responses.
type BookingView struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	UserName        string        `json:"user_name"`
	UserEmail       string        `json:"user_email"`
	UserRole        string        `json:"user_role"`
	ResourceID      string        `json:"resource_id"`
	ResourceName    string        `json:"resource_name,omitempty"`
	BookingDate     Date          `json:"booking_date"`
	StartTime       TimeOfDay     `json:"start_time"`
	EndTime         TimeOfDay     `json:"end_time"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          BookingStatus `json:"status"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
