package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-booking-api/internal/models"
)

const bookingColumns = `id, user_id, resource_id, booking_date, start_time, end_time, status, rejection_reason, created_at, updated_at`

// BookingStore is the query surface available inside a booking scope.
type BookingStore interface {
	FindByResourceAndDate(ctx context.Context, resourceID string, date models.Date) ([]models.Booking, error)
	FindByUserAndDate(ctx context.Context, userID string, date models.Date) ([]models.Booking, error)
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	Save(ctx context.Context, booking *models.Booking) error
}

// BookingScope names the (resource, date) and optional (user, date) pair whose
// check-then-write sequences must not interleave.
type BookingScope struct {
	ResourceID string
	UserID     string
	Date       models.Date
}

// Keys returns the advisory lock keys in acquisition order.
func (s BookingScope) Keys() []string {
	keys := []string{fmt.Sprintf("resource:%s:%s", s.ResourceID, s.Date)}
	if s.UserID != "" {
		keys = append(keys, fmt.Sprintf("user:%s:%s", s.UserID, s.Date))
	}
	return keys
}

// BookingRepository persists reservations.
type BookingRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewBookingRepository constructs a booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) exec() sqlx.ExtContext {
	if r.ext != nil {
		return r.ext
	}
	return r.db
}

// FindByResourceAndDate lists bookings on a resource for a day, earliest first.
func (r *BookingRepository) FindByResourceAndDate(ctx context.Context, resourceID string, date models.Date) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE resource_id = $1 AND booking_date = $2 ORDER BY start_time ASC`
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(), &bookings, query, resourceID, date); err != nil {
		return nil, fmt.Errorf("find bookings by resource and date: %w", err)
	}
	return bookings, nil
}

// FindByUserAndDate lists a user's bookings for a day.
func (r *BookingRepository) FindByUserAndDate(ctx context.Context, userID string, date models.Date) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 AND booking_date = $2 ORDER BY start_time ASC`
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(), &bookings, query, userID, date); err != nil {
		return nil, fmt.Errorf("find bookings by user and date: %w", err)
	}
	return bookings, nil
}

// FindByUser lists every booking of a user, newest day first.
func (r *BookingRepository) FindByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY booking_date DESC, start_time ASC`
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(), &bookings, query, userID); err != nil {
		return nil, fmt.Errorf("find bookings by user: %w", err)
	}
	return bookings, nil
}

// FindAll lists bookings matching the filter, newest day first.
func (r *BookingRepository) FindAll(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if filter.Date != nil {
		args = append(args, *filter.Date)
		conditions = append(conditions, fmt.Sprintf("booking_date = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + bookingColumns + ` FROM bookings`)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	sb.WriteString(" ORDER BY booking_date DESC, start_time ASC")

	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(), &bookings, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// FindByID returns a booking by identifier or sql.ErrNoRows.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	var booking models.Booking
	if err := sqlx.GetContext(ctx, r.exec(), &booking, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find booking by id: %w", err)
	}
	return &booking, nil
}

// Save inserts a new booking or updates the status and reason of an existing
// one. Two overlapping APPROVED rows on the same resource and day yield ErrOverlap.
func (r *BookingRepository) Save(ctx context.Context, booking *models.Booking) error {
	now := time.Now().UTC()
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	const query = `INSERT INTO bookings (id, user_id, resource_id, booking_date, start_time, end_time, status, rejection_reason, created_at, updated_at)
VALUES (:id, :user_id, :resource_id, :booking_date, :start_time, :end_time, :status, :rejection_reason, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, rejection_reason = EXCLUDED.rejection_reason, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(), query, booking); err != nil {
		if isExclusionViolation(err) {
			return ErrOverlap
		}
		return fmt.Errorf("save booking: %w", err)
	}
	return nil
}

// InScope runs fn in a transaction holding advisory locks for every key of
// scope. Locks are taken in Keys order and released on commit or rollback.
func (r *BookingRepository) InScope(ctx context.Context, scope BookingScope, fn func(store BookingStore) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range scope.Keys() {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("acquire booking lock %s: %w", key, err)
		}
	}

	if err = fn(&BookingRepository{db: r.db, ext: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		if isExclusionViolation(err) {
			return ErrOverlap
		}
		return fmt.Errorf("commit booking transaction: %w", err)
	}
	return nil
}
