package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/repository"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/sanitize"
)

const bookingAuditResource = "booking"

type bookingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	FindByResourceAndDate(ctx context.Context, resourceID string, date models.Date) ([]models.Booking, error)
	FindByUser(ctx context.Context, userID string) ([]models.Booking, error)
	FindAll(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	InScope(ctx context.Context, scope repository.BookingScope, fn func(store repository.BookingStore) error) error
}

type bookingUserReader interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

type bookingResourceReader interface {
	FindByID(ctx context.Context, id string) (*models.Resource, error)
	List(ctx context.Context) ([]models.Resource, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// BookingConfig carries the role caps, the day window and approval policy.
type BookingConfig struct {
	StudentMaxDuration time.Duration
	StaffMaxDuration   time.Duration
	RecheckOnApproval  bool
	Window             DayWindow
	AvailabilityTTL    time.Duration
}

// BookingService is the booking allocation engine.
type BookingService struct {
	bookings  bookingRepository
	users     bookingUserReader
	resources bookingResourceReader
	audit     auditLogger
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    BookingConfig
}

// NewBookingService constructs a BookingService.
func NewBookingService(
	bookings bookingRepository,
	users bookingUserReader,
	resources bookingResourceReader,
	audit auditLogger,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config BookingConfig,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StudentMaxDuration <= 0 {
		config.StudentMaxDuration = 60 * time.Minute
	}
	if config.StaffMaxDuration <= 0 {
		config.StaffMaxDuration = 8 * time.Hour
	}
	if config.Window.Start >= config.Window.End || config.Window.Slot <= 0 {
		config.Window = DefaultDayWindow()
	}
	return &BookingService{
		bookings:  bookings,
		users:     users,
		resources: resources,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Create validates a reservation against the role rules and current approvals,
// then persists it. Admin requests displace conflicting approvals; everyone
// else gets a PENDING booking or SLOT_UNAVAILABLE.
func (s *BookingService) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateBookingRequest) (*models.Booking, error) {
	booking, err := s.create(ctx, actor, req)
	if err != nil {
		s.metrics.RecordBooking(outcomeLabel(err))
		return nil, err
	}
	s.metrics.RecordBooking("created_" + string(booking.Status))
	return booking, nil
}

func (s *BookingService) create(ctx context.Context, actor *models.JWTClaims, req models.CreateBookingRequest) (*models.Booking, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	if req.BookingDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "booking_date is required")
	}

	user, err := s.users.FindByEmail(ctx, models.NormalizeEmail(actor.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}

	if _, err := s.bookableResource(ctx, req.ResourceID); err != nil {
		return nil, err
	}

	if req.StartTime >= req.EndTime {
		return nil, appErrors.Clone(appErrors.ErrInvalidTimeRange, "")
	}
	duration := req.EndTime.Sub(req.StartTime)
	if limit, capped := s.maxDuration(user.Role); capped && duration > limit {
		return nil, appErrors.WithDetails(appErrors.ErrDurationExceeded,
			fmt.Sprintf("%s bookings cannot exceed %d minutes", user.Role, int(limit.Minutes())),
			map[string]interface{}{"max_minutes": int(limit.Minutes()), "requested_minutes": int(duration.Minutes())})
	}

	booking := &models.Booking{
		UserID:      user.ID,
		ResourceID:  req.ResourceID,
		BookingDate: req.BookingDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	scope := repository.BookingScope{ResourceID: req.ResourceID, Date: req.BookingDate}
	if user.Role == models.RoleStudent {
		scope.UserID = user.ID
	}

	var overridden []models.Booking
	err = s.bookings.InScope(ctx, scope, func(store repository.BookingStore) error {
		if user.Role == models.RoleStudent {
			if err := s.checkDailyLimit(ctx, store, user.ID, req.BookingDate); err != nil {
				return err
			}
		}

		existing, err := store.FindByResourceAndDate(ctx, req.ResourceID, req.BookingDate)
		if err != nil {
			return appErrors.Internal(err, "failed to load bookings")
		}
		conflicts := conflicting(existing, req.StartTime, req.EndTime, "")

		if user.Role == models.RoleAdmin {
			reason := models.ReasonOverridden
			for i := range conflicts {
				conflicts[i].Status = models.BookingOverridden
				conflicts[i].RejectionReason = &reason
				if err := store.Save(ctx, &conflicts[i]); err != nil {
					return appErrors.Internal(err, "failed to override booking")
				}
			}
			overridden = conflicts
			booking.Status = models.BookingApproved
		} else {
			if len(conflicts) > 0 {
				return slotUnavailable(conflicts)
			}
			booking.Status = models.BookingPending
		}

		if err := store.Save(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrOverlap) {
				return appErrors.Clone(appErrors.ErrSlotUnavailable, "")
			}
			return appErrors.Internal(err, "failed to save booking")
		}
		return nil
	})
	if err != nil {
		return nil, translateScopeError(err)
	}

	for i := range overridden {
		s.logger.Info("booking overridden by admin",
			zap.String("booking_id", overridden[i].ID),
			zap.String("by_booking_id", booking.ID))
		s.emitAudit(ctx, actor, models.AuditActionBookingOverride, &overridden[i])
	}
	s.emitAudit(ctx, actor, models.AuditActionBookingCreate, booking)
	s.invalidateAvailability(ctx, booking.ResourceID, booking.BookingDate)
	return booking, nil
}

func (s *BookingService) bookableResource(ctx context.Context, id string) (*models.Resource, error) {
	resource, err := s.resources.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrResourceNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load resource")
	}
	if resource.Status == models.ResourceMaintenance {
		return nil, appErrors.Clone(appErrors.ErrResourceUnavailable, "")
	}
	return resource, nil
}

// maxDuration returns the cap for role; ADMIN is uncapped.
func (s *BookingService) maxDuration(role models.UserRole) (time.Duration, bool) {
	switch role {
	case models.RoleStudent:
		return s.config.StudentMaxDuration, true
	case models.RoleStaff:
		return s.config.StaffMaxDuration, true
	default:
		return 0, false
	}
}

func (s *BookingService) checkDailyLimit(ctx context.Context, store repository.BookingStore, userID string, date models.Date) error {
	own, err := store.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return appErrors.Internal(err, "failed to load user bookings")
	}
	for _, b := range own {
		if b.Status.CountsTowardDailyLimit() {
			return appErrors.WithDetails(appErrors.ErrDailyLimitExceeded, "", map[string]interface{}{
				"existing_booking_id": b.ID,
			})
		}
	}
	return nil
}

// conflicting returns the APPROVED bookings overlapping [start, end), skipping excludeID.
func conflicting(bookings []models.Booking, start, end models.TimeOfDay, excludeID string) []models.Booking {
	var out []models.Booking
	for _, b := range bookings {
		if b.ID != excludeID && b.ConflictsWith(start, end) {
			out = append(out, b)
		}
	}
	return out
}

func slotUnavailable(conflicts []models.Booking) *appErrors.Error {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	return appErrors.WithDetails(appErrors.ErrSlotUnavailable, "", map[string]interface{}{"conflicting_booking_ids": ids})
}

// translateScopeError maps a storage-level overlap rejection raised at commit
// and leaves typed errors untouched.
func translateScopeError(err error) error {
	if errors.Is(err, repository.ErrOverlap) {
		return appErrors.Clone(appErrors.ErrSlotUnavailable, "")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, "booking transaction failed")
}

// Approve moves a PENDING booking to APPROVED. With RecheckOnApproval the
// conflict check is repeated under the resource lock.
func (s *BookingService) Approve(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error) {
	booking, err := s.transition(ctx, id, func(store repository.BookingStore, b *models.Booking) error {
		if b.Status.Terminal() {
			return invalidTransition(b, models.BookingApproved)
		}
		if b.Status == models.BookingApproved {
			return nil
		}
		if s.config.RecheckOnApproval {
			existing, err := store.FindByResourceAndDate(ctx, b.ResourceID, b.BookingDate)
			if err != nil {
				return appErrors.Internal(err, "failed to load bookings")
			}
			if conflicts := conflicting(existing, b.StartTime, b.EndTime, b.ID); len(conflicts) > 0 {
				return slotUnavailable(conflicts)
			}
		}
		b.Status = models.BookingApproved
		b.RejectionReason = nil
		return nil
	})
	if err != nil {
		s.metrics.RecordBooking("approve_" + outcomeLabel(err))
		return nil, err
	}
	s.metrics.RecordBooking("approved")
	s.emitAudit(ctx, actor, models.AuditActionBookingApprove, booking)
	return booking, nil
}

// Reject moves a PENDING or APPROVED booking to REJECTED. An empty reason
// falls back to the default.
func (s *BookingService) Reject(ctx context.Context, actor *models.JWTClaims, id string, req models.RejectBookingRequest) (*models.Booking, error) {
	reason := sanitize.Text(req.Reason)
	if reason == "" {
		reason = models.ReasonRejectedDefault
	}
	booking, err := s.transition(ctx, id, func(_ repository.BookingStore, b *models.Booking) error {
		if b.Status.Terminal() {
			return invalidTransition(b, models.BookingRejected)
		}
		b.Status = models.BookingRejected
		b.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordBooking("rejected")
	s.emitAudit(ctx, actor, models.AuditActionBookingReject, booking)
	return booking, nil
}

// Cancel lets the owner, or an admin, withdraw a PENDING or APPROVED booking.
func (s *BookingService) Cancel(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	booking, err := s.transition(ctx, id, func(_ repository.BookingStore, b *models.Booking) error {
		if b.UserID != actor.UserID && actor.Role != models.RoleAdmin {
			return appErrors.Clone(appErrors.ErrForbidden, "only the owner or an admin can cancel this booking")
		}
		if b.Status.Terminal() {
			return invalidTransition(b, models.BookingCancelled)
		}
		b.Status = models.BookingCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordBooking("cancelled")
	s.emitAudit(ctx, actor, models.AuditActionBookingCancel, booking)
	return booking, nil
}

// transition loads a booking, applies mutate under the booking's
// (resource, date) lock and persists the result.
func (s *BookingService) transition(ctx context.Context, id string, mutate func(store repository.BookingStore, b *models.Booking) error) (*models.Booking, error) {
	current, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBookingNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load booking")
	}

	var updated *models.Booking
	scope := repository.BookingScope{ResourceID: current.ResourceID, Date: current.BookingDate}
	err = s.bookings.InScope(ctx, scope, func(store repository.BookingStore) error {
		b, err := store.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrBookingNotFound, "")
			}
			return appErrors.Internal(err, "failed to load booking")
		}
		before := b.Status
		if err := mutate(store, b); err != nil {
			return err
		}
		if b.Status != before {
			if err := store.Save(ctx, b); err != nil {
				if errors.Is(err, repository.ErrOverlap) {
					return appErrors.Clone(appErrors.ErrSlotUnavailable, "")
				}
				return appErrors.Internal(err, "failed to save booking")
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, translateScopeError(err)
	}
	s.invalidateAvailability(ctx, updated.ResourceID, updated.BookingDate)
	return updated, nil
}

func invalidTransition(b *models.Booking, target models.BookingStatus) *appErrors.Error {
	return appErrors.WithDetails(appErrors.ErrInvalidTransition,
		fmt.Sprintf("booking is %s and cannot become %s", b.Status, target),
		map[string]interface{}{"status": b.Status})
}

// MyBookings lists the bookings of the caller.
func (s *BookingService) MyBookings(ctx context.Context, actor *models.JWTClaims) ([]models.BookingView, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	user, err := s.users.FindByEmail(ctx, models.NormalizeEmail(actor.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	bookings, err := s.bookings.FindByUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list bookings")
	}
	return s.views(ctx, bookings)
}

// AllBookings lists bookings for administrators.
func (s *BookingService) AllBookings(ctx context.Context, filter models.BookingFilter) ([]models.BookingView, error) {
	if filter.Status != nil && !validBookingStatus(*filter.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown booking status")
	}
	bookings, err := s.bookings.FindAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list bookings")
	}
	return s.views(ctx, bookings)
}

func validBookingStatus(status models.BookingStatus) bool {
	switch status {
	case models.BookingPending, models.BookingApproved, models.BookingRejected, models.BookingOverridden, models.BookingCancelled:
		return true
	}
	return false
}

func (s *BookingService) views(ctx context.Context, bookings []models.Booking) ([]models.BookingView, error) {
	ids := make([]string, 0, len(bookings))
	seen := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		if _, ok := seen[b.UserID]; !ok {
			seen[b.UserID] = struct{}{}
			ids = append(ids, b.UserID)
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load booking owners")
	}

	resourceNames := map[string]string{}
	if len(bookings) > 0 {
		resources, err := s.resources.List(ctx)
		if err != nil {
			s.logger.Warn("failed to load resource names", zap.Error(err))
		}
		for _, r := range resources {
			resourceNames[r.ID] = r.Name
		}
	}

	views := make([]models.BookingView, 0, len(bookings))
	for _, b := range bookings {
		view := models.BookingView{
			ID:              b.ID,
			UserID:          b.UserID,
			UserName:        models.UnknownUserName,
			UserEmail:       models.UnknownUserEmail,
			UserRole:        models.UnknownUserRole,
			ResourceID:      b.ResourceID,
			ResourceName:    resourceNames[b.ResourceID],
			BookingDate:     b.BookingDate,
			StartTime:       b.StartTime,
			EndTime:         b.EndTime,
			DurationMinutes: int(b.Duration().Minutes()),
			Status:          b.Status,
			RejectionReason: b.RejectionReason,
			CreatedAt:       b.CreatedAt,
		}
		if u, ok := users[b.UserID]; ok {
			view.UserName = u.Name
			view.UserEmail = u.Email
			view.UserRole = string(u.Role)
		}
		views = append(views, view)
	}
	return views, nil
}

// AvailableSlots returns the free/busy grid for a resource and day.
func (s *BookingService) AvailableSlots(ctx context.Context, resourceID string, date models.Date) ([]models.TimeSlot, error) {
	if resourceID == "" || date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resourceId and date are required")
	}
	if _, err := s.resources.FindByID(ctx, resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrResourceNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load resource")
	}

	key := availabilityKey(resourceID, date)
	gen, genErr := s.cache.Generation(ctx, key)
	if genErr == nil {
		var cached availabilityEntry
		if hit, _ := s.cache.Get(ctx, key, &cached); hit && cached.Generation == gen {
			return cached.Slots, nil
		}
	}

	start := time.Now()
	bookings, err := s.bookings.FindByResourceAndDate(ctx, resourceID, date)
	s.metrics.ObserveDBQuery("bookings_by_resource_date", time.Since(start))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load bookings")
	}
	slots := s.config.Window.Slots(bookings)
	if genErr == nil {
		// a write that commits after gen was read bumps the generation, so
		// this entry is never served once it is stale
		_ = s.cache.Set(ctx, key, availabilityEntry{Generation: gen, Slots: slots}, s.config.AvailabilityTTL)
	}
	return slots, nil
}

// availabilityEntry is a cached slot grid tagged with the generation that
// was current before its bookings were read.
type availabilityEntry struct {
	Generation int64             `json:"generation"`
	Slots      []models.TimeSlot `json:"slots"`
}

func availabilityKey(resourceID string, date models.Date) string {
	return fmt.Sprintf("availability:%s:%s", resourceID, date)
}

func (s *BookingService) invalidateAvailability(ctx context.Context, resourceID string, date models.Date) {
	_ = s.cache.Bump(ctx, availabilityKey(resourceID, date))
}

func (s *BookingService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, booking *models.Booking) {
	if s.audit == nil || booking == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"resource_id":      booking.ResourceID,
		"booking_date":     booking.BookingDate,
		"start_time":       booking.StartTime,
		"end_time":         booking.EndTime,
		"status":           booking.Status,
		"rejection_reason": booking.RejectionReason,
	})
	var userID *string
	if actor != nil {
		userID = &actor.UserID
	}
	log := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   bookingAuditResource,
		ResourceID: &booking.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "booking-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record booking audit", zap.String("action", action), zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return appErrors.ErrInternal.Code
}
