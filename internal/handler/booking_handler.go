package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/service"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/response"
)

type bookingService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req models.CreateBookingRequest) (*models.Booking, error)
	MyBookings(ctx context.Context, actor *models.JWTClaims) ([]models.BookingView, error)
	AllBookings(ctx context.Context, filter models.BookingFilter) ([]models.BookingView, error)
	AvailableSlots(ctx context.Context, resourceID string, date models.Date) ([]models.TimeSlot, error)
	Approve(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error)
	Reject(ctx context.Context, actor *models.JWTClaims, id string, req models.RejectBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error)
}

type bookingExporter interface {
	Bookings(ctx context.Context, filter models.BookingFilter, format service.ExportFormat) (*service.ExportResult, error)
}

// BookingHandler exposes booking requests, availability and admin review.
type BookingHandler struct {
	service  bookingService
	exporter bookingExporter
}

// NewBookingHandler constructs a BookingHandler. exporter may be nil when
// exports are disabled.
func NewBookingHandler(svc bookingService, exporter bookingExporter) *BookingHandler {
	return &BookingHandler{service: svc, exporter: exporter}
}

// Create godoc
// @Summary Request a booking
// @Description Staff and student requests start PENDING; admin requests are approved immediately and override conflicts
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body models.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid booking payload"))
		return
	}

	booking, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, booking)
}

// My godoc
// @Summary List my bookings
// @Tags Bookings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /bookings/my [get]
func (h *BookingHandler) My(c *gin.Context) {
	bookings, err := h.service.MyBookings(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, nil, map[string]interface{}{"count": len(bookings)})
}

// AvailableSlots godoc
// @Summary Availability grid
// @Description Slots of the bookable day for a resource, each marked available or not
// @Tags Bookings
// @Produce json
// @Param resourceId query string true "Resource ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/available-slots [get]
func (h *BookingHandler) AvailableSlots(c *gin.Context) {
	resourceID := c.Query("resourceId")
	date, err := models.ParseDate(c.Query("date"))
	if err != nil || resourceID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "resourceId and date (YYYY-MM-DD) are required"))
		return
	}

	slots, err := h.service.AvailableSlots(c.Request.Context(), resourceID, date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Cancel godoc
// @Summary Cancel a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/{id}/cancel [put]
func (h *BookingHandler) Cancel(c *gin.Context) {
	booking, err := h.service.Cancel(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// List godoc
// @Summary List all bookings
// @Tags Admin
// @Produce json
// @Param status query string false "Booking status"
// @Param resourceId query string false "Resource ID"
// @Param date query string false "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /admin/bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	filter, err := bookingFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	bookings, err := h.service.AllBookings(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, nil, map[string]interface{}{"count": len(bookings)})
}

// Approve godoc
// @Summary Approve a booking
// @Tags Admin
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/bookings/{id}/approve [put]
func (h *BookingHandler) Approve(c *gin.Context) {
	booking, err := h.service.Approve(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Reject godoc
// @Summary Reject a booking
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body models.RejectBookingRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/bookings/{id}/reject [put]
func (h *BookingHandler) Reject(c *gin.Context) {
	var req models.RejectBookingRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// chunked bodies report ContentLength -1, so an empty one only shows up as EOF
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, invalidPayload(err, "invalid reject payload"))
			return
		}
	}

	booking, err := h.service.Reject(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Export godoc
// @Summary Export bookings
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param status query string false "Booking status"
// @Param resourceId query string false "Resource ID"
// @Param date query string false "Date (YYYY-MM-DD)"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/bookings/export [get]
func (h *BookingHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	filter, err := bookingFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.exporter.Bookings(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	c.Header("Content-Length", strconv.Itoa(len(result.Data)))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func bookingFilterFromQuery(c *gin.Context) (models.BookingFilter, error) {
	filter := models.BookingFilter{ResourceID: c.Query("resourceId")}
	if raw := c.Query("status"); raw != "" {
		status := models.BookingStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("date"); raw != "" {
		date, err := models.ParseDate(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		filter.Date = &date
	}
	return filter, nil
}
