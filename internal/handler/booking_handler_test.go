package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-booking-api/internal/middleware"
	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/service"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

type bookingServiceMock struct {
	created    models.CreateBookingRequest
	createErr  error
	filter     models.BookingFilter
	rejectReq  models.RejectBookingRequest
	slotsDate  models.Date
	approveErr error
}

func (m *bookingServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateBookingRequest) (*models.Booking, error) {
	m.created = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Booking{ID: "b1", UserID: actor.UserID, ResourceID: req.ResourceID, Status: models.BookingPending}, nil
}

func (m *bookingServiceMock) MyBookings(ctx context.Context, actor *models.JWTClaims) ([]models.BookingView, error) {
	return []models.BookingView{{ID: "b1"}}, nil
}

func (m *bookingServiceMock) AllBookings(ctx context.Context, filter models.BookingFilter) ([]models.BookingView, error) {
	m.filter = filter
	return nil, nil
}

func (m *bookingServiceMock) AvailableSlots(ctx context.Context, resourceID string, date models.Date) ([]models.TimeSlot, error) {
	m.slotsDate = date
	return service.DefaultDayWindow().Slots(nil), nil
}

func (m *bookingServiceMock) Approve(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error) {
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	return &models.Booking{ID: id, Status: models.BookingApproved}, nil
}

func (m *bookingServiceMock) Reject(ctx context.Context, actor *models.JWTClaims, id string, req models.RejectBookingRequest) (*models.Booking, error) {
	m.rejectReq = req
	return &models.Booking{ID: id, Status: models.BookingRejected}, nil
}

func (m *bookingServiceMock) Cancel(ctx context.Context, actor *models.JWTClaims, id string) (*models.Booking, error) {
	return &models.Booking{ID: id, Status: models.BookingCancelled}, nil
}

type exporterMock struct {
	format service.ExportFormat
}

func (m *exporterMock) Bookings(ctx context.Context, filter models.BookingFilter, format service.ExportFormat) (*service.ExportResult, error) {
	m.format = format
	return &service.ExportResult{Filename: "bookings_20240110_090000.csv", ContentType: "text/csv", Data: []byte("a,b\n")}, nil
}

func staffContext(w *httptest.ResponseRecorder, method, target string, body []byte) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "staff", Email: "staff@campus.edu", Role: models.RoleStaff})
	return c
}

func TestBookingHandlerCreateParsesTimes(t *testing.T) {
	svc := &bookingServiceMock{}
	handler := NewBookingHandler(svc, nil)
	w := httptest.NewRecorder()
	body := []byte(`{"resource_id":"r1","booking_date":"2024-01-10","start_time":"09:00","end_time":"11:00"}`)
	c := staffContext(w, http.MethodPost, "/bookings", body)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.NewTimeOfDay(9, 0), svc.created.StartTime)
	assert.Equal(t, models.NewTimeOfDay(11, 0), svc.created.EndTime)
	assert.Equal(t, "2024-01-10", svc.created.BookingDate.String())
}

func TestBookingHandlerCreateRejectsMalformedTime(t *testing.T) {
	handler := NewBookingHandler(&bookingServiceMock{}, nil)
	w := httptest.NewRecorder()
	c := staffContext(w, http.MethodPost, "/bookings", []byte(`{"resource_id":"r1","booking_date":"2024-01-10","start_time":"9am","end_time":"11:00"}`))

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandlerCreateSurfacesConflictDetails(t *testing.T) {
	svc := &bookingServiceMock{createErr: appErrors.WithDetails(appErrors.ErrSlotUnavailable, "", map[string]interface{}{"conflicting_booking_ids": []string{"a"}})}
	handler := NewBookingHandler(svc, nil)
	w := httptest.NewRecorder()
	c := staffContext(w, http.MethodPost, "/bookings", []byte(`{"resource_id":"r1","booking_date":"2024-01-10","start_time":"10:00","end_time":"10:30"}`))

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
	var payload struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "SLOT_UNAVAILABLE", payload.Error.Code)
	assert.Equal(t, []interface{}{"a"}, payload.Error.Details["conflicting_booking_ids"])
}

func TestBookingHandlerAvailableSlotsValidation(t *testing.T) {
	svc := &bookingServiceMock{}
	handler := NewBookingHandler(svc, nil)

	w := httptest.NewRecorder()
	handler.AvailableSlots(staffContext(w, http.MethodGet, "/bookings/available-slots?resourceId=r1&date=10-01-2024", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.AvailableSlots(staffContext(w, http.MethodGet, "/bookings/available-slots?resourceId=r1&date=2024-01-10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-01-10", svc.slotsDate.String())
}

func TestBookingHandlerRejectWithoutBody(t *testing.T) {
	svc := &bookingServiceMock{}
	handler := NewBookingHandler(svc, nil)
	w := httptest.NewRecorder()
	c := staffContext(w, http.MethodPut, "/admin/bookings/b1/reject", nil)
	c.Params = gin.Params{{Key: "id", Value: "b1"}}

	handler.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.rejectReq.Reason)
}

func TestBookingHandlerRejectReadsChunkedBody(t *testing.T) {
	svc := &bookingServiceMock{}
	handler := NewBookingHandler(svc, nil)

	w := httptest.NewRecorder()
	c := staffContext(w, http.MethodPut, "/admin/bookings/b1/reject", []byte(`{"reason":"room closed"}`))
	c.Request.ContentLength = -1
	c.Params = gin.Params{{Key: "id", Value: "b1"}}
	handler.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "room closed", svc.rejectReq.Reason)

	svc.rejectReq = models.RejectBookingRequest{}
	w = httptest.NewRecorder()
	c = staffContext(w, http.MethodPut, "/admin/bookings/b1/reject", nil)
	c.Request.Body = io.NopCloser(strings.NewReader(""))
	c.Request.ContentLength = -1
	c.Params = gin.Params{{Key: "id", Value: "b1"}}
	handler.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.rejectReq.Reason)

	w = httptest.NewRecorder()
	c = staffContext(w, http.MethodPut, "/admin/bookings/b1/reject", []byte(`{"reason":`))
	c.Request.ContentLength = -1
	c.Params = gin.Params{{Key: "id", Value: "b1"}}
	handler.Reject(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandlerListFilter(t *testing.T) {
	svc := &bookingServiceMock{}
	handler := NewBookingHandler(svc, nil)
	w := httptest.NewRecorder()

	handler.List(staffContext(w, http.MethodGet, "/admin/bookings?status=PENDING&resourceId=r1&date=2024-01-10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter.Status)
	assert.Equal(t, models.BookingPending, *svc.filter.Status)
	assert.Equal(t, "r1", svc.filter.ResourceID)
	require.NotNil(t, svc.filter.Date)
}

func TestBookingHandlerExport(t *testing.T) {
	exporter := &exporterMock{}
	handler := NewBookingHandler(&bookingServiceMock{}, exporter)
	w := httptest.NewRecorder()

	handler.Export(staffContext(w, http.MethodGet, "/admin/bookings/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, exporter.format)
	assert.Equal(t, `attachment; filename="bookings_20240110_090000.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())

	w = httptest.NewRecorder()
	handler.Export(staffContext(w, http.MethodGet, "/admin/bookings/export?format=docx", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	NewBookingHandler(&bookingServiceMock{}, nil).Export(staffContext(w, http.MethodGet, "/admin/bookings/export", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
