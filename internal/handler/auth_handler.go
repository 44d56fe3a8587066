package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-booking-api/internal/models"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Profile(ctx context.Context, email string) (*models.UserInfo, error)
	AccountStatus(ctx context.Context, email string) (*models.AccountStatusResponse, error)
	Unlock(ctx context.Context, req models.UnlockAccountRequest, actorID string) error
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Register godoc
// @Summary Register account
// @Description Create an ADMIN, STAFF or STUDENT account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Register payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid register payload"))
		return
	}

	info, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, info)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password. Repeated failures lock the account for a short window.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.service.Profile(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info, nil)
}

// Status godoc
// @Summary Account lock status
// @Description Reports ACTIVE, LOCKED with remaining minutes, or UNLOCKED
// @Tags Authentication
// @Produce json
// @Param email query string true "Account email"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/status [get]
func (h *AuthHandler) Status(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "email is required"))
		return
	}

	status, err := h.service.AccountStatus(c.Request.Context(), email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}

// Unlock godoc
// @Summary Unlock account
// @Description Clears the lockout state of an account
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.UnlockAccountRequest true "Account to unlock"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/unlock [put]
func (h *AuthHandler) Unlock(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UnlockAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid unlock payload"))
		return
	}

	if err := h.service.Unlock(c.Request.Context(), req, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
