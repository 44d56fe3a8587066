package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/pkg/response"
)

type resourceService interface {
	List(ctx context.Context) ([]models.Resource, error)
	Get(ctx context.Context, id string) (*models.Resource, error)
	Create(ctx context.Context, actor *models.JWTClaims, req models.CreateResourceRequest) (*models.Resource, error)
	Update(ctx context.Context, actor *models.JWTClaims, id string, req models.UpdateResourceRequest) (*models.Resource, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
}

// ResourceHandler exposes the resource catalogue.
type ResourceHandler struct {
	service resourceService
}

// NewResourceHandler constructs a ResourceHandler.
func NewResourceHandler(svc resourceService) *ResourceHandler {
	return &ResourceHandler{service: svc}
}

// List godoc
// @Summary List resources
// @Tags Resources
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /resources [get]
func (h *ResourceHandler) List(c *gin.Context) {
	resources, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resources, nil)
}

// Get godoc
// @Summary Get resource
// @Tags Resources
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{id} [get]
func (h *ResourceHandler) Get(c *gin.Context) {
	resource, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resource, nil)
}

// Create godoc
// @Summary Add resource
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateResourceRequest true "Resource payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/resources [post]
func (h *ResourceHandler) Create(c *gin.Context) {
	var req models.CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid resource payload"))
		return
	}

	resource, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resource)
}

// Update godoc
// @Summary Update resource
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Resource ID"
// @Param payload body models.UpdateResourceRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/resources/{id} [put]
func (h *ResourceHandler) Update(c *gin.Context) {
	var req models.UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid resource payload"))
		return
	}

	resource, err := h.service.Update(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resource, nil)
}

// Delete godoc
// @Summary Delete resource
// @Tags Admin
// @Param id path string true "Resource ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/resources/{id} [delete]
func (h *ResourceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
