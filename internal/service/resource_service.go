package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/repository"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/sanitize"
)

type resourceRepository interface {
	List(ctx context.Context) ([]models.Resource, error)
	FindByID(ctx context.Context, id string) (*models.Resource, error)
	Create(ctx context.Context, resource *models.Resource) error
	Update(ctx context.Context, resource *models.Resource) error
	Delete(ctx context.Context, id string) error
}

// ResourceService manages the catalogue of bookable resources.
type ResourceService struct {
	repo      resourceRepository
	audit     auditLogger
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResourceService constructs a ResourceService.
func NewResourceService(repo resourceRepository, audit auditLogger, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ResourceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

// List returns all resources.
func (s *ResourceService) List(ctx context.Context) ([]models.Resource, error) {
	resources, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list resources")
	}
	return resources, nil
}

// Get returns a single resource.
func (s *ResourceService) Get(ctx context.Context, id string) (*models.Resource, error) {
	resource, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrResourceNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load resource")
	}
	return resource, nil
}

// Create adds a resource. New resources always start AVAILABLE.
func (s *ResourceService) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateResourceRequest) (*models.Resource, error) {
	req.Name = sanitize.Text(req.Name)
	req.Type = sanitize.Text(req.Type)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}

	resource := &models.Resource{
		Name:     req.Name,
		Type:     req.Type,
		Capacity: req.Capacity,
		Status:   models.ResourceAvailable,
	}
	if err := s.repo.Create(ctx, resource); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "resource name already exists")
		}
		return nil, appErrors.Internal(err, "failed to create resource")
	}
	s.emitAudit(ctx, actor, models.AuditActionResourceCreate, resource)
	return resource, nil
}

// Update applies the non-empty fields of req.
func (s *ResourceService) Update(ctx context.Context, actor *models.JWTClaims, id string, req models.UpdateResourceRequest) (*models.Resource, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be AVAILABLE or MAINTENANCE")
	}

	resource, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name := sanitize.Text(req.Name); name != "" {
		resource.Name = name
	}
	if kind := sanitize.Text(req.Type); kind != "" {
		resource.Type = kind
	}
	if req.Capacity > 0 {
		resource.Capacity = req.Capacity
	}
	if req.Status != nil {
		resource.Status = *req.Status
	}

	if err := s.repo.Update(ctx, resource); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrResourceNotFound, "")
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "resource name already exists")
		}
		return nil, appErrors.Internal(err, "failed to update resource")
	}
	if req.Status != nil {
		_ = s.cache.Invalidate(ctx, "availability:"+resource.ID+":*")
	}
	s.emitAudit(ctx, actor, models.AuditActionResourceUpdate, resource)
	return resource, nil
}

// Delete removes a resource that has no bookings.
func (s *ResourceService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrResourceNotFound, "")
		case errors.Is(err, repository.ErrReferenced):
			return appErrors.Clone(appErrors.ErrConflict, "resource still has bookings")
		}
		return appErrors.Internal(err, "failed to delete resource")
	}
	s.emitAudit(ctx, actor, models.AuditActionResourceDelete, &models.Resource{ID: id})
	return nil
}

func (s *ResourceService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resource *models.Resource) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(resource)
	var userID *string
	if actor != nil {
		userID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "resource",
		ResourceID: &resource.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "resource-service",
	}); err != nil {
		s.logger.Warn("failed to record resource audit", zap.String("action", action), zap.Error(err))
	}
}
