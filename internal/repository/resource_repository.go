package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-booking-api/internal/models"
)

const resourceColumns = `id, name, type, capacity, status, created_at, updated_at`

// ResourceRepository manages bookable resources.
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository constructs a resource repository.
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// List returns every resource ordered by name.
func (r *ResourceRepository) List(ctx context.Context) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY name ASC`
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// FindByID returns a resource or sql.ErrNoRows.
func (r *ResourceRepository) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`
	var resource models.Resource
	if err := r.db.GetContext(ctx, &resource, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find resource by id: %w", err)
	}
	return &resource, nil
}

// Create inserts a resource.
func (r *ResourceRepository) Create(ctx context.Context, resource *models.Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	resource.CreatedAt = now
	resource.UpdatedAt = now

	const query = `INSERT INTO resources (id, name, type, capacity, status, created_at, updated_at)
VALUES (:id, :name, :type, :capacity, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// Update overwrites the mutable columns of a resource.
func (r *ResourceRepository) Update(ctx context.Context, resource *models.Resource) error {
	resource.UpdatedAt = time.Now().UTC()
	const query = `UPDATE resources SET name = :name, type = :type, capacity = :capacity, status = :status, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, resource)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update resource: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a resource. Resources that still have bookings yield ErrReferenced.
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenced
		}
		return fmt.Errorf("delete resource: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
