package models

import "time"

// ResourceStatus indicates whether a resource can currently be booked.
type ResourceStatus string

const (
	ResourceAvailable   ResourceStatus = "AVAILABLE"
	ResourceMaintenance ResourceStatus = "MAINTENANCE"
)

// Valid reports whether s is a known resource status.
func (s ResourceStatus) Valid() bool {
	return s == ResourceAvailable || s == ResourceMaintenance
}

// Resource is a bookable room, lab or hall.
type Resource struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Type      string         `db:"type" json:"type"`
	Capacity  int            `db:"capacity" json:"capacity"`
	Status    ResourceStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// CreateResourceRequest is the payload for adding a resource.
type CreateResourceRequest struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,gt=0"`
}

// UpdateResourceRequest applies only the fields that are set.
type UpdateResourceRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Capacity int             `json:"capacity" validate:"gte=0"`
	Status   *ResourceStatus `json:"status"`
}
