package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-booking-api/internal/middleware"
	"github.com/noah-isme/campus-booking-api/internal/models"
)

// Routes bundles the handlers and guards mounted under the API prefix.
type Routes struct {
	Auth      *AuthHandler
	Bookings  *BookingHandler
	Resources *ResourceHandler
	Metrics   *MetricsHandler
	Verifier  middleware.TokenVerifier
	// LoginLimiter throttles the public auth endpoints; nil disables it.
	LoginLimiter *middleware.RateLimiter
}

// Register mounts every endpoint on r. Probes and /metrics live at the root.
func (rt Routes) Register(r *gin.Engine, prefix string) {
	if rt.Metrics != nil {
		r.GET("/health", rt.Metrics.Health)
		r.GET("/ready", rt.Metrics.Ready)
		r.GET("/metrics", rt.Metrics.Prometheus)
	}

	api := r.Group(prefix)
	authed := middleware.JWT(rt.Verifier)
	admin := middleware.RequireRoles(models.RoleAdmin)

	public := api.Group("/auth")
	if rt.LoginLimiter != nil {
		public.Use(rt.LoginLimiter.Middleware())
	}
	public.POST("/register", rt.Auth.Register)
	public.POST("/login", rt.Auth.Login)
	public.GET("/status", rt.Auth.Status)
	api.GET("/auth/me", authed, rt.Auth.Me)

	resources := api.Group("/resources", authed)
	resources.GET("", rt.Resources.List)
	resources.GET("/:id", rt.Resources.Get)

	bookings := api.Group("/bookings", authed)
	bookings.POST("", rt.Bookings.Create)
	bookings.GET("/my", rt.Bookings.My)
	bookings.GET("/available-slots", rt.Bookings.AvailableSlots)
	bookings.PUT("/:id/cancel", rt.Bookings.Cancel)

	adminGroup := api.Group("/admin", authed, admin)
	adminGroup.POST("/resources", rt.Resources.Create)
	adminGroup.PUT("/resources/:id", rt.Resources.Update)
	adminGroup.DELETE("/resources/:id", rt.Resources.Delete)
	adminGroup.GET("/bookings", rt.Bookings.List)
	adminGroup.GET("/bookings/export", rt.Bookings.Export)
	adminGroup.PUT("/bookings/:id/approve", rt.Bookings.Approve)
	adminGroup.PUT("/bookings/:id/reject", rt.Bookings.Reject)
	adminGroup.PUT("/users/unlock", rt.Auth.Unlock)
	if rt.Metrics != nil {
		adminGroup.GET("/metrics", rt.Metrics.Snapshot)
	}
}
