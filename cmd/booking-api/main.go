package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-booking-api/api/swagger"
	"github.com/noah-isme/campus-booking-api/internal/handler"
	"github.com/noah-isme/campus-booking-api/internal/middleware"
	"github.com/noah-isme/campus-booking-api/internal/repository"
	"github.com/noah-isme/campus-booking-api/internal/service"
	"github.com/noah-isme/campus-booking-api/pkg/cache"
	"github.com/noah-isme/campus-booking-api/pkg/clock"
	"github.com/noah-isme/campus-booking-api/pkg/config"
	"github.com/noah-isme/campus-booking-api/pkg/database"
	"github.com/noah-isme/campus-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-booking-api/pkg/middleware/requestid"
)

// @title Campus Booking API
// @version 1.0.0
// @description Campus resource booking with role-based approval and login lockout
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	deps := map[string]handler.Pinger{"postgres": db}

	var cacheRepo service.CacheRepository
	if cfg.Availability.CacheEnabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, availability cache disabled", zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client, logr)
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
			deps["redis"] = redisRepo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Availability.CacheTTL, logr, cacheRepo != nil)

	window, err := service.NewDayWindow(cfg.Booking.DayStart, cfg.Booking.DayEnd, cfg.Booking.SlotLength)
	if err != nil {
		logr.Fatal("invalid booking day window", zap.Error(err))
	}

	validate := validator.New()
	clk := clock.System{}
	userRepo := repository.NewUserRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	issuer := service.NewJWTIssuer(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	}, clk)
	authSvc := service.NewAuthService(userRepo, service.NewBcryptHasher(0), issuer, clk, validate, metrics, logr, service.AuthConfig{
		MaxFailedAttempts: cfg.Lockout.MaxAttempts,
		LockDuration:      cfg.Lockout.Duration,
	})
	bookingSvc := service.NewBookingService(bookingRepo, userRepo, resourceRepo, userRepo, cacheSvc, metrics, validate, logr, service.BookingConfig{
		StudentMaxDuration: cfg.Booking.StudentMaxLength,
		StaffMaxDuration:   cfg.Booking.StaffMaxLength,
		RecheckOnApproval:  cfg.Booking.RecheckOnApproval,
		Window:             window,
		AvailabilityTTL:    cfg.Availability.CacheTTL,
	})
	resourceSvc := service.NewResourceService(resourceRepo, userRepo, cacheSvc, validate, logr)

	var exporter *service.ExportService
	if cfg.Exports.Enabled {
		exporter = service.NewExportService(bookingSvc, nil, nil, clk, logr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	routes := handler.Routes{
		Auth:         handler.NewAuthHandler(authSvc),
		Resources:    handler.NewResourceHandler(resourceSvc),
		Metrics:      handler.NewMetricsHandler(metrics, deps),
		Verifier:     authSvc,
		LoginLimiter: middleware.NewRateLimiter(cfg.RateLimit.LoginPerSecond, cfg.RateLimit.LoginBurst),
	}
	if exporter != nil {
		routes.Bookings = handler.NewBookingHandler(bookingSvc, exporter)
	} else {
		routes.Bookings = handler.NewBookingHandler(bookingSvc, nil)
	}
	routes.Register(r, cfg.APIPrefix)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
