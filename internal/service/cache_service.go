package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// generationTTL keeps counters far longer than any cached value they guard,
// so an expired counter cannot resurrect an old generation.
const generationTTL = 24 * time.Hour

func generationKey(key string) string {
	return "generation:" + key
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(false, duration)
			}
			return false, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, duration)
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, duration)
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
		return err
	}
	return nil
}

// Generation returns the invalidation counter guarding key. A missing counter
// is generation zero. Callers must not cache when an error is returned.
func (s *CacheService) Generation(ctx context.Context, key string) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	var gen int64
	if err := s.repo.Get(ctx, generationKey(key), &gen); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return 0, nil
		}
		if s.logger != nil {
			s.logger.Warn("cache generation read failed", zap.String("key", key), zap.Error(err))
		}
		return 0, err
	}
	return gen, nil
}

// Bump advances the generation of key and drops its cached value. Values
// written afterwards under an older generation are ignored by readers.
func (s *CacheService) Bump(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	_, incrErr := s.repo.Incr(ctx, generationKey(key), generationTTL)
	if incrErr != nil && s.logger != nil {
		s.logger.Warn("cache generation bump failed", zap.String("key", key), zap.Error(incrErr))
	}
	if err := s.Invalidate(ctx, key); err != nil {
		return err
	}
	return incrErr
}
