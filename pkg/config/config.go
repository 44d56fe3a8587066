package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Lockout      LockoutConfig
	Booking      BookingConfig
	Availability AvailabilityConfig
	RateLimit    RateLimitConfig
	Exports      ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LockoutConfig tunes the login lockout policy.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// BookingConfig carries the role caps and the bookable day window.
type BookingConfig struct {
	DayStart          string
	DayEnd            string
	SlotLength        time.Duration
	StudentMaxLength  time.Duration
	StaffMaxLength    time.Duration
	RecheckOnApproval bool
}

// AvailabilityConfig governs the redis cache in front of slot queries.
type AvailabilityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// RateLimitConfig throttles login attempts per client IP.
type RateLimitConfig struct {
	LoginPerSecond float64
	LoginBurst     int
}

// ExportsConfig toggles the admin booking export endpoint.
type ExportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxAttempts := v.GetInt("LOCKOUT_MAX_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cfg.Lockout = LockoutConfig{
		MaxAttempts: maxAttempts,
		Duration:    parseDuration(v.GetString("LOCKOUT_DURATION"), time.Minute),
	}

	cfg.Booking = BookingConfig{
		DayStart:          v.GetString("BOOKING_DAY_START"),
		DayEnd:            v.GetString("BOOKING_DAY_END"),
		SlotLength:        parseDuration(v.GetString("BOOKING_SLOT_LENGTH"), time.Hour),
		StudentMaxLength:  parseDuration(v.GetString("BOOKING_STUDENT_MAX"), 60*time.Minute),
		StaffMaxLength:    parseDuration(v.GetString("BOOKING_STAFF_MAX"), 8*time.Hour),
		RecheckOnApproval: v.GetBool("BOOKING_RECHECK_ON_APPROVE"),
	}

	cfg.Availability = AvailabilityConfig{
		CacheEnabled: v.GetBool("AVAILABILITY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 5*time.Minute),
	}

	perSecond := v.GetFloat64("LOGIN_RATE_LIMIT")
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := v.GetInt("LOGIN_RATE_BURST")
	if burst <= 0 {
		burst = 10
	}
	cfg.RateLimit = RateLimitConfig{LoginPerSecond: perSecond, LoginBurst: burst}

	cfg.Exports = ExportsConfig{Enabled: v.GetBool("ENABLE_EXPORTS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_booking")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "campus-booking-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LOCKOUT_MAX_ATTEMPTS", 3)
	v.SetDefault("LOCKOUT_DURATION", "1m")

	v.SetDefault("BOOKING_DAY_START", "08:00")
	v.SetDefault("BOOKING_DAY_END", "20:00")
	v.SetDefault("BOOKING_SLOT_LENGTH", "1h")
	v.SetDefault("BOOKING_STUDENT_MAX", "60m")
	v.SetDefault("BOOKING_STAFF_MAX", "8h")
	v.SetDefault("BOOKING_RECHECK_ON_APPROVE", true)

	v.SetDefault("AVAILABILITY_CACHE_ENABLED", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "5m")

	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("LOGIN_RATE_BURST", 10)

	v.SetDefault("ENABLE_EXPORTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// SetConfigFile bypasses viper's search path, so a missing .env surfaces as a
// plain fs error rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
