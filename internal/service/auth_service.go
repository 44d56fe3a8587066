package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/repository"
	"github.com/noah-isme/campus-booking-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	InUserScope(ctx context.Context, fn func(store repository.UserStore) error) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type credentialHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, hash string) bool
}

type credentialIssuer interface {
	Issue(user *models.User) (string, time.Time, error)
	Verify(token string) (*models.JWTClaims, error)
}

// AuthConfig defines the lockout policy.
type AuthConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// AuthService is the authentication gate: it evaluates login attempts against
// the account lockout state and issues credentials on success.
type AuthService struct {
	repo      authUserRepository
	hasher    credentialHasher
	issuer    credentialIssuer
	clock     clock.Clock
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, hasher credentialHasher, issuer credentialIssuer, clk clock.Clock, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = 3
	}
	if config.LockDuration <= 0 {
		config.LockDuration = time.Minute
	}
	return &AuthService{repo: repo, hasher: hasher, issuer: issuer, clock: clk, validator: validate, metrics: metrics, logger: logger, config: config}
}

// Register creates an ACTIVE account with zeroed lockout counters.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	req.Email = models.NormalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}
	email := req.Email

	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "")
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		Status:       models.AccountActive,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	s.audit(ctx, user, models.AuditActionRegister, "", "", fmt.Sprintf(`{"role":%q}`, role))
	return &models.UserInfo{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}, nil
}

// loginOutcome is the result of evaluating one attempt against a user row.
type loginOutcome struct {
	err     *appErrors.Error
	action  string
	changed bool
}

// Login evaluates a login attempt. Every lockout field change is committed
// before the outcome is returned, including on failure.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Email = models.NormalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	email := req.Email

	var (
		user    *models.User
		outcome loginOutcome
	)
	err := s.repo.InUserScope(ctx, func(store repository.UserStore) error {
		found, err := store.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrUnauthenticated, "")
			}
			return appErrors.Internal(err, "failed to fetch user")
		}

		outcome = s.evaluate(found, req.Password, s.clock.Now())
		if outcome.changed {
			if err := store.Save(ctx, found); err != nil {
				return appErrors.Internal(err, "failed to persist lockout state")
			}
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrUnauthenticated) {
			s.metrics.RecordLogin("unknown_user")
		}
		return nil, err
	}

	s.audit(ctx, user, outcome.action, req.IP, req.UserAgent, "")
	if outcome.err != nil {
		s.metrics.RecordLogin(outcome.action)
		return nil, outcome.err
	}

	token, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}
	s.metrics.RecordLogin("success")

	now := s.clock.Now().UTC()
	return &models.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresAt.Sub(now).Seconds()),
		IssuedAt:    now,
		User:        models.UserInfo{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role},
	}, nil
}

// evaluate applies one login attempt to user in place.
func (s *AuthService) evaluate(user *models.User, password string, now time.Time) loginOutcome {
	changed := false
	if user.Status == models.AccountLocked {
		if remaining := s.lockRemaining(user, now); remaining > 0 {
			return loginOutcome{err: lockedError(remaining), action: models.AuditActionLoginFailed}
		}
		user.Unlock()
		changed = true
		s.logger.Info("account lock expired", zap.String("email", user.Email))
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		user.FailedAttempts++
		if user.FailedAttempts >= s.config.MaxFailedAttempts {
			user.Lock(now)
			s.logger.Info("account locked", zap.String("email", user.Email), zap.Int("failed_attempts", user.FailedAttempts))
			return loginOutcome{err: lockedError(s.config.LockDuration), action: models.AuditActionAccountLocked, changed: true}
		}
		return loginOutcome{
			err: appErrors.WithDetails(appErrors.ErrInvalidCredentials, "", map[string]interface{}{
				"remaining_attempts": s.config.MaxFailedAttempts - user.FailedAttempts,
			}),
			action:  models.AuditActionLoginFailed,
			changed: true,
		}
	}

	if user.Status != models.AccountActive || user.FailedAttempts != 0 || user.LockTime != nil {
		user.Unlock()
		changed = true
	}
	return loginOutcome{action: models.AuditActionLogin, changed: changed}
}

// lockRemaining returns how long the lock still holds. A LOCKED row without a
// lock time counts as expired.
func (s *AuthService) lockRemaining(user *models.User, now time.Time) time.Duration {
	if user.LockTime == nil {
		return 0
	}
	return s.config.LockDuration - now.Sub(*user.LockTime)
}

func lockedError(remaining time.Duration) *appErrors.Error {
	minutes := math.Round(remaining.Minutes()*100) / 100
	return appErrors.WithDetails(appErrors.ErrAccountLocked,
		fmt.Sprintf("account is locked, try again in %.2f minutes", minutes),
		map[string]interface{}{
			"remaining_minutes":   minutes,
			"retry_after_seconds": int(math.Ceil(remaining.Seconds())),
		})
}

// Unlock clears a lock immediately. Admin only.
func (s *AuthService) Unlock(ctx context.Context, req models.UnlockAccountRequest, actorID string) error {
	req.Email = models.NormalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unlock payload")
	}
	email := req.Email

	var user *models.User
	err := s.repo.InUserScope(ctx, func(store repository.UserStore) error {
		found, err := store.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrUserNotFound, "")
			}
			return appErrors.Internal(err, "failed to fetch user")
		}
		found.Unlock()
		if err := store.Save(ctx, found); err != nil {
			return appErrors.Internal(err, "failed to unlock account")
		}
		user = found
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("account unlocked", zap.String("email", email), zap.String("actor_id", actorID))
	s.audit(ctx, user, models.AuditActionAccountUnlocked, "", "", fmt.Sprintf(`{"actor_id":%q}`, actorID))
	return nil
}

// AccountStatus reports the lockout state for email without mutating it.
func (s *AuthService) AccountStatus(ctx context.Context, email string) (*models.AccountStatusResponse, error) {
	email = models.NormalizeEmail(email)
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	resp := &models.AccountStatusResponse{Email: user.Email, State: models.LockStateActive}
	if user.Status == models.AccountLocked {
		remaining := s.lockRemaining(user, s.clock.Now())
		if remaining > 0 {
			resp.State = models.LockStateLocked
			resp.RemainingMinutes = math.Round(remaining.Minutes()*100) / 100
		} else {
			resp.State = models.LockStateUnlocked
		}
	}
	return resp, nil
}

// Profile returns the account behind a verified credential.
func (s *AuthService) Profile(ctx context.Context, email string) (*models.UserInfo, error) {
	user, err := s.repo.FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	return &models.UserInfo{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}, nil
}

// ValidateToken verifies an access token and returns its claims.
func (s *AuthService) ValidateToken(token string) (*models.JWTClaims, error) {
	return s.issuer.Verify(token)
}

func (s *AuthService) audit(ctx context.Context, user *models.User, action, ip, userAgent, payload string) {
	if user == nil || action == "" {
		return
	}
	entry := &models.AuditLog{
		UserID:     &user.ID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &user.ID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if payload != "" {
		entry.NewValues = []byte(payload)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
