package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

var authEpoch = time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)

func newAuthFixture(t *testing.T, users ...*models.User) (*AuthService, *fakeUserRepo, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(authEpoch)
	repo := newFakeUserRepo(users...)
	issuer := stubIssuer{expiry: time.Hour, now: clk.Now}
	svc := NewAuthService(repo, plainHasher{}, issuer, clk, validator.New(), nil, zap.NewNop(), AuthConfig{
		MaxFailedAttempts: 3,
		LockDuration:      time.Minute,
	})
	return svc, repo, clk
}

func activeUser() *models.User {
	return &models.User{
		ID:           "u1",
		Email:        "student@campus.edu",
		Name:         "Student",
		PasswordHash: "hashed:secret",
		Role:         models.RoleStudent,
		Status:       models.AccountActive,
	}
}

func login(svc *AuthService, password string) (*models.LoginResponse, error) {
	return svc.Login(context.Background(), models.LoginRequest{Email: "student@campus.edu", Password: password})
}

func appErr(t *testing.T, err error) *appErrors.Error {
	t.Helper()
	var e *appErrors.Error
	require.True(t, errors.As(err, &e), "expected *errors.Error, got %v", err)
	return e
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, activeUser())

	res, err := login(svc, "secret")
	require.NoError(t, err)
	assert.Equal(t, "token-for-student@campus.edu", res.AccessToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleStudent, res.User.Role)
	assert.Equal(t, []string{models.AuditActionLogin}, repo.actions())
}

func TestAuthServiceLoginNormalisesEmail(t *testing.T) {
	svc, _, _ := newAuthFixture(t, activeUser())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "  Student@Campus.EDU ", Password: "secret"})
	require.NoError(t, err)
}

func TestAuthServiceLoginUnknownUser(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	_, err := login(svc, "secret")
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
}

func TestAuthServiceLoginValidation(t *testing.T) {
	svc, _, _ := newAuthFixture(t, activeUser())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: ""})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceWrongPasswordReportsRemainingAttempts(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, activeUser())

	_, err := login(svc, "wrong")
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, e.Code)
	assert.Equal(t, 2, e.Details["remaining_attempts"])
	assert.Equal(t, 1, repo.get("student@campus.edu").FailedAttempts)

	_, err = login(svc, "wrong")
	assert.Equal(t, 1, appErr(t, err).Details["remaining_attempts"])
}

func TestAuthServiceThirdFailureLocksAccount(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, activeUser())

	for i := 0; i < 2; i++ {
		_, err := login(svc, "wrong")
		require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	}
	_, err := login(svc, "wrong")
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, e.Code)
	assert.Equal(t, 1.0, e.Details["remaining_minutes"])
	assert.Equal(t, 60, e.Details["retry_after_seconds"])

	stored := repo.get("student@campus.edu")
	assert.Equal(t, models.AccountLocked, stored.Status)
	require.NotNil(t, stored.LockTime)
	assert.Equal(t, authEpoch, *stored.LockTime)
	assert.Equal(t, 3, stored.FailedAttempts)
	assert.Contains(t, repo.actions(), models.AuditActionAccountLocked)
}

func TestAuthServiceLockedAccountSkipsCredentialCheck(t *testing.T) {
	svc, repo, clk := newAuthFixture(t, activeUser())
	for i := 0; i < 3; i++ {
		_, _ = login(svc, "wrong")
	}
	savesAfterLock := repo.saves

	clk.Advance(30 * time.Second)
	_, err := login(svc, "secret")
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, e.Code)
	assert.InDelta(t, 0.5, e.Details["remaining_minutes"], 0.001)
	assert.Equal(t, 30, e.Details["retry_after_seconds"])

	_, err = login(svc, "wrong")
	require.ErrorIs(t, err, appErrors.ErrAccountLocked)
	stored := repo.get("student@campus.edu")
	assert.Equal(t, 3, stored.FailedAttempts)
	assert.Equal(t, savesAfterLock, repo.saves)
}

func TestAuthServiceExpiredLockReevaluatesCredential(t *testing.T) {
	svc, repo, clk := newAuthFixture(t, activeUser())
	for i := 0; i < 3; i++ {
		_, _ = login(svc, "wrong")
	}

	clk.Advance(65 * time.Second)
	_, err := login(svc, "wrong")
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, e.Code)
	assert.Equal(t, 2, e.Details["remaining_attempts"])
	stored := repo.get("student@campus.edu")
	assert.Equal(t, models.AccountActive, stored.Status)
	assert.Nil(t, stored.LockTime)

	res, err := login(svc, "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, 0, repo.get("student@campus.edu").FailedAttempts)
}

func TestAuthServiceLockedWithoutLockTimeCountsAsExpired(t *testing.T) {
	user := activeUser()
	user.Status = models.AccountLocked
	user.FailedAttempts = 3
	svc, repo, _ := newAuthFixture(t, user)

	_, err := login(svc, "secret")
	require.NoError(t, err)
	stored := repo.get("student@campus.edu")
	assert.Equal(t, models.AccountActive, stored.Status)
	assert.Equal(t, 0, stored.FailedAttempts)
}

func TestAuthServiceSuccessResetsCounter(t *testing.T) {
	user := activeUser()
	user.FailedAttempts = 2
	svc, repo, _ := newAuthFixture(t, user)

	_, err := login(svc, "secret")
	require.NoError(t, err)
	assert.Equal(t, 0, repo.get("student@campus.edu").FailedAttempts)
}

func TestAuthServiceConcurrentFailuresNeverLoseIncrements(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, activeUser())
	svc.config.MaxFailedAttempts = 50

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = login(svc, "wrong")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, repo.get("student@campus.edu").FailedAttempts)
}

func TestAuthServiceLoginPropagatesStoreFailure(t *testing.T) {
	svc, repo, _ := newAuthFixture(t, activeUser())
	repo.saveErr = errors.New("connection reset")

	_, err := login(svc, "wrong")
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestAuthServiceRegister(t *testing.T) {
	svc, repo, _ := newAuthFixture(t)

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "Staff@Campus.edu",
		Name:     "Staff",
		Password: "secret1",
		Role:     "role_staff",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, info.Role)
	assert.Equal(t, "staff@campus.edu", info.Email)

	stored := repo.get("staff@campus.edu")
	assert.Equal(t, "hashed:secret1", stored.PasswordHash)
	assert.Equal(t, models.AccountActive, stored.Status)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockTime)
}

func TestAuthServiceRegisterFailures(t *testing.T) {
	svc, _, _ := newAuthFixture(t, activeUser())

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "student@campus.edu", Password: "secret1", Role: "STUDENT"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateIdentity)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "new@campus.edu", Password: "secret1", Role: "JANITOR"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidRole)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "new@campus.edu", Password: "123", Role: "STAFF"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceUnlock(t *testing.T) {
	user := activeUser()
	user.Status = models.AccountLocked
	user.FailedAttempts = 3
	lockedAt := authEpoch
	user.LockTime = &lockedAt
	svc, repo, _ := newAuthFixture(t, user)

	require.NoError(t, svc.Unlock(context.Background(), models.UnlockAccountRequest{Email: "student@campus.edu"}, "admin-1"))
	stored := repo.get("student@campus.edu")
	assert.Equal(t, models.AccountActive, stored.Status)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockTime)

	err := svc.Unlock(context.Background(), models.UnlockAccountRequest{Email: "ghost@campus.edu"}, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
}

func TestAuthServiceAccountStatus(t *testing.T) {
	svc, _, clk := newAuthFixture(t, activeUser())

	status, err := svc.AccountStatus(context.Background(), "student@campus.edu")
	require.NoError(t, err)
	assert.Equal(t, models.LockStateActive, status.State)

	for i := 0; i < 3; i++ {
		_, _ = login(svc, "wrong")
	}
	clk.Advance(15 * time.Second)
	status, err = svc.AccountStatus(context.Background(), "student@campus.edu")
	require.NoError(t, err)
	assert.Equal(t, models.LockStateLocked, status.State)
	assert.InDelta(t, 0.75, status.RemainingMinutes, 0.001)

	clk.Advance(time.Minute)
	status, err = svc.AccountStatus(context.Background(), "student@campus.edu")
	require.NoError(t, err)
	assert.Equal(t, models.LockStateUnlocked, status.State)

	_, err = svc.AccountStatus(context.Background(), "ghost@campus.edu")
	assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
}

func TestAuthServiceNormalisesEmailBeforeValidation(t *testing.T) {
	user := activeUser()
	user.Status = models.AccountLocked
	lockedAt := authEpoch
	user.LockTime = &lockedAt
	svc, repo, _ := newAuthFixture(t, user)
	ctx := context.Background()

	require.NoError(t, svc.Unlock(ctx, models.UnlockAccountRequest{Email: " STUDENT@campus.edu\t"}, "admin-1"))
	assert.Equal(t, models.AccountActive, repo.get("student@campus.edu").Status)

	info, err := svc.Register(ctx, models.RegisterRequest{Email: "  New.Staff@Campus.EDU ", Name: "New", Password: "secret1", Role: "STAFF"})
	require.NoError(t, err)
	assert.Equal(t, "new.staff@campus.edu", info.Email)

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "  not-an-email ", Password: "secret1", Role: "STAFF"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
