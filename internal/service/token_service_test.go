package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

func TestJWTIssuerRoundTrip(t *testing.T) {
	clk := clock.NewManual(time.Now().UTC().Truncate(time.Second))
	issuer := NewJWTIssuer(TokenConfig{Secret: "test-secret", Expiry: time.Hour, Issuer: "campus-booking"}, clk)
	user := &models.User{ID: "u1", Email: "staff@campus.edu", Role: models.RoleStaff}

	token, expiresAt, err := issuer.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "staff@campus.edu", claims.Subject)
	assert.Equal(t, models.RoleStaff, claims.Role)

	clk.Advance(2 * time.Hour)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestJWTIssuerRejectsForeignSignature(t *testing.T) {
	user := &models.User{ID: "u1", Email: "staff@campus.edu", Role: models.RoleStaff}
	other := NewJWTIssuer(TokenConfig{Secret: "other-secret"}, nil)
	token, _, err := other.Issue(user)
	require.NoError(t, err)

	_, err = NewJWTIssuer(TokenConfig{Secret: "test-secret"}, nil).Verify(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)
	assert.True(t, hasher.Verify("secret1", hash))
	assert.False(t, hasher.Verify("secret2", hash))

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
}
