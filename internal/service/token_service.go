package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

// TokenConfig configures access token issuance.
type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// JWTIssuer issues and verifies HS256 access tokens scoped to an identity and role.
type JWTIssuer struct {
	config TokenConfig
	clock  clock.Clock
}

// NewJWTIssuer constructs a JWTIssuer.
func NewJWTIssuer(config TokenConfig, clk clock.Clock) *JWTIssuer {
	if clk == nil {
		clk = clock.System{}
	}
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	return &JWTIssuer{config: config, clock: clk}
}

// Issue signs a token for user and returns it with its expiry.
func (i *JWTIssuer) Issue(user *models.User) (string, time.Time, error) {
	issuedAt := i.clock.Now().UTC()
	expiresAt := issuedAt.Add(i.config.Expiry)
	claims := &models.JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   user.Email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses a token and returns its claims when it is valid.
func (i *JWTIssuer) Verify(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	}, jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token role")
	}
	return claims, nil
}
