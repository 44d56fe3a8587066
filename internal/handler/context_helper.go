package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-booking-api/internal/middleware"
	"github.com/noah-isme/campus-booking-api/internal/models"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// respondError writes err and, for errors that carry a retry hint, the
// Retry-After header.
func respondError(c *gin.Context, err error) {
	if appErr := appErrors.FromError(err); appErr != nil {
		if retry, ok := appErr.Details["retry_after_seconds"]; ok {
			c.Header("Retry-After", fmt.Sprint(retry))
		}
	}
	response.Error(c, err)
}

func invalidPayload(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
