package handlers

import (
	"errors"
	"strings"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// bind decodes the JSON body and reports binding failures as VALIDATION_ERROR.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.Abort(c, apperr.New(apperr.CodeValidation, bindingMessage(err)))
		return false
	}
	return true
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(fields, "; ")
}

// fail renders err. Errors without a public code become INTERNAL_ERROR.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	middleware.Abort(c, err)
}

// actor returns the authenticated caller, if any.
func actor(c *gin.Context) (lifecycle.Actor, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return lifecycle.Actor{}, false
	}
	return lifecycle.Actor{
		UserID:        claims.UserID,
		ParticipantID: claims.ParticipantID,
		DisplayName:   claims.Name,
	}, true
}

// registeredUser returns the caller's user id and rejects guests.
func registeredUser(c *gin.Context) (string, bool) {
	a, ok := actor(c)
	if !ok || a.Guest() {
		middleware.Abort(c, apperr.New(apperr.CodeUnauthorized, "a user account is required"))
		return "", false
	}
	return a.UserID, true
}
