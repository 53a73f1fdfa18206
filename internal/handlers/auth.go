package handlers

import (
	"net/http"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const loginTokenTTL = 24 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username    string `json:"username" binding:"required,max=64"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName" binding:"max=64"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type TokenIssuer interface {
	Issue(userID, name string, ttl time.Duration) (string, error)
}

// Login issues a user token for local development. It accepts any
// username/password combination and is not mounted in production.
func Login(issuer TokenIssuer, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !bind(c, &req) {
			return
		}

		userID := req.Username
		name := req.DisplayName
		if name == "" {
			name = userID
		}
		token, err := issuer.Issue(userID, name, loginTokenTTL)
		if err != nil {
			log.Error().Err(err).Msg("failed to generate token")
			middleware.Abort(c, apperr.New(apperr.CodeInternal, "failed to generate token"))
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:  token,
			UserID: userID,
		})
	}
}
