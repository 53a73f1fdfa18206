package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserID = "user_id"
	ContextClaims = "claims"
)

var ErrInvalidToken = errors.New("invalid token")

//go:generate mockgen -destination=../mocks/mock_verifier.go -package=mocks github.com/Akins20/video-meet/internal/middleware Verifier

// Verifier turns a bearer token into the caller's claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Claims identify either a registered user (UserID) or a guest bound to a
// single participant session (Guest, ParticipantID).
type Claims struct {
	UserID        string `json:"user_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Guest         bool   `json:"guest,omitempty"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier signs and validates HS256 tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if (claims.Guest && claims.ParticipantID == "") || (!claims.Guest && claims.UserID == "") {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issue signs a token for a registered user.
func (v *JWTVerifier) Issue(userID, name string, ttl time.Duration) (string, error) {
	return v.sign(Claims{UserID: userID, Name: name}, ttl)
}

// IssueGuest signs a token that only authorises the given participant session.
func (v *JWTVerifier) IssueGuest(participantID, name string, ttl time.Duration) (string, error) {
	return v.sign(Claims{ParticipantID: participantID, Guest: true, Name: name}, ttl)
}

func (v *JWTVerifier) sign(claims Claims, ttl time.Duration) (string, error) {
	now := v.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>" or,
// for browser WebSocket handshakes, the token query parameter.
func BearerToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	return r.URL.Query().Get("token"), nil
}

// JWTAuth rejects requests without valid claims.
func JWTAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c.Request)
		if err != nil {
			Abort(c, apperr.New(apperr.CodeUnauthorized, err.Error()))
			return
		}
		if tokenString == "" {
			Abort(c, apperr.New(apperr.CodeUnauthorized, "authorization header required"))
			return
		}
		if !authenticate(c, v, tokenString) {
			return
		}
		c.Next()
	}
}

// OptionalJWTAuth lets anonymous requests through but still rejects a token
// that is present and invalid.
func OptionalJWTAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c.Request)
		if err != nil {
			Abort(c, apperr.New(apperr.CodeUnauthorized, err.Error()))
			return
		}
		if tokenString != "" && !authenticate(c, v, tokenString) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, v Verifier, tokenString string) bool {
	claims, err := v.Verify(tokenString)
	if err != nil {
		Abort(c, apperr.New(apperr.CodeUnauthorized, "invalid token"))
		return false
	}
	c.Set(ContextClaims, claims)
	if !claims.Guest {
		c.Set(ContextUserID, claims.UserID)
	}
	return true
}

// ClaimsFrom returns the claims stored by JWTAuth or OptionalJWTAuth.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// Abort writes err as {"error": {"code", "message"}} with the matching status.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.From(err)})
}
