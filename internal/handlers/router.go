package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Akins20/video-meet/config"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/meeting"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/Akins20/video-meet/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Verifier interface {
	middleware.Verifier
	TokenIssuer
}

type Deps struct {
	Config    *config.Config
	Meetings  *meeting.Registry
	Lifecycle *lifecycle.Manager
	Hub       *relay.Hub
	Tokens    Verifier
	// Ping checks the store for /health.
	Ping func(ctx context.Context) error
	Log  zerolog.Logger
}

// NewRouter wires every route of the request and connection channels.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Log))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.Config.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		conns, meetings := d.Hub.Stats()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": conns, "meetings": meetings})
	})

	auth := middleware.JWTAuth(d.Tokens)
	optionalAuth := middleware.OptionalJWTAuth(d.Tokens)

	api := router.Group("/api", Timeout(d.Config.Session.StoreTimeout))
	{
		// dev token issuer
		if !d.Config.IsProduction() {
			api.POST("/auth/login", Login(d.Tokens, d.Log))
		}

		meetings := api.Group("/meetings")
		meetings.POST("", auth, CreateMeeting(d.Meetings))
		meetings.GET("/:id", optionalAuth, GetMeeting(d.Meetings))
		meetings.PATCH("/:id", auth, UpdateMeeting(d.Meetings))
		meetings.POST("/:id/end", auth, EndMeeting(d.Lifecycle))
		meetings.POST("/:id/cancel", auth, CancelMeeting(d.Meetings))
		meetings.POST("/:id/join", optionalAuth, JoinMeeting(d.Lifecycle))
		meetings.GET("/:id/participants", auth, ListParticipants(d.Lifecycle))
		meetings.GET("/:id/stats", auth, MeetingStats(d.Lifecycle))

		participants := api.Group("/participants", auth)
		participants.POST("/:id/leave", LeaveMeeting(d.Lifecycle))
		participants.GET("/:id/stats", ParticipantStats(d.Lifecycle))
		participants.PATCH("/:id/media", UpdateMediaState(d.Lifecycle))
		participants.PATCH("/:id/quality", UpdateConnectionQuality(d.Lifecycle))
		participants.PATCH("/:id/role", UpdateRole(d.Lifecycle))
		participants.PATCH("/:id/permissions", UpdatePermissions(d.Lifecycle))
		participants.DELETE("/:id", RemoveParticipant(d.Lifecycle))

		api.GET("/sessions/:sessionId", auth, GetSession(d.Lifecycle))
	}

	router.GET("/ws/signal", HandleSignaling(d.Hub))

	return router
}
