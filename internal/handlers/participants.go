package handlers

import (
	"net/http"

	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/gin-gonic/gin"
)

// LeaveMeeting closes the caller's own session.
func LeaveMeeting(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		var req models.LeaveMeetingRequest
		if c.Request.ContentLength > 0 && !bind(c, &req) {
			return
		}

		p, err := mgr.LeaveAs(c.Request.Context(), a, c.Param("id"), req.Reason)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// GetSession looks a participant up by its session id.
func GetSession(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		p, err := mgr.Session(c.Request.Context(), a, c.Param("sessionId"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func ParticipantStats(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		stats, err := mgr.ParticipantStats(c.Request.Context(), a, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func UpdateMediaState(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		var patch models.MediaStatePatch
		if !bind(c, &patch) {
			return
		}
		p, err := mgr.UpdateMediaState(c.Request.Context(), a, c.Param("id"), patch)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func UpdateConnectionQuality(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		var patch models.QualityPatch
		if !bind(c, &patch) {
			return
		}
		p, err := mgr.UpdateConnectionQuality(c.Request.Context(), a, c.Param("id"), patch)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// UpdateRole changes a participant's role (host/moderator only).
func UpdateRole(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		var req models.UpdateRoleRequest
		if !bind(c, &req) {
			return
		}
		p, err := mgr.UpdateRole(c.Request.Context(), a, c.Param("id"), req.Role)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func UpdatePermissions(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		var patch models.PermissionsPatch
		if !bind(c, &patch) {
			return
		}
		p, err := mgr.UpdatePermissions(c.Request.Context(), a, c.Param("id"), patch)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// RemoveParticipant kicks a participant out of the meeting (host/moderator only).
func RemoveParticipant(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		p, err := mgr.RemoveParticipant(c.Request.Context(), a, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
