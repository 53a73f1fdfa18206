package handlers

import (
	"net/http"

	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/meeting"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/gin-gonic/gin"
)

// CreateMeeting creates a meeting owned by the caller.
func CreateMeeting(reg *meeting.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := registeredUser(c)
		if !ok {
			return
		}
		var req models.CreateMeetingRequest
		if !bind(c, &req) {
			return
		}

		m, err := reg.Create(c.Request.Context(), userID, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, m.Public())
	}
}

// GetMeeting looks a meeting up by room id or meeting id (public). canJoin
// reflects the caller: anonymous and guest callers are checked as guests.
func GetMeeting(reg *meeting.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := reg.Resolve(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		a, ok := actor(c)
		c.JSON(http.StatusOK, models.MeetingView{
			Meeting: m.Public(),
			CanJoin: m.CanAdmit(ok && !a.Guest()),
		})
	}
}

func UpdateMeeting(reg *meeting.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := registeredUser(c)
		if !ok {
			return
		}
		var req models.UpdateMeetingRequest
		if !bind(c, &req) {
			return
		}

		ctx := c.Request.Context()
		m, err := reg.Resolve(ctx, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		if m, err = reg.Update(ctx, m.ID, userID, req); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, m.Public())
	}
}

// EndMeeting ends the meeting for everyone (owner only).
func EndMeeting(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := registeredUser(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		m, err := mgr.Meeting(ctx, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		if m, err = mgr.EndMeeting(ctx, m.ID, userID); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, m.Public())
	}
}

// CancelMeeting calls off a meeting that has not started (owner only).
func CancelMeeting(reg *meeting.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := registeredUser(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		m, err := reg.Resolve(ctx, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		if m, err = reg.Cancel(ctx, m.ID, userID); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, m.Public())
	}
}

// JoinMeeting admits a registered user or a named guest.
func JoinMeeting(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.JoinMeetingRequest
		if !bind(c, &req) {
			return
		}

		in := lifecycle.JoinInput{MeetingRef: c.Param("id"), JoinMeetingRequest: req}
		// a guest token belongs to another session; its holder joins as a new guest
		if a, ok := actor(c); ok && !a.Guest() {
			in.Actor = a
		}

		res, err := mgr.Join(c.Request.Context(), in)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, models.JoinMeetingResponse{
			Meeting:     res.Meeting.Public(),
			Participant: *res.Participant,
			Token:       res.Token,
		})
	}
}

// ListParticipants lists the sessions of a meeting to its owner and members;
// ?active=true keeps only open ones.
func ListParticipants(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		ps, err := mgr.Participants(c.Request.Context(), a, c.Param("id"), c.Query("active") == "true")
		if err != nil {
			fail(c, err)
			return
		}
		if ps == nil {
			ps = []*models.Participant{}
		}
		c.JSON(http.StatusOK, gin.H{"participants": ps})
	}
}

func MeetingStats(mgr *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, _ := actor(c)
		stats, err := mgr.MeetingStats(c.Request.Context(), a, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
