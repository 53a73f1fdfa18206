package relay

import (
	"time"

	"github.com/Akins20/video-meet/internal/models"
)

// disconnect runs once the read loop ends. The session is closed in the store
// before the group hears about it. During shutdown the session stays open so
// the client can attach again after a restart; the stale sweep reaps it
// otherwise.
func (h *Hub) disconnect(c *Client) {
	defer h.wg.Done()
	st, owned, shuttingDown := h.unregister(c)
	c.close()
	if owned && shuttingDown {
		c.log.Debug().Str("participant_id", st.peer.ParticipantID).Msg("detached on shutdown, session kept")
	}
	if owned && !shuttingDown {
		h.leave(st, models.EndReasonConnectionLost, models.EventUserDisconnected)
	}
	c.log.Debug().Msg("connection closed")
}

// leave closes the participant session and then tells the remaining group.
func (h *Hub) leave(st joinState, reason models.EndReason, event models.EventName) {
	ctx, cancel := h.storeContext()
	defer cancel()

	pid := st.peer.ParticipantID
	if _, err := h.sessions.Leave(ctx, pid, reason); err != nil {
		// the stale sweep closes it later
		h.log.Error().Err(err).Str("participant_id", pid).Str("reason", string(reason)).Msg("failed to close session")
	}
	h.broadcast(st.meetingID, event, models.PresencePayload{
		MeetingID:   st.meetingID,
		PeerSummary: st.peer,
		Reason:      reason,
		Timestamp:   time.Now().UnixMilli(),
	}, nil)
	h.log.Info().Str("meeting_id", st.meetingID).Str("participant_id", pid).Str("reason", string(reason)).Msg("left broadcast group")
}
