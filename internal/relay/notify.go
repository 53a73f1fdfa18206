package relay

import (
	"time"

	"github.com/Akins20/video-meet/internal/models"
)

// ParticipantLeft is called when a session closes outside its connection, by
// a request-channel leave, a forced rejoin or the stale sweep.
func (h *Hub) ParticipantLeft(p *models.Participant) {
	h.evict(p, models.EventParticipantLeft)
}

// ParticipantRemoved is called when a moderator removes a participant.
func (h *Hub) ParticipantRemoved(p *models.Participant) {
	h.evict(p, models.EventParticipantRemoved)
}

// evict detaches the participant's connection and tells the group, the
// evicted connection included.
func (h *Hub) evict(p *models.Participant, event models.EventName) {
	h.mu.Lock()
	c, ok := h.byParticipant[p.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	st := c.state
	recipients := h.membersLocked(st.meetingID)
	h.detachLocked(c)
	h.mu.Unlock()

	msg, err := encode(event, models.PresencePayload{
		MeetingID:   st.meetingID,
		PeerSummary: st.peer,
		Reason:      p.EndReason,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode presence")
		return
	}
	for _, r := range recipients {
		r.enqueue(msg)
	}
}

// MeetingEnded tells every connection in the meeting and dissolves the group.
// Connections stay open and may join another meeting.
func (h *Hub) MeetingEnded(meetingID string) {
	h.mu.Lock()
	recipients := h.membersLocked(meetingID)
	for _, c := range recipients {
		if h.byParticipant[c.state.peer.ParticipantID] == c {
			delete(h.byParticipant, c.state.peer.ParticipantID)
		}
		c.state = joinState{}
	}
	delete(h.groups, meetingID)
	h.mu.Unlock()

	msg, err := encode(models.EventMeetingEnded, models.MeetingEndedPayload{
		MeetingID: meetingID,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode meeting-ended")
		return
	}
	for _, c := range recipients {
		c.enqueue(msg)
	}
	h.log.Info().Str("meeting_id", meetingID).Int("connections", len(recipients)).Msg("meeting group dissolved")
}
