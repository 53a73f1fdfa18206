package relay

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/google/uuid"
)

func (c *Client) handle(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.emitError("", apperr.New(apperr.CodeValidation, "malformed message"))
		return
	}

	switch env.Event {
	case models.EventJoinMeeting:
		var p models.JoinMeetingPayload
		if c.decode(env, &p) {
			c.handleJoin(p)
		}
	case models.EventLeaveMeeting:
		var p models.LeaveMeetingPayload
		if c.decode(env, &p) {
			c.handleLeave(p)
		}
	case models.EventWebRTCSignal:
		var p models.SignalMessage
		if c.decode(env, &p) {
			c.handleSignal(p)
		}
	case models.EventChatMessage:
		var p models.ChatMessagePayload
		if c.decode(env, &p) {
			c.handleChat(p)
		}
	case models.EventMediaStateChange:
		var p models.MediaStateChangePayload
		if c.decode(env, &p) {
			c.handleMediaState(p)
		}
	case models.EventConnectionQuality:
		var p models.ConnectionQualityPayload
		if c.decode(env, &p) {
			c.handleQuality(p)
		}
	case models.EventPing:
		var p models.PingPayload
		if len(env.Data) == 0 || c.decode(env, &p) {
			c.emit(models.EventPong, models.PongPayload{Timestamp: p.Timestamp, ServerTime: time.Now().UnixMilli()})
		}
	default:
		c.emitError(env.Event, apperr.Newf(apperr.CodeValidation, "unknown event %q", env.Event))
	}
}

func (c *Client) decode(env models.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.emitError(env.Event, apperr.New(apperr.CodeValidation, "malformed event data"))
		return false
	}
	if err := c.hub.validate.Struct(v); err != nil {
		c.emitError(env.Event, apperr.New(apperr.CodeValidation, err.Error()))
		return false
	}
	return true
}

// joined returns the connection's state or reports NOT_JOINED for event.
func (c *Client) joined(event models.EventName, meetingID string) (joinState, bool) {
	st := c.hub.stateOf(c)
	if !st.joined() || (meetingID != "" && meetingID != st.meetingID) {
		c.emitError(event, apperr.New(apperr.CodeNotJoined, "join the meeting first"))
		return st, false
	}
	return st, true
}

func (c *Client) handleJoin(payload models.JoinMeetingPayload) {
	ctx, cancel := c.hub.storeContext()
	defer cancel()

	p, err := c.hub.sessions.Participant(ctx, payload.ParticipantID)
	if err != nil {
		c.emitError(models.EventJoinMeeting, err)
		return
	}
	m, err := c.hub.sessions.Meeting(ctx, payload.MeetingID)
	if err != nil {
		c.emitError(models.EventJoinMeeting, err)
		return
	}

	switch {
	case !c.actor.Owns(p):
		err = apperr.New(apperr.CodePermissionDenied, "not your session")
	case p.MeetingID != m.ID:
		err = apperr.New(apperr.CodeParticipantNotFound, "participant is not in this meeting")
	case !p.Active():
		err = apperr.New(apperr.CodeSessionClosed, "session is closed")
	case !m.Joinable():
		err = apperr.New(apperr.CodeMeetingNotFound, "meeting not found")
	}
	if err != nil {
		c.emitError(models.EventJoinMeeting, err)
		return
	}

	if st := c.hub.stateOf(c); st.joined() && st.peer.ParticipantID != p.ID {
		c.emitError(models.EventJoinMeeting, apperr.New(apperr.CodeAlreadyInMeeting, "leave the current meeting first"))
		return
	}

	peers := c.hub.attach(c, p)
	self := c.hub.stateOf(c).peer
	c.emit(models.EventJoinMeetingSuccess, models.JoinMeetingSuccess{
		MeetingID:     m.ID,
		ParticipantID: p.ID,
		Participants:  peers,
	})
	c.hub.broadcast(m.ID, models.EventParticipantJoined, models.PresencePayload{
		MeetingID:   m.ID,
		PeerSummary: self,
		Timestamp:   time.Now().UnixMilli(),
	}, c)
	c.log.Info().Str("meeting_id", m.ID).Str("participant_id", p.ID).Int("peers", len(peers)).Msg("joined broadcast group")
}

func (c *Client) handleLeave(payload models.LeaveMeetingPayload) {
	st, ok := c.joined(models.EventLeaveMeeting, payload.MeetingID)
	if !ok {
		return
	}
	if st.peer.ParticipantID != payload.ParticipantID {
		c.emitError(models.EventLeaveMeeting, apperr.New(apperr.CodeNotJoined, "not joined as this participant"))
		return
	}

	st, owned := c.hub.detach(c)
	if !owned {
		return
	}
	c.hub.leave(st, models.EndReasonUserLeft, models.EventParticipantLeft)
}

func (c *Client) handleSignal(msg models.SignalMessage) {
	st, ok := c.joined(models.EventWebRTCSignal, "")
	if !ok {
		return
	}
	if !c.signalLimiter.Allow() {
		c.emitError(models.EventWebRTCSignal, apperr.New(apperr.CodeRateLimited, "too many signaling messages"))
		return
	}

	target, meetingID := c.hub.lookup(msg.To)
	if target == nil || meetingID != st.meetingID {
		c.emitError(models.EventWebRTCSignal, apperr.Newf(apperr.CodeTargetNotFound, "participant %s is not connected", msg.To))
		return
	}
	msg.From = st.peer.ParticipantID
	msg.Timestamp = time.Now().UnixMilli()
	target.emit(models.EventWebRTCSignal, msg)
}

func (c *Client) handleChat(payload models.ChatMessagePayload) {
	st, ok := c.joined(models.EventChatMessage, payload.MeetingID)
	if !ok {
		return
	}
	if !c.chatLimiter.Allow() {
		c.emitError(models.EventChatMessage, apperr.New(apperr.CodeRateLimited, "too many chat messages"))
		return
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" || utf8.RuneCountInString(content) > c.hub.cfg.MaxChatLength {
		c.emitError(models.EventChatMessage, apperr.Newf(apperr.CodeValidation, "message must be 1 to %d characters", c.hub.cfg.MaxChatLength))
		return
	}

	ctx, cancel := c.hub.storeContext()
	defer cancel()
	p, err := c.hub.sessions.Participant(ctx, st.peer.ParticipantID)
	if err != nil {
		c.emitError(models.EventChatMessage, err)
		return
	}
	m, err := c.hub.sessions.Meeting(ctx, st.meetingID)
	if err != nil {
		c.emitError(models.EventChatMessage, err)
		return
	}
	if !m.Settings.AllowChat || !p.Permissions.CanChat {
		c.emitError(models.EventChatMessage, apperr.New(apperr.CodePermissionDenied, "chat is not permitted"))
		return
	}

	kind := payload.Type
	if kind == "" {
		kind = "text"
	}
	c.hub.broadcast(st.meetingID, models.EventChatMessage, models.ChatMessage{
		ID:         uuid.New().String(),
		MeetingID:  st.meetingID,
		From:       st.peer.ParticipantID,
		SenderName: st.peer.DisplayName,
		Content:    content,
		Type:       kind,
		Timestamp:  time.Now().UnixMilli(),
	}, nil)
}

func (c *Client) handleMediaState(payload models.MediaStateChangePayload) {
	st, ok := c.joined(models.EventMediaStateChange, payload.MeetingID)
	if !ok {
		return
	}

	ctx, cancel := c.hub.storeContext()
	defer cancel()
	p, err := c.hub.sessions.UpdateMediaState(ctx, c.actor, st.peer.ParticipantID, payload.MediaState)
	if err != nil {
		c.emitError(models.EventMediaStateChange, err)
		return
	}

	c.hub.setMediaState(c, p.MediaState)
	c.hub.broadcast(st.meetingID, models.EventMediaStateChange, models.MediaStateBroadcast{
		MeetingID:     st.meetingID,
		ParticipantID: p.ID,
		MediaState:    p.MediaState,
	}, c)
}

func (c *Client) handleQuality(payload models.ConnectionQualityPayload) {
	st, ok := c.joined(models.EventConnectionQuality, payload.MeetingID)
	if !ok {
		return
	}

	patch := payload.Quality
	if patch.Latency == nil {
		if rtt := int(c.rtt.Load()); rtt > 0 {
			patch.Latency = &rtt
		}
	}

	ctx, cancel := c.hub.storeContext()
	defer cancel()
	p, err := c.hub.sessions.UpdateConnectionQuality(ctx, c.actor, st.peer.ParticipantID, patch)
	if err != nil {
		c.emitError(models.EventConnectionQuality, err)
		return
	}

	c.hub.broadcast(st.meetingID, models.EventConnectionQuality, models.ConnectionQualityBroadcast{
		MeetingID:     st.meetingID,
		ParticipantID: p.ID,
		Quality:       p.ConnectionQuality,
	}, c)
}
