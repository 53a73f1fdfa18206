package models

import "time"

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleGuest       Role = "guest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleModerator, RoleParticipant, RoleGuest:
		return true
	}
	return false
}

// Moderates reports whether the role can manage other participants.
func (r Role) Moderates() bool {
	return r == RoleHost || r == RoleModerator
}

type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
)

type EndReason string

const (
	EndReasonUserLeft       EndReason = "user_left"
	EndReasonReplaced       EndReason = "replaced_by_new_session"
	EndReasonMeetingEnded   EndReason = "meeting_ended_by_host"
	EndReasonStale          EndReason = "session_cleanup_stale"
	EndReasonConnectionLost EndReason = "connection_lost"
	EndReasonKicked         EndReason = "kicked_by_moderator"
)

type DeviceInfo struct {
	DeviceID   string     `json:"deviceId" binding:"required,max=128"`
	DeviceType DeviceType `json:"deviceType" binding:"required,oneof=web mobile desktop"`
	UserAgent  string     `json:"userAgent,omitempty"`
}

type MediaState struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
	HandRaised    bool `json:"handRaised"`
}

type MediaStatePatch struct {
	AudioEnabled  *bool `json:"audioEnabled,omitempty"`
	VideoEnabled  *bool `json:"videoEnabled,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
	HandRaised    *bool `json:"handRaised,omitempty"`
}

func (s *MediaState) Merge(p MediaStatePatch) {
	mergeBool(&s.AudioEnabled, p.AudioEnabled)
	mergeBool(&s.VideoEnabled, p.VideoEnabled)
	mergeBool(&s.ScreenSharing, p.ScreenSharing)
	mergeBool(&s.HandRaised, p.HandRaised)
}

// Participant is one device's session in a meeting.
type Participant struct {
	ID                string            `json:"id"`
	MeetingID         string            `json:"meetingId"`
	SessionID         string            `json:"sessionId"`
	Identity          Identity          `json:"identity"`
	DeviceID          string            `json:"deviceId"`
	DeviceType        DeviceType        `json:"deviceType"`
	Role              Role              `json:"role"`
	Permissions       Permissions       `json:"permissions"`
	MediaState        MediaState        `json:"mediaState"`
	MediaUpdatedAt    *time.Time        `json:"mediaUpdatedAt,omitempty"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality"`
	JoinedAt          time.Time         `json:"joinedAt"`
	LeftAt            *time.Time        `json:"leftAt,omitempty"`
	SessionDuration   int64             `json:"sessionDuration"`
	EndReason         EndReason         `json:"endReason,omitempty"`
}

func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

// Close stamps the leave time and the derived duration. It returns false when
// the session was already closed.
func (p *Participant) Close(reason EndReason, now time.Time) bool {
	if !p.Active() {
		return false
	}
	if !now.After(p.JoinedAt) {
		now = p.JoinedAt.Add(time.Millisecond)
	}
	p.LeftAt = &now
	p.SessionDuration = int64(now.Sub(p.JoinedAt) / time.Second)
	p.EndReason = reason
	return true
}

// Elapsed is the session length so far, or the final length once closed.
func (p *Participant) Elapsed(now time.Time) time.Duration {
	if p.LeftAt != nil {
		return p.LeftAt.Sub(p.JoinedAt)
	}
	return now.Sub(p.JoinedAt)
}

// LastActivity is the most recent of the join time and the last quality report.
func (p *Participant) LastActivity() time.Time {
	last := p.JoinedAt
	if lu := p.ConnectionQuality.LastUpdated; lu != nil && lu.After(last) {
		last = *lu
	}
	return last
}

// ResolveRole picks the role of a new session. The meeting owner is host
// unless they ask to join as a plain participant (a companion device); guests
// are always guest.
func ResolveRole(m *Meeting, id Identity, hint Role) Role {
	switch id.Kind {
	case IdentityGuest:
		return RoleGuest
	case IdentityRegistered:
		if id.UserID == m.OwnerID && hint != RoleParticipant {
			return RoleHost
		}
	}
	return RoleParticipant
}
