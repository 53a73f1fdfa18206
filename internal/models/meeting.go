package models

import (
	"regexp"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
)

type MeetingType string

const (
	MeetingTypeInstant   MeetingType = "instant"
	MeetingTypeScheduled MeetingType = "scheduled"
	MeetingTypeRecurring MeetingType = "recurring"
)

type MeetingStatus string

const (
	MeetingStatusWaiting   MeetingStatus = "waiting"
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusEnded     MeetingStatus = "ended"
	MeetingStatusCancelled MeetingStatus = "cancelled"
)

// roomIDPattern is the shareable room identifier, e.g. "ABC-123-XYZ".
var roomIDPattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}-[A-Z]{3}$`)

func ValidRoomID(s string) bool {
	return roomIDPattern.MatchString(s)
}

type MeetingSettings struct {
	AllowGuests      bool `json:"allowGuests"`
	LockMeeting      bool `json:"lockMeeting"`
	PasswordEnabled  bool `json:"passwordEnabled"`
	MuteOnJoin       bool `json:"muteOnJoin"`
	VideoOnJoin      bool `json:"videoOnJoin"`
	AllowScreenShare bool `json:"allowScreenShare"`
	AllowChat        bool `json:"allowChat"`
	AllowRecording   bool `json:"allowRecording"`
}

func DefaultMeetingSettings() MeetingSettings {
	return MeetingSettings{
		AllowGuests:      true,
		VideoOnJoin:      true,
		AllowScreenShare: true,
		AllowChat:        true,
	}
}

// SettingsPatch carries only the fields a caller wants to change.
// PasswordEnabled is derived from the stored password and cannot be patched.
type SettingsPatch struct {
	AllowGuests      *bool `json:"allowGuests,omitempty"`
	LockMeeting      *bool `json:"lockMeeting,omitempty"`
	MuteOnJoin       *bool `json:"muteOnJoin,omitempty"`
	VideoOnJoin      *bool `json:"videoOnJoin,omitempty"`
	AllowScreenShare *bool `json:"allowScreenShare,omitempty"`
	AllowChat        *bool `json:"allowChat,omitempty"`
	AllowRecording   *bool `json:"allowRecording,omitempty"`
}

func (s *MeetingSettings) Merge(p SettingsPatch) {
	mergeBool(&s.AllowGuests, p.AllowGuests)
	mergeBool(&s.LockMeeting, p.LockMeeting)
	mergeBool(&s.MuteOnJoin, p.MuteOnJoin)
	mergeBool(&s.VideoOnJoin, p.VideoOnJoin)
	mergeBool(&s.AllowScreenShare, p.AllowScreenShare)
	mergeBool(&s.AllowChat, p.AllowChat)
	mergeBool(&s.AllowRecording, p.AllowRecording)
}

func mergeBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Meeting is the persisted room record.
type Meeting struct {
	ID                  string          `json:"id"`
	RoomID              string          `json:"roomId"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	OwnerID             string          `json:"ownerId"`
	Type                MeetingType     `json:"type"`
	Status              MeetingStatus   `json:"status"`
	MaxParticipants     int             `json:"maxParticipants"`
	CurrentParticipants int             `json:"currentParticipants"`
	Settings            MeetingSettings `json:"settings"`
	PasswordHash        string          `json:"passwordHash,omitempty"`
	Recurrence          string          `json:"recurrence,omitempty"`
	ScheduledAt         *time.Time      `json:"scheduledAt,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	StartedAt           *time.Time      `json:"startedAt,omitempty"`
	EndedAt             *time.Time      `json:"endedAt,omitempty"`
	// Duration is whole seconds between start (or creation) and end.
	Duration int64 `json:"duration"`
}

// Public strips fields that must never leave the server.
func (m Meeting) Public() Meeting {
	m.PasswordHash = ""
	return m
}

func (m *Meeting) Joinable() bool {
	return m.Status == MeetingStatusWaiting || m.Status == MeetingStatusActive
}

func (m *Meeting) Finished() bool {
	return m.Status == MeetingStatusEnded || m.Status == MeetingStatusCancelled
}

// AdmissionError reports why a new participant cannot be admitted. replaced is
// the number of the caller's own sessions that the join will close, which
// frees that many slots.
func (m *Meeting) AdmissionError(authenticated bool, replaced int) error {
	if !m.Joinable() {
		return apperr.Newf(apperr.CodeMeetingNotFound, "meeting %s is %s", m.RoomID, m.Status)
	}
	if m.Settings.LockMeeting {
		return apperr.New(apperr.CodeMeetingLocked, "meeting is locked")
	}
	if m.CurrentParticipants-replaced >= m.MaxParticipants {
		return apperr.New(apperr.CodeMeetingFull, "meeting is at capacity")
	}
	if !authenticated && !m.Settings.AllowGuests {
		return apperr.New(apperr.CodeGuestsNotAllowed, "meeting does not admit guests")
	}
	return nil
}

func (m *Meeting) CanAdmit(authenticated bool) bool {
	return m.AdmissionError(authenticated, 0) == nil
}

var transitions = map[MeetingStatus][]MeetingStatus{
	MeetingStatusWaiting: {MeetingStatusActive, MeetingStatusEnded, MeetingStatusCancelled},
	MeetingStatusActive:  {MeetingStatusEnded},
}

// Transition moves the meeting forward and stamps the derived timestamps.
func (m *Meeting) Transition(to MeetingStatus, now time.Time) error {
	allowed := false
	for _, s := range transitions[m.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperr.Newf(apperr.CodeInvalidStateTransition, "meeting cannot go from %s to %s", m.Status, to)
	}

	m.Status = to
	m.UpdatedAt = now
	switch to {
	case MeetingStatusActive:
		m.StartedAt = &now
	case MeetingStatusEnded, MeetingStatusCancelled:
		m.EndedAt = &now
		start := m.CreatedAt
		if m.StartedAt != nil {
			start = *m.StartedAt
		}
		m.Duration = int64(now.Sub(start) / time.Second)
		if m.Duration < 0 {
			m.Duration = 0
		}
	}
	return nil
}
