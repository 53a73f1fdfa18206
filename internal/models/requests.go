package models

import "time"

// CreateMeetingRequest is the request body for creating a meeting
type CreateMeetingRequest struct {
	Title           string         `json:"title" binding:"required,max=200"`
	Description     string         `json:"description" binding:"max=2000"`
	Type            MeetingType    `json:"type" binding:"required,oneof=instant scheduled recurring"`
	MaxParticipants int            `json:"maxParticipants" binding:"omitempty,min=2"`
	ScheduledAt     *time.Time     `json:"scheduledAt"`
	Recurrence      string         `json:"recurrence" binding:"max=200"`
	Password        string         `json:"password" binding:"max=72"`
	Settings        *SettingsPatch `json:"settings"`
}

// UpdateMeetingRequest is merged into the stored meeting; absent fields are kept.
type UpdateMeetingRequest struct {
	Title           *string        `json:"title" binding:"omitempty,max=200"`
	Description     *string        `json:"description" binding:"omitempty,max=2000"`
	MaxParticipants *int           `json:"maxParticipants" binding:"omitempty,min=2"`
	ScheduledAt     *time.Time     `json:"scheduledAt"`
	Password        *string        `json:"password" binding:"omitempty,max=72"`
	Settings        *SettingsPatch `json:"settings"`
}

// MeetingView is the public meeting plus whether the caller could join it now.
type MeetingView struct {
	Meeting
	CanJoin bool `json:"canJoin"`
}

// JoinMeetingRequest contains the data needed to open a session
type JoinMeetingRequest struct {
	Password    string     `json:"password"`
	GuestName   string     `json:"guestName" binding:"max=64"`
	DisplayName string     `json:"displayName" binding:"max=64"`
	Device      DeviceInfo `json:"device" binding:"required"`
	ForceJoin   bool       `json:"forceJoin"`
	Role        Role       `json:"role" binding:"omitempty,oneof=participant"`
}

// JoinMeetingResponse is returned by a successful join. Token is only set for
// guests, who need it to authenticate the WebSocket handshake.
type JoinMeetingResponse struct {
	Meeting     Meeting     `json:"meeting"`
	Participant Participant `json:"participant"`
	Token       string      `json:"token,omitempty"`
}

type LeaveMeetingRequest struct {
	Reason EndReason `json:"reason" binding:"omitempty,oneof=user_left connection_lost"`
}

type UpdateRoleRequest struct {
	Role Role `json:"role" binding:"required,oneof=host moderator participant guest"`
}

// MeetingStats summarises every session recorded for a meeting.
type MeetingStats struct {
	MeetingID             string              `json:"meetingId"`
	RoomID                string              `json:"roomId"`
	Status                MeetingStatus       `json:"status"`
	CurrentParticipants   int                 `json:"currentParticipants"`
	MaxParticipants       int                 `json:"maxParticipants"`
	TotalSessions         int                 `json:"totalSessions"`
	ActiveSessions        int                 `json:"activeSessions"`
	UniqueUsers           int                 `json:"uniqueUsers"`
	GuestSessions         int                 `json:"guestSessions"`
	AverageSessionSeconds int64               `json:"averageSessionSeconds"`
	Duration              int64               `json:"duration"`
	EndReasons            map[EndReason]int   `json:"endReasons"`
	DeviceTypes           map[DeviceType]int  `json:"deviceTypes"`
	QualityTiers          map[QualityTier]int `json:"qualityTiers"`
}

type ParticipantStats struct {
	ParticipantID     string            `json:"participantId"`
	MeetingID         string            `json:"meetingId"`
	DisplayName       string            `json:"displayName"`
	Role              Role              `json:"role"`
	Active            bool              `json:"active"`
	JoinedAt          time.Time         `json:"joinedAt"`
	LeftAt            *time.Time        `json:"leftAt,omitempty"`
	ElapsedSeconds    int64             `json:"elapsedSeconds"`
	MediaState        MediaState        `json:"mediaState"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality"`
	EndReason         EndReason         `json:"endReason,omitempty"`
}
