package models

import (
	"encoding/json"

	"github.com/Akins20/video-meet/internal/apperr"
)

// EventName identifies a connection-channel event.
type EventName string

const (
	EventJoinMeeting       EventName = "join-meeting"
	EventLeaveMeeting      EventName = "leave-meeting"
	EventWebRTCSignal      EventName = "webrtc-signal"
	EventChatMessage       EventName = "chat-message"
	EventMediaStateChange  EventName = "media-state-change"
	EventConnectionQuality EventName = "connection-quality"
	EventPing              EventName = "ping"

	EventJoinMeetingSuccess EventName = "join-meeting-success"
	EventJoinMeetingError   EventName = "join-meeting-error"
	EventParticipantJoined  EventName = "participant-joined"
	EventParticipantLeft    EventName = "participant-left"
	EventUserDisconnected   EventName = "user-disconnected"
	EventParticipantRemoved EventName = "participant-removed"
	EventMeetingEnded       EventName = "meeting-ended"
	EventPong               EventName = "pong"
	EventError              EventName = "error"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "ice-candidate"
)

// Envelope is the frame exchanged over the WebSocket in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an Envelope whose data has not been encoded yet.
type Outbound struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

type JoinMeetingPayload struct {
	MeetingID     string `json:"meetingId" validate:"required"`
	ParticipantID string `json:"participantId" validate:"required"`
}

type LeaveMeetingPayload struct {
	MeetingID     string `json:"meetingId" validate:"required"`
	ParticipantID string `json:"participantId" validate:"required"`
}

// SignalMessage is the offer/answer/ICE envelope relayed verbatim between peers.
type SignalMessage struct {
	To        string          `json:"to" validate:"required"`
	From      string          `json:"from,omitempty"`
	Type      SignalType      `json:"type" validate:"required,oneof=offer answer ice-candidate"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type ChatMessagePayload struct {
	MeetingID string `json:"meetingId" validate:"required"`
	Content   string `json:"content" validate:"required"`
	Type      string `json:"type" validate:"omitempty,oneof=text emoji link"`
}

type ChatMessage struct {
	ID         string `json:"id"`
	MeetingID  string `json:"meetingId"`
	From       string `json:"from"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
}

type MediaStateChangePayload struct {
	MeetingID  string          `json:"meetingId" validate:"required"`
	MediaState MediaStatePatch `json:"mediaState"`
}

type MediaStateBroadcast struct {
	MeetingID     string     `json:"meetingId"`
	ParticipantID string     `json:"participantId"`
	MediaState    MediaState `json:"mediaState"`
}

type ConnectionQualityPayload struct {
	MeetingID string       `json:"meetingId" validate:"required"`
	Quality   QualityPatch `json:"quality"`
}

type ConnectionQualityBroadcast struct {
	MeetingID     string            `json:"meetingId"`
	ParticipantID string            `json:"participantId"`
	Quality       ConnectionQuality `json:"quality"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

// PeerSummary describes a participant present in a broadcast group.
type PeerSummary struct {
	ParticipantID string     `json:"participantId"`
	DisplayName   string     `json:"displayName"`
	Role          Role       `json:"role"`
	MediaState    MediaState `json:"mediaState"`
}

type JoinMeetingSuccess struct {
	MeetingID     string        `json:"meetingId"`
	ParticipantID string        `json:"participantId"`
	Participants  []PeerSummary `json:"participants"`
}

type PresencePayload struct {
	MeetingID string `json:"meetingId"`
	PeerSummary
	Reason    EndReason `json:"reason,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type MeetingEndedPayload struct {
	MeetingID string `json:"meetingId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload is an error scoped to the inbound event that caused it.
type ErrorPayload struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Event   EventName   `json:"event,omitempty"`
}

func NewErrorPayload(event EventName, err error) ErrorPayload {
	e := apperr.From(err)
	return ErrorPayload{Code: e.Code, Message: e.Message, Event: event}
}
