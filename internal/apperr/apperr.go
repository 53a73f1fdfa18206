// Package apperr defines the error codes shared by the request channel and the
// connection channel.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimit
)

type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInvalidRoomID          Code = "INVALID_ROOM_ID"
	CodeInvalidSchedule        Code = "INVALID_SCHEDULE"
	CodeGuestNameRequired      Code = "GUEST_NAME_REQUIRED"
	CodePasswordRequired       Code = "PASSWORD_REQUIRED"
	CodeInvalidPassword        Code = "INVALID_PASSWORD"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeNotMeetingOwner        Code = "NOT_MEETING_OWNER"
	CodePermissionDenied       Code = "PERMISSION_DENIED"
	CodeMeetingLocked          Code = "MEETING_LOCKED"
	CodeGuestsNotAllowed       Code = "GUESTS_NOT_ALLOWED"
	CodeMeetingNotFound        Code = "MEETING_NOT_FOUND"
	CodeParticipantNotFound    Code = "PARTICIPANT_NOT_FOUND"
	CodeTargetNotFound         Code = "TARGET_NOT_FOUND"
	CodeMeetingFull            Code = "MEETING_FULL"
	CodeAlreadyInMeeting       Code = "ALREADY_IN_MEETING"
	CodeJoinInProgress         Code = "JOIN_IN_PROGRESS"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeSessionClosed          Code = "SESSION_CLOSED"
	CodeNotJoined              Code = "NOT_JOINED"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeInternal               Code = "INTERNAL_ERROR"
)

var kinds = map[Code]Kind{
	CodeValidation:             KindValidation,
	CodeInvalidRoomID:          KindValidation,
	CodeInvalidSchedule:        KindValidation,
	CodeGuestNameRequired:      KindValidation,
	CodePasswordRequired:       KindUnauthorized,
	CodeInvalidPassword:        KindUnauthorized,
	CodeUnauthorized:           KindUnauthorized,
	CodeNotMeetingOwner:        KindForbidden,
	CodePermissionDenied:       KindForbidden,
	CodeMeetingLocked:          KindForbidden,
	CodeGuestsNotAllowed:       KindForbidden,
	CodeMeetingNotFound:        KindNotFound,
	CodeParticipantNotFound:    KindNotFound,
	CodeTargetNotFound:         KindNotFound,
	CodeMeetingFull:            KindConflict,
	CodeAlreadyInMeeting:       KindConflict,
	CodeJoinInProgress:         KindConflict,
	CodeInvalidStateTransition: KindConflict,
	CodeSessionClosed:          KindConflict,
	CodeNotJoined:              KindConflict,
	CodeRateLimited:            KindRateLimit,
	CodeInternal:               KindInternal,
}

// Error is a failure the caller is allowed to see.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Kind() Kind {
	if k, ok := kinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// Is matches on code so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// From extracts the public error from err. Anything that is not an *Error is
// reported as INTERNAL_ERROR with a generic message.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal server error"}
}

func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func HTTPStatus(err error) int {
	switch From(err).Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
