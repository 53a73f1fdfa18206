package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(CodeInvalidRoomID, "bad"), http.StatusBadRequest},
		{New(CodePasswordRequired, "x"), http.StatusUnauthorized},
		{New(CodeMeetingLocked, "x"), http.StatusForbidden},
		{New(CodeMeetingNotFound, "x"), http.StatusNotFound},
		{New(CodeMeetingFull, "x"), http.StatusConflict},
		{New(CodeRateLimited, "x"), http.StatusTooManyRequests},
		{errors.New("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFrom_Wrapped(t *testing.T) {
	req := require.New(t)
	wrapped := fmt.Errorf("join: %w", New(CodeMeetingFull, "meeting is at capacity"))

	req.Equal(CodeMeetingFull, From(wrapped).Code)
	req.True(HasCode(wrapped, CodeMeetingFull))
	req.True(errors.Is(wrapped, New(CodeMeetingFull, "")))
	req.False(errors.Is(wrapped, New(CodeMeetingLocked, "")))

	internal := From(errors.New("boom"))
	req.Equal(CodeInternal, internal.Code)
	req.NotContains(internal.Message, "boom")
}
