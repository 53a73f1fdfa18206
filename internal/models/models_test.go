package models

import (
	"testing"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestDeriveQuality(t *testing.T) {
	tests := []struct {
		latency int
		loss    float64
		want    QualityTier
	}{
		{20, 0.5, QualityExcellent},
		{49, 0.99, QualityExcellent},
		{50, 0.5, QualityGood},
		{20, 1, QualityGood},
		{149, 2.9, QualityGood},
		{150, 0, QualityFair},
		{299, 4.9, QualityFair},
		{100, 5, QualityPoor},
		{300, 0, QualityPoor},
	}
	for _, tt := range tests {
		if got := DeriveQuality(tt.latency, tt.loss); got != tt.want {
			t.Errorf("DeriveQuality(%d, %v) = %s, want %s", tt.latency, tt.loss, got, tt.want)
		}
	}
}

func TestConnectionQuality_Apply(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	var q ConnectionQuality

	latency, loss := 120, 0.5
	q.Apply(QualityPatch{Latency: &latency, PacketLoss: &loss}, now)
	req.Equal(QualityGood, q.Quality)
	req.Equal(now, *q.LastUpdated)

	poor := QualityPoor
	q.Apply(QualityPatch{Quality: &poor}, now.Add(time.Second))
	req.Equal(QualityPoor, q.Quality)
	req.Equal(120, q.Latency)
}

func TestPermissionsFor(t *testing.T) {
	req := require.New(t)
	req.Equal(PermissionsFor(RoleHost), PermissionsFor(RoleModerator))
	req.True(PermissionsFor(RoleHost).CanRemoveParticipants)

	participant := PermissionsFor(RoleParticipant)
	req.True(participant.CanShareScreen)
	req.True(participant.CanShareFiles)
	req.True(participant.CanUseWhiteboard)
	req.False(participant.CanMuteOthers)
	req.False(participant.CanRemoveParticipants)

	guest := PermissionsFor(RoleGuest)
	req.False(guest.CanShareScreen)
	req.False(guest.CanShareFiles)
	req.False(guest.CanUseWhiteboard)
}

func TestResolveRole(t *testing.T) {
	m := &Meeting{OwnerID: "alice"}
	tests := []struct {
		name string
		id   Identity
		hint Role
		want Role
	}{
		{"owner", RegisteredIdentity("alice", ""), "", RoleHost},
		{"owner companion device", RegisteredIdentity("alice", ""), RoleParticipant, RoleParticipant},
		{"registered", RegisteredIdentity("bob", ""), "", RoleParticipant},
		{"registered asking for host", RegisteredIdentity("bob", ""), RoleHost, RoleParticipant},
		{"guest", GuestIdentity("Dana"), RoleHost, RoleGuest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ResolveRole(m, tt.id, tt.hint))
		})
	}
}

func TestMeeting_AdmissionError(t *testing.T) {
	base := Meeting{
		RoomID:              "ABC-123-XYZ",
		Status:              MeetingStatusActive,
		MaxParticipants:     2,
		CurrentParticipants: 1,
		Settings:            DefaultMeetingSettings(),
	}
	tests := []struct {
		name          string
		mutate        func(m *Meeting)
		authenticated bool
		replaced      int
		want          apperr.Code
	}{
		{"admits", func(m *Meeting) {}, true, 0, ""},
		{"ended", func(m *Meeting) { m.Status = MeetingStatusEnded }, true, 0, apperr.CodeMeetingNotFound},
		{"locked beats capacity", func(m *Meeting) { m.Settings.LockMeeting = true; m.CurrentParticipants = 2 }, true, 0, apperr.CodeMeetingLocked},
		{"full", func(m *Meeting) { m.CurrentParticipants = 2 }, true, 0, apperr.CodeMeetingFull},
		{"full but replacing own session", func(m *Meeting) { m.CurrentParticipants = 2 }, true, 1, ""},
		{"guests disabled", func(m *Meeting) { m.Settings.AllowGuests = false }, false, 0, apperr.CodeGuestsNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			err := m.AdmissionError(tt.authenticated, tt.replaced)
			if tt.want == "" {
				require.NoError(t, err)
				require.True(t, m.CanAdmit(tt.authenticated) || tt.replaced > 0)
				return
			}
			require.True(t, apperr.HasCode(err, tt.want), "got %v", err)
		})
	}
}

func TestMeeting_Transition(t *testing.T) {
	req := require.New(t)
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := Meeting{Status: MeetingStatusWaiting, CreatedAt: created}

	req.NoError(m.Transition(MeetingStatusActive, created.Add(time.Minute)))
	req.Equal(created.Add(time.Minute), *m.StartedAt)

	req.Error(m.Transition(MeetingStatusWaiting, created.Add(2*time.Minute)))
	req.Error(m.Transition(MeetingStatusCancelled, created.Add(2*time.Minute)))

	req.NoError(m.Transition(MeetingStatusEnded, created.Add(31*time.Minute+500*time.Millisecond)))
	req.Equal(int64(30*60), m.Duration)
	req.Error(m.Transition(MeetingStatusEnded, created.Add(time.Hour)))

	never := Meeting{Status: MeetingStatusWaiting, CreatedAt: created}
	req.NoError(never.Transition(MeetingStatusEnded, created.Add(10*time.Second)))
	req.Nil(never.StartedAt)
	req.Equal(int64(10), never.Duration)
}

func TestParticipant_Close(t *testing.T) {
	req := require.New(t)
	joined := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	p := Participant{JoinedAt: joined}

	req.True(p.Close(EndReasonUserLeft, joined.Add(90*time.Second+999*time.Millisecond)))
	req.False(p.Active())
	req.Equal(int64(90), p.SessionDuration)
	req.Equal(EndReasonUserLeft, p.EndReason)

	req.False(p.Close(EndReasonStale, joined.Add(time.Hour)))
	req.Equal(EndReasonUserLeft, p.EndReason)

	// clock skew still yields leftAt after joinedAt
	q := Participant{JoinedAt: joined}
	req.True(q.Close(EndReasonConnectionLost, joined.Add(-time.Second)))
	req.True(q.LeftAt.After(q.JoinedAt))
	req.Equal(int64(0), q.SessionDuration)
}

func TestParticipant_LastActivity(t *testing.T) {
	req := require.New(t)
	joined := time.Now()
	p := Participant{JoinedAt: joined}
	req.Equal(joined, p.LastActivity())

	later := joined.Add(time.Minute)
	p.ConnectionQuality.LastUpdated = &later
	req.Equal(later, p.LastActivity())
}

func TestSettings_Merge(t *testing.T) {
	req := require.New(t)
	s := DefaultMeetingSettings()
	locked, chat := true, false
	s.Merge(SettingsPatch{LockMeeting: &locked, AllowChat: &chat})
	req.True(s.LockMeeting)
	req.False(s.AllowChat)
	req.True(s.AllowGuests)
	req.True(s.VideoOnJoin)
}
