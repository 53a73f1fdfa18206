package meeting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/Akins20/video-meet/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := store.New(rdb, zerolog.Nop(), store.Options{MeetingRetention: time.Hour})
	return NewRegistry(s, Options{DefaultMaxParticipants: 10, MaxParticipantsLimit: 50}, zerolog.Nop())
}

func instant(title string) models.CreateMeetingRequest {
	return models.CreateMeetingRequest{Title: title, Type: models.MeetingTypeInstant}
}

func TestGenerateRoomID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := generateRoomID()
		require.NoError(t, err)
		require.True(t, models.ValidRoomID(id), id)
	}
}

func TestCreate_Instant(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", instant("Standup"))
	req.NoError(err)
	req.Equal(models.MeetingStatusActive, m.Status)
	req.NotNil(m.StartedAt)
	req.Equal(10, m.MaxParticipants)
	req.True(models.ValidRoomID(m.RoomID))

	byRoom, err := r.GetByRoomID(ctx, m.RoomID)
	req.NoError(err)
	req.Equal(m.ID, byRoom.ID)

	resolved, err := r.Resolve(ctx, m.ID)
	req.NoError(err)
	req.Equal(m.RoomID, resolved.RoomID)
}

func TestCreate_Scheduled(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })

	past := now.Add(-time.Minute)
	_, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Retro", Type: models.MeetingTypeScheduled, ScheduledAt: &past})
	req.True(apperr.HasCode(err, apperr.CodeInvalidSchedule))

	_, err = r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Retro", Type: models.MeetingTypeScheduled, ScheduledAt: &now})
	req.True(apperr.HasCode(err, apperr.CodeInvalidSchedule), "scheduled time must be strictly in the future")

	future := now.Add(time.Hour)
	m, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Retro", Type: models.MeetingTypeScheduled, ScheduledAt: &future})
	req.NoError(err)
	req.Equal(models.MeetingStatusWaiting, m.Status)
	req.Nil(m.StartedAt)
}

func TestCreate_Validation(t *testing.T) {
	r := newTestRegistry(t)
	tests := []struct {
		name string
		req  models.CreateMeetingRequest
	}{
		{"blank title", models.CreateMeetingRequest{Title: "  ", Type: models.MeetingTypeInstant}},
		{"capacity over limit", models.CreateMeetingRequest{Title: "x", Type: models.MeetingTypeInstant, MaxParticipants: 51}},
		{"capacity of one", models.CreateMeetingRequest{Title: "x", Type: models.MeetingTypeInstant, MaxParticipants: 1}},
		{"unknown type", models.CreateMeetingRequest{Title: "x", Type: "webinar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), "alice", tt.req)
			require.True(t, apperr.HasCode(err, apperr.CodeValidation), "got %v", err)
		})
	}
}

func TestGetByRoomID_Errors(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetByRoomID(ctx, "not-a-room")
	req.True(apperr.HasCode(err, apperr.CodeInvalidRoomID))

	_, err = r.GetByRoomID(ctx, "abc-123-xyz")
	req.True(apperr.HasCode(err, apperr.CodeMeetingNotFound))
}

func TestUpdate_OwnerOnly_MergesSettings(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", instant("Planning"))
	req.NoError(err)

	locked := true
	_, err = r.Update(ctx, m.ID, "mallory", models.UpdateMeetingRequest{Settings: &models.SettingsPatch{LockMeeting: &locked}})
	req.True(apperr.HasCode(err, apperr.CodeNotMeetingOwner))

	title := "Planning v2"
	updated, err := r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{
		Title:    &title,
		Settings: &models.SettingsPatch{LockMeeting: &locked},
	})
	req.NoError(err)
	req.Equal("Planning v2", updated.Title)
	req.True(updated.Settings.LockMeeting)
	req.True(updated.Settings.AllowGuests, "unpatched settings are kept")
	req.True(updated.Settings.AllowChat)
}

func TestUpdate_PasswordAndCapacity(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", instant("Board"))
	req.NoError(err)
	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)
	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)

	two, one := 2, 1
	_, err = r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{MaxParticipants: &one})
	req.True(apperr.HasCode(err, apperr.CodeValidation))
	updated, err := r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{MaxParticipants: &two})
	req.NoError(err)
	req.Equal(2, updated.MaxParticipants)

	secret := "s3cret"
	updated, err = r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{Password: &secret})
	req.NoError(err)
	req.True(updated.Settings.PasswordEnabled)
	req.NoError(r.VerifyPassword(updated, "s3cret"))

	empty := ""
	updated, err = r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{Password: &empty})
	req.NoError(err)
	req.False(updated.Settings.PasswordEnabled)
	req.NoError(r.VerifyPassword(updated, ""))
}

func TestVerifyPassword(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	m, err := r.Create(context.Background(), "alice", models.CreateMeetingRequest{
		Title: "Private", Type: models.MeetingTypeInstant, Password: "hunter2",
	})
	req.NoError(err)
	req.True(m.Settings.PasswordEnabled)
	req.Empty(m.Public().PasswordHash)

	req.True(apperr.HasCode(r.VerifyPassword(m, ""), apperr.CodePasswordRequired))
	req.True(apperr.HasCode(r.VerifyPassword(m, "wrong"), apperr.CodeInvalidPassword))
	req.NoError(r.VerifyPassword(m, "hunter2"))
}

func TestEnd_ComputesDuration(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })

	m, err := r.Create(ctx, "alice", instant("Demo"))
	req.NoError(err)

	now = now.Add(45*time.Minute + 700*time.Millisecond)
	_, err = r.End(ctx, m.ID, "bob")
	req.True(apperr.HasCode(err, apperr.CodeNotMeetingOwner))

	ended, err := r.End(ctx, m.ID, "alice")
	req.NoError(err)
	req.Equal(models.MeetingStatusEnded, ended.Status)
	req.Equal(int64(45*60), ended.Duration)
	req.Equal(int64(ended.EndedAt.Sub(*ended.StartedAt)/time.Second), ended.Duration)

	_, err = r.End(ctx, m.ID, "alice")
	req.True(apperr.HasCode(err, apperr.CodeInvalidStateTransition))
	_, err = r.Update(ctx, m.ID, "alice", models.UpdateMeetingRequest{})
	req.True(apperr.HasCode(err, apperr.CodeInvalidStateTransition))
}

func TestCancel_OnlyWaiting(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	active, err := r.Create(ctx, "alice", instant("Now"))
	req.NoError(err)
	_, err = r.Cancel(ctx, active.ID, "alice")
	req.True(apperr.HasCode(err, apperr.CodeInvalidStateTransition))

	future := time.Now().Add(24 * time.Hour)
	waiting, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Later", Type: models.MeetingTypeRecurring, ScheduledAt: &future, Recurrence: "weekly"})
	req.NoError(err)
	cancelled, err := r.Cancel(ctx, waiting.ID, "alice")
	req.NoError(err)
	req.Equal(models.MeetingStatusCancelled, cancelled.Status)

	_, err = r.Admit(ctx, waiting.ID, true, 0)
	req.True(apperr.HasCode(err, apperr.CodeMeetingNotFound))
}

func TestAdmit_ActivatesWaitingMeeting(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	m, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Sched", Type: models.MeetingTypeScheduled, ScheduledAt: &future})
	req.NoError(err)

	admitted, err := r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)
	req.Equal(models.MeetingStatusActive, admitted.Status)
	req.Equal(1, admitted.CurrentParticipants)
	req.NotNil(admitted.StartedAt)
}

func TestAdmit_NeverOverAdmits(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Tight", Type: models.MeetingTypeInstant, MaxParticipants: 5})
	req.NoError(err)

	const joiners = 20
	var wg sync.WaitGroup
	results := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Admit(ctx, m.ID, true, 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	admitted, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case apperr.HasCode(err, apperr.CodeMeetingFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	req.Equal(5, admitted)
	req.Equal(15, full)

	stored, err := r.Get(ctx, m.ID)
	req.NoError(err)
	req.Equal(5, stored.CurrentParticipants)
}

func TestAdmit_ReplacementHandsOverSlot(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", models.CreateMeetingRequest{Title: "Pair", Type: models.MeetingTypeInstant, MaxParticipants: 2})
	req.NoError(err)
	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)
	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)

	_, err = r.Admit(ctx, m.ID, true, 0)
	req.True(apperr.HasCode(err, apperr.CodeMeetingFull))

	replaced, err := r.Admit(ctx, m.ID, true, 1)
	req.NoError(err)
	req.Equal(2, replaced.CurrentParticipants)
}

func TestRelease(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", instant("Release"))
	req.NoError(err)
	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)

	kept, err := r.Release(ctx, m.ID, 1, false)
	req.NoError(err)
	req.Equal(0, kept.CurrentParticipants)
	req.Equal(models.MeetingStatusActive, kept.Status)

	floor, err := r.Release(ctx, m.ID, 3, false)
	req.NoError(err)
	req.Equal(0, floor.CurrentParticipants)

	_, err = r.Admit(ctx, m.ID, true, 0)
	req.NoError(err)
	ended, err := r.Release(ctx, m.ID, 1, true)
	req.NoError(err)
	req.Equal(models.MeetingStatusEnded, ended.Status)
	req.NotNil(ended.EndedAt)
}

func TestLiveAndReconcile(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.Create(ctx, "alice", instant("Standup"))
	req.NoError(err)
	done, err := r.Create(ctx, "alice", instant("Retro"))
	req.NoError(err)
	_, err = r.End(ctx, done.ID, "alice")
	req.NoError(err)

	live, err := r.Live(ctx)
	req.NoError(err)
	req.Len(live, 1)
	req.Equal(m.ID, live[0].ID)

	for i := 0; i < 2; i++ {
		_, err = r.Admit(ctx, m.ID, true, 0)
		req.NoError(err)
	}
	seen, err := r.Get(ctx, m.ID)
	req.NoError(err)

	// a stale view writes nothing
	_, changed, err := r.Reconcile(ctx, m.ID, 1, seen.UpdatedAt.Add(-time.Second))
	req.NoError(err)
	req.False(changed)

	got, changed, err := r.Reconcile(ctx, m.ID, 1, seen.UpdatedAt)
	req.NoError(err)
	req.True(changed)
	req.Equal(1, got.CurrentParticipants)

	_, changed, err = r.Reconcile(ctx, m.ID, 1, got.UpdatedAt)
	req.NoError(err)
	req.False(changed)

	got, changed, err = r.Reconcile(ctx, m.ID, 0, got.UpdatedAt)
	req.NoError(err)
	req.True(changed)
	req.Equal(models.MeetingStatusEnded, got.Status)

	live, err = r.Live(ctx)
	req.NoError(err)
	req.Empty(live)
}
