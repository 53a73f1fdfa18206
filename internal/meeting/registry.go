// Package meeting owns the meeting lifecycle state machine, its settings and
// its participant counter.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/Akins20/video-meet/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const roomIDAttempts = 10

// Store is the persistence the registry needs.
type Store interface {
	ReserveRoomID(ctx context.Context, roomID, meetingID string) (bool, error)
	ReleaseRoomID(ctx context.Context, roomID string) error
	CreateMeeting(ctx context.Context, m *models.Meeting) error
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
	MeetingIDByRoom(ctx context.Context, roomID string) (string, error)
	UpdateMeeting(ctx context.Context, id string, fn func(m *models.Meeting) error) (*models.Meeting, error)
	LiveMeetingIDs(ctx context.Context) ([]string, error)
}

type Options struct {
	DefaultMaxParticipants int
	MaxParticipantsLimit   int
}

type Registry struct {
	store Store
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

func NewRegistry(s Store, opts Options, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		opts:  opts,
		log:   log.With().Str("module", "meeting").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) Create(ctx context.Context, ownerID string, req models.CreateMeetingRequest) (*models.Meeting, error) {
	now := r.now()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.New(apperr.CodeValidation, "title is required")
	}
	maxParticipants, err := r.capacity(req.MaxParticipants, 0)
	if err != nil {
		return nil, err
	}

	m := &models.Meeting{
		ID:              uuid.New().String(),
		Title:           title,
		Description:     req.Description,
		OwnerID:         ownerID,
		Type:            req.Type,
		MaxParticipants: maxParticipants,
		Settings:        models.DefaultMeetingSettings(),
		Recurrence:      req.Recurrence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Settings != nil {
		m.Settings.Merge(*req.Settings)
	}

	switch req.Type {
	case models.MeetingTypeInstant:
		m.Status = models.MeetingStatusActive
		m.StartedAt = &now
	case models.MeetingTypeScheduled, models.MeetingTypeRecurring:
		if req.ScheduledAt == nil || !req.ScheduledAt.After(now) {
			return nil, apperr.New(apperr.CodeInvalidSchedule, "scheduledAt must be in the future")
		}
		at := req.ScheduledAt.UTC()
		m.ScheduledAt = &at
		m.Status = models.MeetingStatusWaiting
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown meeting type %q", req.Type)
	}

	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		m.PasswordHash = hash
		m.Settings.PasswordEnabled = true
	}

	if m.RoomID, err = r.reserveRoomID(ctx, m.ID); err != nil {
		return nil, err
	}
	if err := r.store.CreateMeeting(ctx, m); err != nil {
		if rerr := r.store.ReleaseRoomID(ctx, m.RoomID); rerr != nil {
			r.log.Warn().Err(rerr).Str("room_id", m.RoomID).Msg("failed to release room id")
		}
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	r.log.Info().Str("meeting_id", m.ID).Str("room_id", m.RoomID).Str("owner_id", ownerID).
		Str("type", string(m.Type)).Msg("meeting created")
	return m, nil
}

func (r *Registry) reserveRoomID(ctx context.Context, meetingID string) (string, error) {
	for i := 0; i < roomIDAttempts; i++ {
		roomID, err := generateRoomID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		ok, err := r.store.ReserveRoomID(ctx, roomID, meetingID)
		if err != nil {
			return "", err
		}
		if ok {
			return roomID, nil
		}
	}
	return "", errors.New("could not allocate a unique room id")
}

// capacity validates a requested maximum, falling back to the default.
func (r *Registry) capacity(requested, current int) (int, error) {
	if requested == 0 {
		return r.opts.DefaultMaxParticipants, nil
	}
	if requested < 2 || requested > r.opts.MaxParticipantsLimit {
		return 0, apperr.Newf(apperr.CodeValidation, "maxParticipants must be between 2 and %d", r.opts.MaxParticipantsLimit)
	}
	if requested < current {
		return 0, apperr.Newf(apperr.CodeValidation, "maxParticipants cannot drop below the %d current participants", current)
	}
	return requested, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Meeting, error) {
	m, err := r.store.GetMeeting(ctx, id)
	return m, notFound(err)
}

// GetByRoomID looks up a meeting by its shareable room identifier.
func (r *Registry) GetByRoomID(ctx context.Context, roomID string) (*models.Meeting, error) {
	roomID = NormalizeRoomID(roomID)
	if !models.ValidRoomID(roomID) {
		return nil, apperr.Newf(apperr.CodeInvalidRoomID, "room id %q is malformed", roomID)
	}
	id, err := r.store.MeetingIDByRoom(ctx, roomID)
	if err != nil {
		return nil, notFound(err)
	}
	return r.Get(ctx, id)
}

// Resolve accepts either a room identifier or a meeting id.
func (r *Registry) Resolve(ctx context.Context, ref string) (*models.Meeting, error) {
	if models.ValidRoomID(NormalizeRoomID(ref)) {
		return r.GetByRoomID(ctx, ref)
	}
	return r.Get(ctx, ref)
}

// Update merges the patch into the meeting; only the owner may call it.
func (r *Registry) Update(ctx context.Context, meetingID, ownerID string, req models.UpdateMeetingRequest) (*models.Meeting, error) {
	var hash string
	if req.Password != nil && *req.Password != "" {
		var err error
		if hash, err = hashPassword(*req.Password); err != nil {
			return nil, err
		}
	}

	now := r.now()
	m, err := r.store.UpdateMeeting(ctx, meetingID, func(m *models.Meeting) error {
		if m.OwnerID != ownerID {
			return apperr.New(apperr.CodeNotMeetingOwner, "only the meeting owner can update it")
		}
		if m.Finished() {
			return apperr.Newf(apperr.CodeInvalidStateTransition, "meeting is %s", m.Status)
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return apperr.New(apperr.CodeValidation, "title cannot be empty")
			}
			m.Title = title
		}
		if req.Description != nil {
			m.Description = *req.Description
		}
		if req.MaxParticipants != nil {
			limit, err := r.capacity(*req.MaxParticipants, m.CurrentParticipants)
			if err != nil {
				return err
			}
			m.MaxParticipants = limit
		}
		if req.ScheduledAt != nil {
			if m.Status != models.MeetingStatusWaiting || !req.ScheduledAt.After(now) {
				return apperr.New(apperr.CodeInvalidSchedule, "only waiting meetings can be rescheduled into the future")
			}
			at := req.ScheduledAt.UTC()
			m.ScheduledAt = &at
		}
		if req.Password != nil {
			m.PasswordHash = hash
			m.Settings.PasswordEnabled = hash != ""
		}
		if req.Settings != nil {
			m.Settings.Merge(*req.Settings)
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	r.log.Info().Str("meeting_id", m.ID).Msg("meeting updated")
	return m, nil
}

// End moves the meeting to ended and computes its duration.
func (r *Registry) End(ctx context.Context, meetingID, ownerID string) (*models.Meeting, error) {
	return r.finish(ctx, meetingID, ownerID, models.MeetingStatusEnded)
}

// Cancel calls off a meeting that never started.
func (r *Registry) Cancel(ctx context.Context, meetingID, ownerID string) (*models.Meeting, error) {
	return r.finish(ctx, meetingID, ownerID, models.MeetingStatusCancelled)
}

func (r *Registry) finish(ctx context.Context, meetingID, ownerID string, to models.MeetingStatus) (*models.Meeting, error) {
	now := r.now()
	m, err := r.store.UpdateMeeting(ctx, meetingID, func(m *models.Meeting) error {
		if m.OwnerID != ownerID {
			return apperr.Newf(apperr.CodeNotMeetingOwner, "only the meeting owner can set it %s", to)
		}
		return m.Transition(to, now)
	})
	if err != nil {
		return nil, notFound(err)
	}
	r.log.Info().Str("meeting_id", m.ID).Str("status", string(m.Status)).Int64("duration", m.Duration).Msg("meeting finished")
	return m, nil
}

// Admit re-checks admission and takes a slot in one atomic step. replaced is
// the number of the joiner's own sessions already closed for this join; their
// slots are handed over instead of being released. The first admission into a
// waiting meeting activates it.
func (r *Registry) Admit(ctx context.Context, meetingID string, authenticated bool, replaced int) (*models.Meeting, error) {
	now := r.now()
	m, err := r.store.UpdateMeeting(ctx, meetingID, func(m *models.Meeting) error {
		if err := m.AdmissionError(authenticated, replaced); err != nil {
			return err
		}
		m.CurrentParticipants = max(m.CurrentParticipants-replaced, 0) + 1
		m.UpdatedAt = now
		if m.Status == models.MeetingStatusWaiting {
			return m.Transition(models.MeetingStatusActive, now)
		}
		return nil
	})
	return m, notFound(err)
}

// Release gives back n slots. With autoEnd an active meeting that drops to
// zero participants is ended in the same step.
func (r *Registry) Release(ctx context.Context, meetingID string, n int, autoEnd bool) (*models.Meeting, error) {
	now := r.now()
	m, err := r.store.UpdateMeeting(ctx, meetingID, func(m *models.Meeting) error {
		if n <= 0 {
			return store.ErrUnchanged
		}
		m.CurrentParticipants = max(m.CurrentParticipants-n, 0)
		m.UpdatedAt = now
		if autoEnd && m.CurrentParticipants == 0 && m.Status == models.MeetingStatusActive {
			return m.Transition(models.MeetingStatusEnded, now)
		}
		return nil
	})
	return m, notFound(err)
}

// Live returns every meeting that is neither ended nor cancelled.
func (r *Registry) Live(ctx context.Context) ([]*models.Meeting, error) {
	ids, err := r.store.LiveMeetingIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Meeting, 0, len(ids))
	for _, id := range ids {
		m, err := r.store.GetMeeting(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load meeting %s: %w", id, err)
		}
		if m.Joinable() {
			out = append(out, m)
		}
	}
	return out, nil
}

// Reconcile sets the participant counter to active, the number of open
// sessions counted while the meeting was at seen. Nothing is written when the
// meeting changed since then. An active meeting reconciled to zero ends.
func (r *Registry) Reconcile(ctx context.Context, meetingID string, active int, seen time.Time) (*models.Meeting, bool, error) {
	now := r.now()
	changed := false
	m, err := r.store.UpdateMeeting(ctx, meetingID, func(m *models.Meeting) error {
		changed = false
		if !m.UpdatedAt.Equal(seen) || !m.Joinable() || m.CurrentParticipants == active {
			return store.ErrUnchanged
		}
		changed = true
		m.CurrentParticipants = active
		m.UpdatedAt = now
		if active == 0 && m.Status == models.MeetingStatusActive {
			return m.Transition(models.MeetingStatusEnded, now)
		}
		return nil
	})
	if err != nil {
		return nil, false, notFound(err)
	}
	return m, changed, nil
}

// VerifyPassword checks the join password of a protected meeting.
func (r *Registry) VerifyPassword(m *models.Meeting, password string) error {
	if !m.Settings.PasswordEnabled {
		return nil
	}
	if password == "" {
		return apperr.New(apperr.CodePasswordRequired, "meeting requires a password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return apperr.New(apperr.CodeInvalidPassword, "invalid meeting password")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.New(apperr.CodeValidation, "password cannot be hashed")
	}
	return string(hash), nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.CodeMeetingNotFound, "meeting not found")
	}
	return err
}
