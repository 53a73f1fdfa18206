// Package session owns participant session records: identity, device, role,
// permissions, media state and connection-quality telemetry.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/Akins20/video-meet/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type Store interface {
	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	GetParticipantBySession(ctx context.Context, sessionID string) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, id string, fn func(p *models.Participant) error) (*models.Participant, error)
	ListParticipants(ctx context.Context, meetingID string, activeOnly bool) ([]*models.Participant, error)
	ListActive(ctx context.Context) ([]*models.Participant, error)
	PurgeClosed(ctx context.Context, before time.Time) (int, error)
}

type Service struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(s Store, log zerolog.Logger) *Service {
	return &Service{
		store: s,
		log:   log.With().Str("module", "session").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Now() time.Time {
	return s.now()
}

// Create opens a session for identity in meeting m. The role comes from the
// identity, never from the caller, and permissions from the role template.
func (s *Service) Create(ctx context.Context, m *models.Meeting, id models.Identity, device models.DeviceInfo, roleHint models.Role) (*models.Participant, error) {
	switch id.Kind {
	case models.IdentityRegistered:
		if id.UserID == "" {
			return nil, apperr.New(apperr.CodeValidation, "registered identity without user id")
		}
	case models.IdentityGuest:
		id.DisplayName = strings.TrimSpace(id.DisplayName)
		if id.DisplayName == "" {
			return nil, apperr.New(apperr.CodeGuestNameRequired, "guests must provide a display name")
		}
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown identity kind %q", id.Kind)
	}
	if err := validateDevice(device); err != nil {
		return nil, err
	}

	role := models.ResolveRole(m, id, roleHint)
	p := &models.Participant{
		ID:          uuid.New().String(),
		MeetingID:   m.ID,
		SessionID:   uuid.New().String(),
		Identity:    id,
		DeviceID:    device.DeviceID,
		DeviceType:  device.DeviceType,
		Role:        role,
		Permissions: models.PermissionsFor(role),
		MediaState: models.MediaState{
			AudioEnabled: !m.Settings.MuteOnJoin,
			VideoEnabled: m.Settings.VideoOnJoin,
		},
		JoinedAt: s.now(),
	}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}

	s.log.Info().Str("participant_id", p.ID).Str("meeting_id", m.ID).Str("role", string(role)).
		Str("device_id", device.DeviceID).Msg("session opened")
	return p, nil
}

func validateDevice(d models.DeviceInfo) error {
	if strings.TrimSpace(d.DeviceID) == "" {
		return apperr.New(apperr.CodeValidation, "deviceId is required")
	}
	switch d.DeviceType {
	case models.DeviceWeb, models.DeviceMobile, models.DeviceDesktop:
		return nil
	}
	return apperr.Newf(apperr.CodeValidation, "unknown device type %q", d.DeviceType)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Participant, error) {
	p, err := s.store.GetParticipant(ctx, id)
	return p, notFound(err)
}

func (s *Service) GetBySessionID(ctx context.Context, sessionID string) (*models.Participant, error) {
	p, err := s.store.GetParticipantBySession(ctx, sessionID)
	return p, notFound(err)
}

// List returns the sessions of a meeting ordered by join time.
func (s *Service) List(ctx context.Context, meetingID string, activeOnly bool) ([]*models.Participant, error) {
	ps, err := s.store.ListParticipants(ctx, meetingID, activeOnly)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(ps, func(a, b *models.Participant) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return ps, nil
}

func (s *Service) UpdateMediaState(ctx context.Context, id string, patch models.MediaStatePatch) (*models.Participant, error) {
	now := s.now()
	return s.mutateActive(ctx, id, func(p *models.Participant) error {
		if patch.ScreenSharing != nil && *patch.ScreenSharing && !p.Permissions.CanShareScreen {
			return apperr.New(apperr.CodePermissionDenied, "screen sharing is not permitted for this participant")
		}
		p.MediaState.Merge(patch)
		p.MediaUpdatedAt = &now
		return nil
	})
}

func (s *Service) UpdateConnectionQuality(ctx context.Context, id string, patch models.QualityPatch) (*models.Participant, error) {
	if patch.Quality != nil && !patch.Quality.Valid() {
		return nil, apperr.Newf(apperr.CodeValidation, "unknown quality tier %q", *patch.Quality)
	}
	now := s.now()
	return s.mutateActive(ctx, id, func(p *models.Participant) error {
		p.ConnectionQuality.Apply(patch, now)
		return nil
	})
}

// UpdateRole changes the role and resets permissions to the new role's
// template, discarding any per-session overrides.
func (s *Service) UpdateRole(ctx context.Context, id string, role models.Role) (*models.Participant, error) {
	if !role.Valid() {
		return nil, apperr.Newf(apperr.CodeValidation, "unknown role %q", role)
	}
	return s.mutateActive(ctx, id, func(p *models.Participant) error {
		switch {
		case !p.Identity.Registered() && role == models.RoleHost:
			return apperr.New(apperr.CodePermissionDenied, "guests cannot be promoted to host")
		case p.Identity.Registered() && role == models.RoleGuest:
			return apperr.New(apperr.CodeValidation, "the guest role is reserved for guests")
		}
		p.Role = role
		p.Permissions = models.PermissionsFor(role)
		return nil
	})
}

// UpdatePermissions applies explicit overrides on top of the current set.
func (s *Service) UpdatePermissions(ctx context.Context, id string, patch models.PermissionsPatch) (*models.Participant, error) {
	return s.mutateActive(ctx, id, func(p *models.Participant) error {
		p.Permissions.Merge(patch)
		return nil
	})
}

func (s *Service) mutateActive(ctx context.Context, id string, fn func(p *models.Participant) error) (*models.Participant, error) {
	p, err := s.store.UpdateParticipant(ctx, id, func(p *models.Participant) error {
		if !p.Active() {
			return apperr.New(apperr.CodeSessionClosed, "session is closed")
		}
		return fn(p)
	})
	return p, notFound(err)
}

// Close ends the session. closed is false when it had already been closed,
// which makes the call idempotent.
func (s *Service) Close(ctx context.Context, id string, reason models.EndReason) (p *models.Participant, closed bool, err error) {
	now := s.now()
	p, err = s.store.UpdateParticipant(ctx, id, func(p *models.Participant) error {
		closed = p.Close(reason, now)
		if !closed {
			return store.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, false, notFound(err)
	}
	if closed {
		s.log.Info().Str("participant_id", p.ID).Str("meeting_id", p.MeetingID).
			Str("reason", string(reason)).Int64("duration", p.SessionDuration).Msg("session closed")
	}
	return p, closed, nil
}

func (s *Service) FindActiveByUser(ctx context.Context, meetingID, userID string) ([]*models.Participant, error) {
	active, err := s.List(ctx, meetingID, true)
	if err != nil {
		return nil, err
	}
	return lo.Filter(active, func(p *models.Participant, _ int) bool {
		return p.Identity.Registered() && p.Identity.UserID == userID
	}), nil
}

func (s *Service) FindActiveByDevice(ctx context.Context, meetingID, deviceID string) ([]*models.Participant, error) {
	active, err := s.List(ctx, meetingID, true)
	if err != nil {
		return nil, err
	}
	return lo.Filter(active, func(p *models.Participant, _ int) bool {
		return p.DeviceID == deviceID
	}), nil
}

// FindStale returns open sessions with no join or quality report inside the
// last maxInactive.
func (s *Service) FindStale(ctx context.Context, maxInactive time.Duration) ([]*models.Participant, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-maxInactive)
	return lo.Filter(active, func(p *models.Participant, _ int) bool {
		return p.LastActivity().Before(cutoff)
	}), nil
}

// PurgeClosed deletes sessions closed longer ago than retention.
func (s *Service) PurgeClosed(ctx context.Context, retention time.Duration) (int, error) {
	return s.store.PurgeClosed(ctx, s.now().Add(-retention))
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.CodeParticipantNotFound, "participant not found")
	}
	return err
}
