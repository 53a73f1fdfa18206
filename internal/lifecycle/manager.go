// Package lifecycle enforces the join, leave and end rules that span meetings
// and participant sessions.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/meeting"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/Akins20/video-meet/internal/session"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const joinLockTTL = 10 * time.Second

type JoinLocker interface {
	AcquireJoinLock(ctx context.Context, meetingID, userID string, ttl time.Duration) (release func(), ok bool, err error)
}

type TokenIssuer interface {
	IssueGuest(participantID, name string, ttl time.Duration) (string, error)
}

// Notifier is told about changes made outside a live connection so it can
// update its broadcast groups.
type Notifier interface {
	ParticipantLeft(p *models.Participant)
	ParticipantRemoved(p *models.Participant)
	MeetingEnded(meetingID string)
}

type nopNotifier struct{}

func (nopNotifier) ParticipantLeft(*models.Participant)    {}
func (nopNotifier) ParticipantRemoved(*models.Participant) {}
func (nopNotifier) MeetingEnded(string)                    {}

type Options struct {
	StaleAfter       time.Duration
	SessionRetention time.Duration
	GuestTokenTTL    time.Duration
}

// Actor is the authenticated caller: a registered user, or a guest whose
// token is scoped to one participant session.
type Actor struct {
	UserID        string
	ParticipantID string
	DisplayName   string
}

func (a Actor) Guest() bool {
	return a.UserID == ""
}

// Owns reports whether p is one of the actor's sessions.
func (a Actor) Owns(p *models.Participant) bool {
	if a.Guest() {
		return a.ParticipantID != "" && a.ParticipantID == p.ID
	}
	return p.Identity.Registered() && p.Identity.UserID == a.UserID
}

type Manager struct {
	meetings *meeting.Registry
	sessions *session.Service
	locks    JoinLocker
	tokens   TokenIssuer
	notifier Notifier
	opts     Options
	log      zerolog.Logger
}

func NewManager(meetings *meeting.Registry, sessions *session.Service, locks JoinLocker, tokens TokenIssuer, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		meetings: meetings,
		sessions: sessions,
		locks:    locks,
		tokens:   tokens,
		notifier: nopNotifier{},
		opts:     opts,
		log:      log.With().Str("module", "lifecycle").Logger(),
	}
}

// SetNotifier registers the connection layer. It must be called before the
// manager serves requests.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

type JoinInput struct {
	// MeetingRef is a room id or a meeting id.
	MeetingRef string
	Actor      Actor
	models.JoinMeetingRequest
}

type JoinResult struct {
	Meeting     *models.Meeting
	Participant *models.Participant
	// Token authorises a guest's connection-channel handshake.
	Token string
}

// Join admits the caller into a meeting. Every precondition is checked before
// the participant counter changes.
func (m *Manager) Join(ctx context.Context, in JoinInput) (*JoinResult, error) {
	identity, err := joinIdentity(in)
	if err != nil {
		return nil, err
	}
	authenticated := identity.Registered()

	mtg, err := m.meetings.Resolve(ctx, in.MeetingRef)
	if err != nil {
		return nil, err
	}

	var prior []*models.Participant
	if authenticated {
		release, ok, err := m.locks.AcquireJoinLock(ctx, mtg.ID, identity.UserID, joinLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.New(apperr.CodeJoinInProgress, "another join for this user is in progress")
		}
		defer release()

		if prior, err = m.sessions.FindActiveByUser(ctx, mtg.ID, identity.UserID); err != nil {
			return nil, err
		}
	} else if prior, err = m.guestSessionsOnDevice(ctx, mtg.ID, in.Device.DeviceID); err != nil {
		return nil, err
	}

	// a forced join frees the caller's own slots
	freed := 0
	if in.ForceJoin {
		freed = len(prior)
	}
	if err := mtg.AdmissionError(authenticated, freed); err != nil {
		return nil, err
	}
	if err := m.meetings.VerifyPassword(mtg, in.Password); err != nil {
		return nil, err
	}
	if len(prior) > 0 && !in.ForceJoin {
		return nil, apperr.New(apperr.CodeAlreadyInMeeting, "already in this meeting; join with forceJoin to replace the open session")
	}

	meetingID := mtg.ID
	replaced := 0
	for _, p := range prior {
		closed, ok, err := m.sessions.Close(ctx, p.ID, models.EndReasonReplaced)
		if err != nil {
			return nil, m.undoReplacement(ctx, meetingID, replaced, err)
		}
		if ok {
			replaced++
			m.notifier.ParticipantLeft(closed)
		}
	}

	mtg, err = m.meetings.Admit(ctx, meetingID, authenticated, replaced)
	if err != nil {
		return nil, m.undoReplacement(ctx, meetingID, replaced, err)
	}

	p, err := m.sessions.Create(ctx, mtg, identity, in.Device, in.Role)
	if err != nil {
		if _, relErr := m.meetings.Release(ctx, meetingID, 1, true); relErr != nil {
			m.log.Error().Err(relErr).Str("meeting_id", meetingID).Msg("failed to release slot after session creation failed")
		}
		return nil, err
	}

	res := &JoinResult{Meeting: mtg, Participant: p}
	if !authenticated {
		res.Token, err = m.tokens.IssueGuest(p.ID, identity.DisplayName, m.opts.GuestTokenTTL)
		if err != nil {
			if _, leaveErr := m.Leave(ctx, p.ID, models.EndReasonUserLeft); leaveErr != nil {
				m.log.Error().Err(leaveErr).Str("participant_id", p.ID).Msg("failed to undo guest join")
			}
			return nil, fmt.Errorf("issue guest token: %w", err)
		}
	}

	m.log.Info().Str("meeting_id", mtg.ID).Str("participant_id", p.ID).Str("role", string(p.Role)).
		Int("replaced", replaced).Int("current", mtg.CurrentParticipants).Msg("participant joined")
	return res, nil
}

// undoReplacement gives back the slots of sessions closed for a join that
// then failed.
func (m *Manager) undoReplacement(ctx context.Context, meetingID string, replaced int, cause error) error {
	if replaced == 0 {
		return cause
	}
	if _, err := m.meetings.Release(ctx, meetingID, replaced, true); err != nil {
		m.log.Error().Err(err).Str("meeting_id", meetingID).Int("replaced", replaced).Msg("failed to release replaced sessions")
	}
	return cause
}

// guestSessionsOnDevice returns the open guest sessions joined from deviceID.
// Registered sessions are never replaced by a guest join.
func (m *Manager) guestSessionsOnDevice(ctx context.Context, meetingID, deviceID string) ([]*models.Participant, error) {
	ps, err := m.sessions.FindActiveByDevice(ctx, meetingID, deviceID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(ps, func(p *models.Participant, _ int) bool { return !p.Identity.Registered() }), nil
}

func joinIdentity(in JoinInput) (models.Identity, error) {
	if !in.Actor.Guest() {
		name := strings.TrimSpace(in.DisplayName)
		if name == "" {
			name = in.Actor.DisplayName
		}
		return models.RegisteredIdentity(in.Actor.UserID, name), nil
	}
	name := strings.TrimSpace(in.GuestName)
	if name == "" {
		return models.Identity{}, apperr.New(apperr.CodeGuestNameRequired, "guests must provide a display name")
	}
	return models.GuestIdentity(name), nil
}

// Leave closes the session and gives back its slot. A second call is a no-op.
func (m *Manager) Leave(ctx context.Context, participantID string, reason models.EndReason) (*models.Participant, error) {
	if reason == "" {
		reason = models.EndReasonUserLeft
	}
	p, closed, err := m.sessions.Close(ctx, participantID, reason)
	if err != nil {
		return nil, err
	}
	if !closed {
		return p, nil
	}

	mtg, err := m.meetings.Release(ctx, p.MeetingID, 1, true)
	if err != nil {
		return p, fmt.Errorf("release slot: %w", err)
	}
	m.log.Info().Str("meeting_id", p.MeetingID).Str("participant_id", p.ID).Str("reason", string(reason)).
		Int("current", mtg.CurrentParticipants).Msg("participant left")
	if mtg.Status == models.MeetingStatusEnded {
		m.log.Info().Str("meeting_id", mtg.ID).Int64("duration", mtg.Duration).Msg("meeting ended after last participant left")
		m.notifier.MeetingEnded(mtg.ID)
	}
	return p, nil
}

// LeaveAs is Leave for a caller that must own the session.
func (m *Manager) LeaveAs(ctx context.Context, actor Actor, participantID string, reason models.EndReason) (*models.Participant, error) {
	p, err := m.sessions.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(p) {
		return nil, apperr.New(apperr.CodePermissionDenied, "not your session")
	}
	p, err = m.Leave(ctx, participantID, reason)
	if err != nil {
		return nil, err
	}
	m.notifier.ParticipantLeft(p)
	return p, nil
}

// EndMeeting ends the meeting and closes every session still in it.
func (m *Manager) EndMeeting(ctx context.Context, meetingID, ownerID string) (*models.Meeting, error) {
	mtg, err := m.meetings.End(ctx, meetingID, ownerID)
	if err != nil {
		return nil, err
	}

	active, err := m.sessions.List(ctx, mtg.ID, true)
	if err != nil {
		return nil, err
	}
	closed := 0
	for _, p := range active {
		_, ok, err := m.sessions.Close(ctx, p.ID, models.EndReasonMeetingEnded)
		if err != nil {
			m.log.Error().Err(err).Str("participant_id", p.ID).Msg("failed to close session of ended meeting")
			continue
		}
		if ok {
			closed++
		}
	}
	if mtg, err = m.meetings.Release(ctx, mtg.ID, closed, false); err != nil {
		return nil, err
	}

	m.notifier.MeetingEnded(mtg.ID)
	m.log.Info().Str("meeting_id", mtg.ID).Int("closed", closed).Msg("meeting ended by host")
	return mtg, nil
}

// RemoveParticipant kicks a participant out of the meeting.
func (m *Manager) RemoveParticipant(ctx context.Context, actor Actor, participantID string) (*models.Participant, error) {
	target, mtg, err := m.target(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, func(p models.Permissions) bool { return p.CanRemoveParticipants }); err != nil {
		return nil, err
	}
	if target.Role == models.RoleHost {
		return nil, apperr.New(apperr.CodePermissionDenied, "the host cannot be removed")
	}
	if !target.Active() {
		return nil, apperr.New(apperr.CodeSessionClosed, "session is closed")
	}

	p, err := m.Leave(ctx, participantID, models.EndReasonKicked)
	if err != nil {
		return nil, err
	}
	m.notifier.ParticipantRemoved(p)
	return p, nil
}

// UpdateRole changes a participant's role. Granting or revoking host is
// reserved to the meeting owner.
func (m *Manager) UpdateRole(ctx context.Context, actor Actor, participantID string, role models.Role) (*models.Participant, error) {
	target, mtg, err := m.target(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, func(p models.Permissions) bool { return p.CanManageRoles }); err != nil {
		return nil, err
	}
	if (role == models.RoleHost || target.Role == models.RoleHost) && actor.UserID != mtg.OwnerID {
		return nil, apperr.New(apperr.CodePermissionDenied, "only the meeting owner can grant or revoke host")
	}
	return m.sessions.UpdateRole(ctx, participantID, role)
}

func (m *Manager) UpdatePermissions(ctx context.Context, actor Actor, participantID string, patch models.PermissionsPatch) (*models.Participant, error) {
	_, mtg, err := m.target(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, func(p models.Permissions) bool { return p.CanManageRoles }); err != nil {
		return nil, err
	}
	return m.sessions.UpdatePermissions(ctx, participantID, patch)
}

// UpdateMediaState changes the caller's own media state. Moderators that can
// mute others may change someone else's.
func (m *Manager) UpdateMediaState(ctx context.Context, actor Actor, participantID string, patch models.MediaStatePatch) (*models.Participant, error) {
	target, mtg, err := m.target(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(target) {
		if err := m.authorize(ctx, actor, mtg, func(p models.Permissions) bool { return p.CanMuteOthers }); err != nil {
			return nil, err
		}
	}
	if patch.ScreenSharing != nil && *patch.ScreenSharing && !mtg.Settings.AllowScreenShare {
		return nil, apperr.New(apperr.CodePermissionDenied, "screen sharing is disabled in this meeting")
	}
	return m.sessions.UpdateMediaState(ctx, participantID, patch)
}

func (m *Manager) UpdateConnectionQuality(ctx context.Context, actor Actor, participantID string, patch models.QualityPatch) (*models.Participant, error) {
	target, err := m.sessions.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(target) {
		return nil, apperr.New(apperr.CodePermissionDenied, "not your session")
	}
	return m.sessions.UpdateConnectionQuality(ctx, participantID, patch)
}

func (m *Manager) target(ctx context.Context, participantID string) (*models.Participant, *models.Meeting, error) {
	p, err := m.sessions.Get(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}
	mtg, err := m.meetings.Get(ctx, p.MeetingID)
	if err != nil {
		return nil, nil, err
	}
	return p, mtg, nil
}

// authorize passes the meeting owner and any of the actor's active sessions in
// the meeting holding the required permission.
func (m *Manager) authorize(ctx context.Context, actor Actor, mtg *models.Meeting, allowed func(models.Permissions) bool) error {
	if !actor.Guest() && actor.UserID == mtg.OwnerID {
		return nil
	}
	active, err := m.sessions.List(ctx, mtg.ID, true)
	if err != nil {
		return err
	}
	if lo.ContainsBy(active, func(p *models.Participant) bool { return actor.Owns(p) && allowed(p.Permissions) }) {
		return nil
	}
	return apperr.New(apperr.CodePermissionDenied, "insufficient permissions in this meeting")
}

// Participant returns a session by id.
func (m *Manager) Participant(ctx context.Context, participantID string) (*models.Participant, error) {
	return m.sessions.Get(ctx, participantID)
}

func (m *Manager) Meeting(ctx context.Context, meetingRef string) (*models.Meeting, error) {
	return m.meetings.Resolve(ctx, meetingRef)
}

// Participants lists a meeting's sessions to its owner and its members.
func (m *Manager) Participants(ctx context.Context, actor Actor, meetingRef string, activeOnly bool) ([]*models.Participant, error) {
	mtg, err := m.meetings.Resolve(ctx, meetingRef)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, anyPermission); err != nil {
		return nil, err
	}
	return m.sessions.List(ctx, mtg.ID, activeOnly)
}

func (m *Manager) MeetingStats(ctx context.Context, actor Actor, meetingRef string) (*models.MeetingStats, error) {
	mtg, err := m.meetings.Resolve(ctx, meetingRef)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, anyPermission); err != nil {
		return nil, err
	}
	return m.sessions.MeetingStats(ctx, mtg)
}

// Session looks a participant up by its session id, with the same visibility
// as ParticipantStats.
func (m *Manager) Session(ctx context.Context, actor Actor, sessionID string) (*models.Participant, error) {
	p, err := m.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.Owns(p) {
		return p, nil
	}
	mtg, err := m.meetings.Get(ctx, p.MeetingID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, mtg, anyPermission); err != nil {
		return nil, err
	}
	return p, nil
}

// ParticipantStats is readable by the session's holder, the meeting owner and
// the meeting's members.
func (m *Manager) ParticipantStats(ctx context.Context, actor Actor, participantID string) (*models.ParticipantStats, error) {
	p, mtg, err := m.target(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(p) {
		if err := m.authorize(ctx, actor, mtg, anyPermission); err != nil {
			return nil, err
		}
	}
	stats := m.sessions.ParticipantStats(p)
	return &stats, nil
}

func anyPermission(models.Permissions) bool { return true }
