package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Akins20/video-meet/config"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/meeting"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/Akins20/video-meet/internal/relay"
	"github.com/Akins20/video-meet/internal/session"
	"github.com/Akins20/video-meet/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Meeting.DefaultMaxParticipants = 3

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb, zerolog.Nop(), store.Options{MeetingRetention: cfg.Meeting.Retention})
	reg := meeting.NewRegistry(st, meeting.Options{
		DefaultMaxParticipants: cfg.Meeting.DefaultMaxParticipants,
		MaxParticipantsLimit:   cfg.Meeting.MaxParticipantsLimit,
	}, zerolog.Nop())
	tokens := middleware.NewJWTVerifier(cfg.JWTSecret)
	mgr := lifecycle.NewManager(reg, session.NewService(st, zerolog.Nop()), st, tokens, lifecycle.Options{
		StaleAfter:       cfg.Session.StaleAfter,
		SessionRetention: cfg.Session.Retention,
		GuestTokenTTL:    cfg.Session.GuestTokenTTL,
	}, zerolog.Nop())
	hub := relay.NewHub(mgr, tokens, cfg.Relay, cfg.Session.StoreTimeout, zerolog.Nop())
	mgr.SetNotifier(hub)

	router := NewRouter(Deps{
		Config:    cfg,
		Meetings:  reg,
		Lifecycle: mgr,
		Hub:       hub,
		Tokens:    tokens,
		Ping:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Log:       zerolog.Nop(),
	})
	return &api{t: t, router: router}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) login(user string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: user, Password: "pw"})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var res LoginResponse
	decode(a.t, w, &res)
	return res.Token
}

func (a *api) createMeeting(token string, req models.CreateMeetingRequest) models.Meeting {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/meetings", token, req)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var m models.Meeting
	decode(a.t, w, &m)
	return m
}

func (a *api) join(roomID, token string, req models.JoinMeetingRequest) models.JoinMeetingResponse {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/meetings/"+roomID+"/join", token, req)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var res models.JoinMeetingResponse
	decode(a.t, w, &res)
	return res
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, w, &body)
	require.Equal(t, code, body.Error.Code, body.Error.Message)
}

func device(id string) models.DeviceInfo {
	return models.DeviceInfo{DeviceID: id, DeviceType: models.DeviceWeb}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreateAndGetMeeting(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	alice := a.login("alice")

	requireError(t, a.do(http.MethodPost, "/api/meetings", "", models.CreateMeetingRequest{Title: "x", Type: models.MeetingTypeInstant}),
		http.StatusUnauthorized, "UNAUTHORIZED")
	requireError(t, a.do(http.MethodPost, "/api/meetings", alice, map[string]any{"title": "x", "type": "weekly"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	past := time.Now().Add(-time.Hour)
	requireError(t, a.do(http.MethodPost, "/api/meetings", alice, models.CreateMeetingRequest{Title: "x", Type: models.MeetingTypeScheduled, ScheduledAt: &past}),
		http.StatusBadRequest, "INVALID_SCHEDULE")

	m := a.createMeeting(alice, models.CreateMeetingRequest{Title: "Retro", Type: models.MeetingTypeInstant, Password: "s3cret"})
	req.Equal("alice", m.OwnerID)
	req.Equal(3, m.MaxParticipants)
	req.True(m.Settings.PasswordEnabled)
	req.Empty(m.PasswordHash)

	w := a.do(http.MethodGet, "/api/meetings/"+m.RoomID, "", nil)
	req.Equal(http.StatusOK, w.Code)
	req.NotContains(w.Body.String(), "passwordHash")
	req.Contains(w.Body.String(), `"canJoin":true`)

	requireError(t, a.do(http.MethodGet, "/api/meetings/nope", "", nil), http.StatusNotFound, "MEETING_NOT_FOUND")

	bob := a.login("bob")
	title := "Renamed"
	requireError(t, a.do(http.MethodPatch, "/api/meetings/"+m.ID, bob, models.UpdateMeetingRequest{Title: &title}),
		http.StatusForbidden, "NOT_MEETING_OWNER")
	w = a.do(http.MethodPatch, "/api/meetings/"+m.ID, alice, models.UpdateMeetingRequest{Title: &title})
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"title":"Renamed"`)
}

func TestJoinFlow(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	alice := a.login("alice")
	m := a.createMeeting(alice, models.CreateMeetingRequest{Title: "Retro", Type: models.MeetingTypeInstant, Password: "s3cret"})
	path := "/api/meetings/" + m.RoomID + "/join"

	requireError(t, a.do(http.MethodPost, path, "", models.JoinMeetingRequest{GuestName: "Dana", Device: device("d")}),
		http.StatusUnauthorized, "PASSWORD_REQUIRED")
	requireError(t, a.do(http.MethodPost, path, "", models.JoinMeetingRequest{GuestName: "Dana", Password: "nope", Device: device("d")}),
		http.StatusUnauthorized, "INVALID_PASSWORD")
	requireError(t, a.do(http.MethodPost, path, "", models.JoinMeetingRequest{GuestName: "Dana", Password: "s3cret"}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	host := a.join(m.RoomID, alice, models.JoinMeetingRequest{Password: "s3cret", Device: device("a1")})
	req.Equal(models.RoleHost, host.Participant.Role)
	req.Empty(host.Token)

	dana := a.join(m.RoomID, "", models.JoinMeetingRequest{GuestName: "Dana", Password: "s3cret", Device: device("d1")})
	req.Equal(models.RoleGuest, dana.Participant.Role)
	req.NotEmpty(dana.Token)
	req.Equal(2, dana.Meeting.CurrentParticipants)

	requireError(t, a.do(http.MethodPost, path, alice, models.JoinMeetingRequest{Password: "s3cret", Device: device("a2")}),
		http.StatusConflict, "ALREADY_IN_MEETING")
	forced := a.join(m.RoomID, alice, models.JoinMeetingRequest{Password: "s3cret", Device: device("a2"), ForceJoin: true})
	req.Equal(2, forced.Meeting.CurrentParticipants)

	carol := a.join(m.RoomID, a.login("carol"), models.JoinMeetingRequest{Password: "s3cret", Device: device("c1")})
	req.Equal(3, carol.Meeting.CurrentParticipants)
	requireError(t, a.do(http.MethodPost, path, a.login("erin"), models.JoinMeetingRequest{Password: "s3cret", Device: device("e1")}),
		http.StatusConflict, "MEETING_FULL")

	w := a.do(http.MethodGet, "/api/meetings/"+m.ID+"/participants?active=true", alice, nil)
	req.Equal(http.StatusOK, w.Code)
	var list struct {
		Participants []models.Participant `json:"participants"`
	}
	decode(t, w, &list)
	req.Len(list.Participants, 3)

	// only the owner and members can look inside the meeting
	w = a.do(http.MethodGet, "/api/meetings/"+m.ID+"/participants", dana.Token, nil)
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	mallory := a.login("mallory")
	requireError(t, a.do(http.MethodGet, "/api/meetings/"+m.ID+"/participants", mallory, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	requireError(t, a.do(http.MethodGet, "/api/meetings/"+m.ID+"/stats", mallory, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	requireError(t, a.do(http.MethodGet, "/api/participants/"+carol.Participant.ID+"/stats", mallory, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	requireError(t, a.do(http.MethodGet, "/api/sessions/"+carol.Participant.SessionID, mallory, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	w = a.do(http.MethodGet, "/api/sessions/"+carol.Participant.SessionID, alice, nil)
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	req.Contains(w.Body.String(), carol.Participant.ID)

	w = a.do(http.MethodGet, "/api/meetings/"+m.RoomID, "", nil)
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"canJoin":false`)

	// guests leave with the token they got when joining
	requireError(t, a.do(http.MethodPost, "/api/participants/"+carol.Participant.ID+"/leave", dana.Token, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	w = a.do(http.MethodPost, "/api/participants/"+dana.Participant.ID+"/leave", dana.Token, nil)
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	w = a.do(http.MethodPost, "/api/participants/"+dana.Participant.ID+"/leave", dana.Token, nil)
	req.Equal(http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/meetings/"+m.ID+"/stats", alice, nil)
	req.Equal(http.StatusOK, w.Code)
	var stats models.MeetingStats
	decode(t, w, &stats)
	req.Equal(2, stats.CurrentParticipants)
	req.Equal(4, stats.TotalSessions)
	req.Equal(1, stats.EndReasons[models.EndReasonReplaced])
	req.Equal(1, stats.EndReasons[models.EndReasonUserLeft])
}

func TestParticipantManagement(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	alice, bob := a.login("alice"), a.login("bob")
	m := a.createMeeting(alice, models.CreateMeetingRequest{Title: "Standup", Type: models.MeetingTypeInstant})

	host := a.join(m.RoomID, alice, models.JoinMeetingRequest{Device: device("a1")})
	member := a.join(m.RoomID, bob, models.JoinMeetingRequest{Device: device("b1")})
	pPath := "/api/participants/" + member.Participant.ID

	on := true
	w := a.do(http.MethodPatch, pPath+"/media", bob, models.MediaStatePatch{HandRaised: &on})
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	req.Contains(w.Body.String(), `"handRaised":true`)

	latency := -5
	requireError(t, a.do(http.MethodPatch, pPath+"/quality", bob, models.QualityPatch{Latency: &latency}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	latency = 80
	w = a.do(http.MethodPatch, pPath+"/quality", bob, models.QualityPatch{Latency: &latency})
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"quality":"good"`)

	requireError(t, a.do(http.MethodPatch, "/api/participants/"+host.Participant.ID+"/role", bob, models.UpdateRoleRequest{Role: models.RoleParticipant}),
		http.StatusForbidden, "PERMISSION_DENIED")
	requireError(t, a.do(http.MethodPatch, pPath+"/role", alice, map[string]string{"role": "admin"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	w = a.do(http.MethodPatch, pPath+"/role", alice, models.UpdateRoleRequest{Role: models.RoleModerator})
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"canRemoveParticipants":true`)

	off := false
	w = a.do(http.MethodPatch, pPath+"/permissions", alice, models.PermissionsPatch{CanRecord: &off})
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"canRecord":false`)

	w = a.do(http.MethodGet, pPath+"/stats", alice, nil)
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"active":true`)

	requireError(t, a.do(http.MethodDelete, "/api/participants/"+host.Participant.ID, bob, nil),
		http.StatusForbidden, "PERMISSION_DENIED")
	w = a.do(http.MethodDelete, pPath, alice, nil)
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"endReason":"kicked_by_moderator"`)

	requireError(t, a.do(http.MethodPost, "/api/meetings/"+m.RoomID+"/end", bob, nil), http.StatusForbidden, "NOT_MEETING_OWNER")
	w = a.do(http.MethodPost, "/api/meetings/"+m.RoomID+"/end", alice, nil)
	req.Equal(http.StatusOK, w.Code)
	var ended models.Meeting
	decode(t, w, &ended)
	req.Equal(models.MeetingStatusEnded, ended.Status)
	req.Equal(0, ended.CurrentParticipants)

	requireError(t, a.do(http.MethodPost, "/api/meetings/"+m.RoomID+"/join", bob, models.JoinMeetingRequest{Device: device("b2")}),
		http.StatusNotFound, "MEETING_NOT_FOUND")
}

func TestCancelMeeting(t *testing.T) {
	a := newAPI(t)
	alice := a.login("alice")
	future := time.Now().Add(time.Hour)
	m := a.createMeeting(alice, models.CreateMeetingRequest{Title: "Later", Type: models.MeetingTypeScheduled, ScheduledAt: &future})
	require.Equal(t, models.MeetingStatusWaiting, m.Status)

	w := a.do(http.MethodPost, "/api/meetings/"+m.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"cancelled"`)

	requireError(t, a.do(http.MethodPost, "/api/meetings/"+m.ID+"/cancel", alice, nil),
		http.StatusConflict, "INVALID_STATE_TRANSITION")
}

func TestOriginFilter(t *testing.T) {
	a := newAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/meetings", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
