// Package relay is the connection channel: it authenticates WebSocket
// connections, keeps per-meeting broadcast groups and forwards signaling,
// chat and media events between participants.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Akins20/video-meet/config"
	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sessions is the part of the lifecycle manager the relay drives.
type Sessions interface {
	Participant(ctx context.Context, participantID string) (*models.Participant, error)
	Meeting(ctx context.Context, meetingRef string) (*models.Meeting, error)
	Leave(ctx context.Context, participantID string, reason models.EndReason) (*models.Participant, error)
	UpdateMediaState(ctx context.Context, actor lifecycle.Actor, participantID string, patch models.MediaStatePatch) (*models.Participant, error)
	UpdateConnectionQuality(ctx context.Context, actor lifecycle.Actor, participantID string, patch models.QualityPatch) (*models.Participant, error)
}

// Hub owns every live connection. Participant mapping and group membership
// are process-local; durable state lives behind Sessions.
type Hub struct {
	sessions     Sessions
	verifier     middleware.Verifier
	cfg          config.RelayConfig
	storeTimeout time.Duration
	validate     *validator.Validate
	upgrader     websocket.Upgrader
	log          zerolog.Logger

	mu            sync.RWMutex
	clients       map[*Client]struct{}
	byParticipant map[string]*Client
	groups        map[string]map[*Client]struct{}
	closed        bool
	wg            sync.WaitGroup
}

func NewHub(sessions Sessions, verifier middleware.Verifier, cfg config.RelayConfig, storeTimeout time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		sessions:     sessions,
		verifier:     verifier,
		cfg:          cfg,
		storeTimeout: storeTimeout,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is handled by middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:           log.With().Str("module", "relay").Logger(),
		clients:       make(map[*Client]struct{}),
		byParticipant: make(map[string]*Client),
		groups:        make(map[string]map[*Client]struct{}),
	}
}

// ServeWS authenticates the handshake and upgrades the connection. Callers
// without valid claims get a 401 and no socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.BearerToken(r)
	if err != nil || token == "" {
		writeHTTPError(w, apperr.New(apperr.CodeUnauthorized, "authorization required"))
		return
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		writeHTTPError(w, apperr.New(apperr.CodeUnauthorized, "invalid token"))
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
		actor: lifecycle.Actor{
			UserID:        claims.UserID,
			ParticipantID: claims.ParticipantID,
			DisplayName:   claims.Name,
		},
		signalLimiter: rate.NewLimiter(rate.Limit(h.cfg.SignalRate), h.cfg.SignalBurst),
		chatLimiter:   rate.NewLimiter(rate.Limit(h.cfg.ChatRate), h.cfg.ChatBurst),
	}
	c.log = h.log.With().Str("conn_id", c.id).Str("user_id", claims.UserID).Logger()

	if !h.register(c) {
		_ = conn.Close()
		return
	}
	c.log.Debug().Bool("guest", claims.Guest).Msg("connection opened")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

// attach maps the participant to c and adds c to the meeting group. A
// previous connection for the same participant is dropped from its group.
// It returns the peers already present.
func (h *Hub) attach(c *Client, p *models.Participant) []models.PeerSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.byParticipant[p.ID]; ok && old != c {
		h.removeFromGroupLocked(old)
		old.state = joinState{}
		old.log.Info().Str("participant_id", p.ID).Msg("connection superseded")
	}

	c.state = joinState{
		meetingID: p.MeetingID,
		peer: models.PeerSummary{
			ParticipantID: p.ID,
			DisplayName:   p.Identity.DisplayName,
			Role:          p.Role,
			MediaState:    p.MediaState,
		},
	}
	h.byParticipant[p.ID] = c

	group, ok := h.groups[p.MeetingID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[p.MeetingID] = group
	}
	peers := make([]models.PeerSummary, 0, len(group))
	for member := range group {
		if member != c {
			peers = append(peers, member.state.peer)
		}
	}
	group[c] = struct{}{}
	return peers
}

// detach undoes attach when c is still the participant's connection. It
// returns the state c had, and whether it owned the mapping.
func (h *Hub) detach(c *Client) (joinState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachLocked(c)
}

func (h *Hub) detachLocked(c *Client) (joinState, bool) {
	st := c.state
	if !st.joined() {
		return st, false
	}
	h.removeFromGroupLocked(c)
	c.state = joinState{}
	if h.byParticipant[st.peer.ParticipantID] != c {
		return st, false
	}
	delete(h.byParticipant, st.peer.ParticipantID)
	return st, true
}

func (h *Hub) removeFromGroupLocked(c *Client) {
	meetingID := c.state.meetingID
	group, ok := h.groups[meetingID]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, meetingID)
	}
}

// unregister forgets c entirely. It reports the participant c was serving
// when c still owned the mapping, and whether the hub is shutting down.
func (h *Hub) unregister(c *Client) (joinState, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	st, owned := h.detachLocked(c)
	return st, owned, h.closed
}

func (h *Hub) lookup(participantID string) (*Client, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byParticipant[participantID]
	if !ok {
		return nil, ""
	}
	return c, c.state.meetingID
}

func (h *Hub) stateOf(c *Client) joinState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.state
}

func (h *Hub) setMediaState(c *Client, ms models.MediaState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.state.joined() {
		c.state.peer.MediaState = ms
	}
}

func (h *Hub) members(meetingID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.membersLocked(meetingID)
}

func (h *Hub) membersLocked(meetingID string) []*Client {
	group := h.groups[meetingID]
	out := make([]*Client, 0, len(group))
	for c := range group {
		out = append(out, c)
	}
	return out
}

// broadcast sends to every member of the meeting group except skip.
func (h *Hub) broadcast(meetingID string, event models.EventName, data any, skip *Client) {
	msg, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("failed to encode broadcast")
		return
	}
	for _, c := range h.members(meetingID) {
		if c != skip {
			c.enqueue(msg)
		}
	}
}

// Stats reports live connection counts.
func (h *Hub) Stats() (connections, meetings int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.groups)
}

// Close stops accepting connections, closes the open ones and waits until
// their disconnect handling finished or ctx is done. Participant sessions are
// left open in the store.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.log.Info().Int("connections", len(clients)).Msg("relay closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.storeTimeout)
}
