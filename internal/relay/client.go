package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Akins20/video-meet/internal/apperr"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// joinState is guarded by Hub.mu.
type joinState struct {
	meetingID string
	peer      models.PeerSummary
}

func (s joinState) joined() bool {
	return s.meetingID != ""
}

// Client is one WebSocket connection.
type Client struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	actor lifecycle.Actor
	log   zerolog.Logger

	state joinState

	signalLimiter *rate.Limiter
	chatLimiter   *rate.Limiter
	// rtt is the last heartbeat round trip in milliseconds.
	rtt       atomic.Int64
	closeOnce sync.Once
}

func encode(event models.EventName, data any) ([]byte, error) {
	return json.Marshal(models.Outbound{Event: event, Data: data})
}

// enqueue never blocks; a slow client loses messages instead of stalling the
// sender.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send buffer full, dropping message")
	}
}

func (c *Client) emit(event models.EventName, data any) {
	msg, err := encode(event, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", string(event)).Msg("failed to encode message")
		return
	}
	c.enqueue(msg)
}

// emitError reports a failed inbound event. The connection stays open.
func (c *Client) emitError(event models.EventName, err error) {
	payload := models.NewErrorPayload(event, err)
	if payload.Code == apperr.CodeInternal {
		c.log.Error().Err(err).Str("event", string(event)).Msg("event failed")
	}
	out := models.EventError
	if event == models.EventJoinMeeting {
		out = models.EventJoinMeetingError
	}
	c.emit(out, payload)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.hub.disconnect(c)

	pongWait := c.hub.cfg.PongWait
	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		if sent, err := strconv.ParseInt(appData, 10, 64); err == nil {
			c.rtt.Store(time.Now().UnixMilli() - sent)
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.handle(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	writeWait := c.hub.cfg.WriteWait
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte(stamp)); err != nil {
				return
			}
		}
	}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]any{"error": apperr.From(err)})
}
