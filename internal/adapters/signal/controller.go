// Package signal exposes the pairing service over one websocket per
// participant: search/cancel go to the broker, offer/answer/candidate to
// the relay, and disconnects fall out of the read loop.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/adapters/wire"
	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
	"github.com/telegramgrupp/project/internal/match"
	"github.com/telegramgrupp/project/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendBuffer    = 32
	writeDeadline = 5 * time.Second
)

type Controller struct {
	Broker   *match.Broker
	Relay    *relay.Relay
	Registry *match.Registry
	Limiter  *SearchLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

// TrySend implements match.Wire. Encoding failures and full buffers drop
// the message; signaling is best-effort end to end.
func (c *wsConn) TrySend(msg core.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the
// participant goes away. The client token set by the router middleware is
// the participant id for the lifetime of this socket.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	id, err := domain.ParseParticipantID(c.GetString("client_token"))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected connection")
		c.Status(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "signal").Str("id", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}

	ctl.Registry.Register(id, conn)
	if err := conn.TrySend(core.Welcome{ID: string(id)}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("id", string(id)).Msg("welcome send failed")
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		ctl.readPump(ctx, id, conn)
		cancel()
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.pingPeriod())
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ParticipantID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("id", string(id)).Msg("readPump closing")
		ctl.Registry.Unregister(id, c)
		ctl.Broker.Disconnect(id)
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	pongWait := ctl.pingPeriod() + 2*time.Second
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Str("module", "signal").Str("id", string(id)).Msg("connection closed")
				} else {
					log.Error().Err(err).Str("module", "signal").Str("id", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(id, data)
		}
	}
}

func (ctl *Controller) dispatch(id domain.ParticipantID, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("id", string(id)).Msg("bad message")
		return
	}

	switch msg.(type) {
	case core.Search:
		if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
			log.Warn().Str("module", "signal").Str("id", string(id)).Msg("search throttled")
			return
		}
		ctl.Broker.Search(id)
	case core.Cancel:
		ctl.Broker.Cancel(id)
	case core.Offer, core.Answer, core.Candidate:
		ctl.Relay.Forward(id, msg)
	default:
		// welcome/match_found are server-originated only
		log.Warn().Str("module", "signal").Str("id", string(id)).Msg("ignored client message")
	}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}
