// Package wsclient is the client half of the signaling channel: it dials
// the server, learns its assigned participant id, feeds inbound messages
// into the orchestrator and implements its outbound Signaler.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/adapters/wire"
	"github.com/telegramgrupp/project/internal/core"
)

const writeDeadline = 5 * time.Second

// Handler receives inbound signaling events. The orchestrator satisfies it.
type Handler interface {
	HandleMatchFound(peerID string)
	HandleOffer(from, sdp string)
	HandleAnswer(from, sdp string)
	HandleCandidate(from string, c core.CandidateInit)
	HandleDisconnect(cause error)
}

type Client struct {
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex
	closed  bool
}

// Dial connects and waits for the server's welcome, which carries the id
// this connection is routed under.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsclient dial: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wsclient welcome read: %w", err)
	}
	msg, err := wire.Decode(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wsclient welcome: %w", err)
	}
	welcome, ok := msg.(core.Welcome)
	if !ok || welcome.ID == "" {
		_ = conn.Close()
		return nil, errors.New("wsclient: server did not send welcome")
	}

	log.Info().Str("module", "wsclient").Str("id", welcome.ID).Msg("connected")
	return &Client{conn: conn, id: welcome.ID}, nil
}

// ID is the participant id assigned by the server.
func (c *Client) ID() string { return c.id }

// Run reads inbound messages until the connection dies, dispatching each
// into the handler. Always ends with HandleDisconnect.
func (c *Client) Run(ctx context.Context, h Handler) error {
	defer func() {
		_ = c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			h.HandleDisconnect(nil)
			return ctx.Err()
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.HandleDisconnect(nil)
				return nil
			}
			h.HandleDisconnect(err)
			return err
		}

		msg, err := wire.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad message")
			continue
		}
		switch m := msg.(type) {
		case core.MatchFound:
			h.HandleMatchFound(m.PeerID)
		case core.Offer:
			h.HandleOffer(m.From, m.SDP)
		case core.Answer:
			h.HandleAnswer(m.From, m.SDP)
		case core.Candidate:
			h.HandleCandidate(m.From, m.Candidate)
		case core.Welcome:
			// already consumed in Dial; a second one is noise
			log.Warn().Str("module", "wsclient").Msg("unexpected welcome")
		default:
			log.Warn().Str("module", "wsclient").Msg("ignored server message")
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Search implements orch.Signaler.
func (c *Client) Search() error { return c.send(core.Search{}) }

// Cancel implements orch.Signaler.
func (c *Client) Cancel() error { return c.send(core.Cancel{}) }

// SendOffer implements orch.Signaler.
func (c *Client) SendOffer(to, sdp string) error {
	return c.send(core.Offer{To: to, SDP: sdp})
}

// SendAnswer implements orch.Signaler.
func (c *Client) SendAnswer(to, sdp string) error {
	return c.send(core.Answer{To: to, SDP: sdp})
}

// SendCandidate implements orch.Signaler.
func (c *Client) SendCandidate(to string, ci core.CandidateInit) error {
	return c.send(core.Candidate{To: to, Candidate: ci})
}

func (c *Client) send(msg core.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errors.New("wsclient: connection closed")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
