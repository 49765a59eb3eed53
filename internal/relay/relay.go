// Package relay forwards negotiation messages between paired participants.
// It keeps no state and gives no feedback to the sender: the recipient's
// own authorization check is the only gate, because only the recipient
// knows who it is currently matched with.
package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
)

// Sender delivers a message to one participant, best-effort.
type Sender interface {
	Send(id domain.ParticipantID, msg core.Message) bool
}

type Relay struct {
	sender Sender
}

func New(sender Sender) *Relay {
	return &Relay{sender: sender}
}

// Forward relays an Offer, Answer or Candidate to its target, substituting
// the verified sender id for whatever the client put in From. Anything not
// addressed peer-to-peer is dropped with a log.
func (r *Relay) Forward(from domain.ParticipantID, msg core.Message) {
	switch m := msg.(type) {
	case core.Offer:
		m.From = string(from)
		r.deliver(from, domain.ParticipantID(m.To), m)
	case core.Answer:
		m.From = string(from)
		r.deliver(from, domain.ParticipantID(m.To), m)
	case core.Candidate:
		m.From = string(from)
		r.deliver(from, domain.ParticipantID(m.To), m)
	default:
		log.Warn().
			Str("module", "relay").
			Str("from", string(from)).
			Msg("not a relayable message")
	}
}

func (r *Relay) deliver(from, to domain.ParticipantID, msg core.Message) {
	if to == "" {
		log.Debug().Str("module", "relay").Str("from", string(from)).Msg("dropped, empty target")
		return
	}
	if !r.sender.Send(to, msg) {
		log.Debug().
			Str("module", "relay").
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("dropped, target not connected")
	}
}
