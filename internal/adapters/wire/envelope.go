// Package wire is the JSON envelope codec shared by the server controller
// and the client signaler. One envelope shape covers the whole closed
// message set; absent fields are omitted.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/telegramgrupp/project/internal/core"
)

const (
	TypeWelcome    = "welcome"
	TypeSearch     = "search"
	TypeCancel     = "cancel"
	TypeMatchFound = "match_found"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "candidate"
)

type envelope struct {
	Type          string  `json:"type"`
	ID            string  `json:"id,omitempty"`
	PeerID        string  `json:"peerId,omitempty"`
	From          string  `json:"from,omitempty"`
	To            string  `json:"to,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Encode serializes a signaling message into its wire envelope.
func Encode(msg core.Message) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case core.Welcome:
		env = envelope{Type: TypeWelcome, ID: m.ID}
	case core.Search:
		env = envelope{Type: TypeSearch}
	case core.Cancel:
		env = envelope{Type: TypeCancel}
	case core.MatchFound:
		env = envelope{Type: TypeMatchFound, PeerID: m.PeerID}
	case core.Offer:
		env = envelope{Type: TypeOffer, From: m.From, To: m.To, SDP: m.SDP}
	case core.Answer:
		env = envelope{Type: TypeAnswer, From: m.From, To: m.To, SDP: m.SDP}
	case core.Candidate:
		env = envelope{
			Type:          TypeCandidate,
			From:          m.From,
			To:            m.To,
			Candidate:     m.Candidate.Candidate,
			SDPMid:        m.Candidate.SDPMid,
			SDPMLineIndex: m.Candidate.SDPMLineIndex,
		}
	default:
		return nil, fmt.Errorf("wire: cannot encode %T", msg)
	}
	return json.Marshal(env)
}

// Decode parses a wire envelope back into a signaling message.
func Decode(data []byte) (core.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: bad json: %w", err)
	}
	switch env.Type {
	case TypeWelcome:
		return core.Welcome{ID: env.ID}, nil
	case TypeSearch:
		return core.Search{}, nil
	case TypeCancel:
		return core.Cancel{}, nil
	case TypeMatchFound:
		return core.MatchFound{PeerID: env.PeerID}, nil
	case TypeOffer:
		return core.Offer{From: env.From, To: env.To, SDP: env.SDP}, nil
	case TypeAnswer:
		return core.Answer{From: env.From, To: env.To, SDP: env.SDP}, nil
	case TypeCandidate:
		return core.Candidate{
			From: env.From,
			To:   env.To,
			Candidate: core.CandidateInit{
				Candidate:     env.Candidate,
				SDPMid:        env.SDPMid,
				SDPMLineIndex: env.SDPMLineIndex,
			},
		}, nil
	default:
		return nil, fmt.Errorf("wire: unknown type %q", env.Type)
	}
}
