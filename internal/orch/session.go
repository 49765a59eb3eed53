package orch

import (
	"time"

	"github.com/telegramgrupp/project/internal/core"
)

// Role is the negotiation role elected for one match.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

type negotiationState int

const (
	negotiationNone negotiationState = iota
	negotiationHaveLocalOffer
	negotiationStable
)

func (n negotiationState) String() string {
	switch n {
	case negotiationNone:
		return "none"
	case negotiationHaveLocalOffer:
		return "have-local-offer"
	case negotiationStable:
		return "stable"
	}
	return "unknown"
}

// peerSession wraps the transport handle for one remote peer together with
// the negotiation sub-state and the candidates that arrived before the
// remote description. The generation tag lets the orchestrator drop
// transport callbacks that belong to a superseded session; the transport's
// own callback queue can deliver them arbitrarily late.
type peerSession struct {
	peerID     string
	role       Role
	generation uint64
	transport  core.PeerTransport

	negotiation negotiationState
	remoteSet   bool
	pending     []core.CandidateInit
	debounce    *time.Timer
	closed      bool
}

func (s *peerSession) bufferCandidate(c core.CandidateInit) {
	s.pending = append(s.pending, c)
}

// takePending hands out the buffered candidates in arrival order and
// empties the buffer.
func (s *peerSession) takePending() []core.CandidateInit {
	p := s.pending
	s.pending = nil
	return p
}

// close releases the transport handle exactly once and cancels the pending
// debounce timer. Safe to call repeatedly; repeated teardowns coalesce here.
func (s *peerSession) close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.pending = nil
	_ = s.transport.Close()
}
