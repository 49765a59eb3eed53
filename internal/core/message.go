// Package core holds the types shared between the server-side pairing
// service and the client-side connection orchestrator: the signaling
// message set, the peer transport and media collaborator contracts, and
// the error taxonomy. No logic lives here.
package core

// Message is the closed set of signaling messages exchanged between a
// participant and the pairing service. The variants are sealed so every
// consumer can switch exhaustively; anything else on the wire is dropped
// at the adapter boundary.
type Message interface {
	signalingMessage()
}

// Welcome is sent by the server once per connection, before anything
// else, so the client learns the id the server will route under.
type Welcome struct {
	ID string
}

// Search asks the server to pair this participant with a waiting peer.
type Search struct{}

// Cancel removes this participant from the waiting queue.
type Cancel struct{}

// MatchFound tells a participant who it was paired with. Server-originated
// only; a client sending it is ignored.
type MatchFound struct {
	PeerID string
}

// Offer carries the offerer's session description to its partner.
type Offer struct {
	From string
	To   string
	SDP  string
}

// Answer carries the answerer's session description back.
type Answer struct {
	From string
	To   string
	SDP  string
}

// Candidate carries one network path candidate between partners.
type Candidate struct {
	From      string
	To        string
	Candidate CandidateInit
}

// CandidateInit mirrors the trickle-ICE candidate attributes that must
// survive the relay unchanged.
type CandidateInit struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

func (Welcome) signalingMessage()    {}
func (Search) signalingMessage()     {}
func (Cancel) signalingMessage()     {}
func (MatchFound) signalingMessage() {}
func (Offer) signalingMessage()      {}
func (Answer) signalingMessage()     {}
func (Candidate) signalingMessage()  {}
