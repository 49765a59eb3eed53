package core

import "context"

// SDPType distinguishes the two description kinds the negotiation uses.
type SDPType int

const (
	SDPOffer SDPType = iota
	SDPAnswer
)

func (t SDPType) String() string {
	if t == SDPOffer {
		return "offer"
	}
	return "answer"
}

// SessionDescription is the negotiated media/session parameters blob.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// TransportState is the reduced connection state of a peer transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// PeerTransport is the point-to-point negotiation primitive driven by the
// orchestrator. Callbacks fire from the transport's own goroutines and may
// arrive after Close; callers guard against that with a generation tag.
type PeerTransport interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddCandidate(c CandidateInit) error

	OnCandidate(func(CandidateInit))
	OnStateChange(func(TransportState))
	OnRemoteTrack(func(MediaHandle))

	Close() error
}

// TransportFactory builds a fresh PeerTransport for one remote peer with
// the local media already attached.
type TransportFactory func(peerID string, local MediaHandle) (PeerTransport, error)

// MediaHandle is an opaque reference to an acquired media stream, local or
// remote. The orchestrator only holds and releases it; adapters know what
// is inside.
type MediaHandle interface {
	ID() string
	Close() error
}

// Constraints selects which kinds of media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// MediaSource acquires the local media handle. Acquisition failures wrap
// one of the Err* causes in errors.go.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (MediaHandle, error)
}
