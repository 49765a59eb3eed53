// Package rtc implements core.PeerTransport on top of pion/webrtc.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/core"
)

// LocalTracks is implemented by media handles that carry attachable local
// tracks. The orchestrator treats handles as opaque; this assertion stays
// inside the adapters.
type LocalTracks interface {
	Tracks() []webrtc.TrackLocal
}

// Config builds the pion configuration for a set of STUN/TURN urls.
func Config(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
	}
}

// Connection wraps a single pion PeerConnection for one remote peer.
type Connection struct {
	pc     *webrtc.PeerConnection
	peerID string

	mu         sync.Mutex
	onCand     func(core.CandidateInit)
	onState    func(core.TransportState)
	onTrack    func(core.MediaHandle)
	closedOnce sync.Once
}

// Factory returns a core.TransportFactory bound to one ICE configuration.
func Factory(cfg webrtc.Configuration) core.TransportFactory {
	return func(peerID string, local core.MediaHandle) (core.PeerTransport, error) {
		return New(cfg, peerID, local)
	}
}

func New(cfg webrtc.Configuration, peerID string, local core.MediaHandle) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, peerID: peerID}

	if lt, ok := local.(LocalTracks); ok {
		for _, track := range lt.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		c.mu.Lock()
		cb := c.onCand
		c.mu.Unlock()
		if cb != nil {
			cb(fromICE(ci))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().
			Str("module", "rtc").
			Str("peer", peerID).
			Str("peer_connection_state", s.String()).
			Msg("peer state")
		c.mu.Lock()
		cb := c.onState
		c.mu.Unlock()
		if cb != nil {
			cb(mapState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", peerID).
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		c.mu.Lock()
		cb := c.onTrack
		c.mu.Unlock()
		if cb != nil {
			cb(&RemoteStream{track: track, receiver: receiver})
		}
	})

	return c, nil
}

func (c *Connection) CreateOffer() (core.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	return core.SessionDescription{Type: core.SDPOffer, SDP: offer.SDP}, nil
}

func (c *Connection) CreateAnswer() (core.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	return core.SessionDescription{Type: core.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *Connection) SetLocalDescription(desc core.SessionDescription) error {
	return c.pc.SetLocalDescription(toSDP(desc))
}

func (c *Connection) SetRemoteDescription(desc core.SessionDescription) error {
	return c.pc.SetRemoteDescription(toSDP(desc))
}

func (c *Connection) AddCandidate(ci core.CandidateInit) error {
	return c.pc.AddICECandidate(toICE(ci))
}

func (c *Connection) OnCandidate(fn func(core.CandidateInit)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) OnRemoteTrack(fn func(core.MediaHandle)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	var err error
	c.closedOnce.Do(func() {
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", c.peerID).Msg("close error")
		}
	})
	return err
}

// RemoteStream is the media handle handed to the orchestrator for an
// incoming track.
type RemoteStream struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (r *RemoteStream) ID() string { return r.track.StreamID() }

func (r *RemoteStream) Track() *webrtc.TrackRemote { return r.track }

func (r *RemoteStream) Close() error { return r.receiver.Stop() }

func toSDP(desc core.SessionDescription) webrtc.SessionDescription {
	t := webrtc.SDPTypeAnswer
	if desc.Type == core.SDPOffer {
		t = webrtc.SDPTypeOffer
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}
}

func toICE(ci core.CandidateInit) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func fromICE(ci webrtc.ICECandidateInit) core.CandidateInit {
	return core.CandidateInit{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	}
	return core.TransportNew
}
