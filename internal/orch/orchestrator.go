// Package orch drives one local participant from search to a connected
// peer-to-peer call and back. It owns the local media handle reference,
// the single live peer session, and the authorization map that scopes
// inbound signaling to the current partner.
//
// Inbound signaling events (HandleMatchFound, HandleOffer, HandleAnswer,
// HandleCandidate) are expected from one goroutine, the signaling read
// loop. Transport callbacks arrive from the transport's own goroutines and
// are re-validated against the session generation.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/core"
)

// State is the orchestrator's top-level lifecycle state. Closed is not
// sticky: a fresh StartSearch is allowed immediately.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Signaler is the outbound half of the signaling channel.
type Signaler interface {
	Search() error
	Cancel() error
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendCandidate(to string, c core.CandidateInit) error
}

const (
	defaultMediaWaitTimeout = 5 * time.Second
	defaultStreamDebounce   = 400 * time.Millisecond
)

// errMatchTornDown wakes a pending media wait when the match it belongs to
// was torn down. Never surfaced to callers.
var errMatchTornDown = errors.New("match torn down")

type Config struct {
	// LocalID is this participant's id. The side whose id orders first
	// under plain string comparison becomes the offerer of a match.
	LocalID      string
	Signaler     Signaler
	Media        core.MediaSource
	NewTransport core.TransportFactory
	Constraints  core.Constraints

	// MediaWaitTimeout bounds how long a match waits for the local media
	// handle before failing. StreamDebounce delays surfacing a remote
	// stream to absorb renegotiation flicker.
	MediaWaitTimeout time.Duration
	StreamDebounce   time.Duration

	OnState       func(State)
	OnRemoteMedia func(core.MediaHandle)
	OnError       func(error)
}

type Orchestrator struct {
	cfg Config

	mu         sync.Mutex
	state      State
	media      core.MediaHandle
	mediaReady chan struct{}
	allowed    map[string]struct{}
	session    *peerSession
	remote     core.MediaHandle
	generation uint64

	// waitCancel is created per match and closed on teardown so a pending
	// media wait ends immediately instead of running out its timer.
	waitCancel chan struct{}
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("orchestrator: missing local id")
	}
	if cfg.Signaler == nil || cfg.Media == nil || cfg.NewTransport == nil {
		return nil, fmt.Errorf("orchestrator: missing collaborator")
	}
	if cfg.MediaWaitTimeout <= 0 {
		cfg.MediaWaitTimeout = defaultMediaWaitTimeout
	}
	if cfg.StreamDebounce <= 0 {
		cfg.StreamDebounce = defaultStreamDebounce
	}
	return &Orchestrator{
		cfg:        cfg,
		state:      StateIdle,
		mediaReady: make(chan struct{}),
		allowed:    make(map[string]struct{}),
	}, nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RemoteMedia returns the current partner's media handle, nil until the
// call is connected and the debounce has elapsed.
func (o *Orchestrator) RemoteMedia() core.MediaHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remote
}

// StartSearch acquires (or reuses) the local media handle and asks the
// broker for a partner. Allowed from Idle and Closed only. On acquisition
// failure the orchestrator returns to Idle without queuing.
func (o *Orchestrator) StartSearch(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateIdle, StateClosed:
	default:
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("start search: not allowed in state %s", st)
	}
	have := o.media != nil
	o.mu.Unlock()

	if !have {
		h, err := o.cfg.Media.Acquire(ctx, o.cfg.Constraints)
		if err != nil {
			aerr := &core.MediaAcquisitionError{Cause: err}
			o.mu.Lock()
			o.state = StateIdle
			o.mu.Unlock()
			o.emitState(StateIdle)
			o.emitError(aerr)
			return aerr
		}
		o.mu.Lock()
		if o.media == nil {
			o.media = h
			close(o.mediaReady)
			h = nil
		}
		o.mu.Unlock()
		if h != nil {
			// Lost the acquisition race against a concurrent StartSearch.
			_ = h.Close()
		}
	}

	o.mu.Lock()
	switch o.state {
	case StateIdle, StateClosed:
		o.state = StateSearching
	default:
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("start search: not allowed in state %s", st)
	}
	o.mu.Unlock()
	o.emitState(StateSearching)

	if err := o.cfg.Signaler.Search(); err != nil {
		o.mu.Lock()
		if o.state == StateSearching {
			o.state = StateIdle
		}
		o.mu.Unlock()
		o.emitState(StateIdle)
		return fmt.Errorf("start search: %w", err)
	}
	log.Debug().Str("module", "orch").Str("id", o.cfg.LocalID).Msg("searching")
	return nil
}

// EndChat tears the current session down and leaves the waiting queue if
// still queued. Idempotent: repeated or concurrent calls coalesce into one
// release of the transport handle.
func (o *Orchestrator) EndChat() {
	o.mu.Lock()
	searching := o.state == StateSearching
	changed := o.teardownLocked()
	o.mu.Unlock()

	if searching {
		if err := o.cfg.Signaler.Cancel(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("cancel send failed")
		}
	}
	if changed {
		o.emitState(StateClosed)
	}
}

// HandleDisconnect reacts to loss of the signaling or peer transport
// detected outside the orchestrator. The session is torn down; cause, when
// given, is surfaced to the caller.
func (o *Orchestrator) HandleDisconnect(cause error) {
	o.mu.Lock()
	changed := o.teardownLocked()
	o.mu.Unlock()
	if changed {
		o.emitState(StateClosed)
		if cause != nil {
			o.emitError(cause)
		}
	}
}

// Close disposes the orchestrator entirely, releasing the local media
// handle as well.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.teardownLocked()
	media := o.media
	o.media = nil
	o.mediaReady = make(chan struct{})
	o.mu.Unlock()
	if media != nil {
		_ = media.Close()
	}
}

// HandleMatchFound reacts to a pairing decision. Both sides run this
// independently; the offerer is the side whose id orders first, so exactly
// one offer is produced per match without any glare recovery.
func (o *Orchestrator) HandleMatchFound(peerID string) {
	o.mu.Lock()
	if o.state != StateSearching {
		st := o.state
		o.mu.Unlock()
		log.Warn().
			Str("module", "orch").
			Str("state", st.String()).
			Str("peer", peerID).
			Msg("match found ignored outside searching")
		return
	}
	o.closeSessionLocked()
	o.allowed = map[string]struct{}{peerID: {}}
	if o.waitCancel != nil {
		close(o.waitCancel)
	}
	o.waitCancel = make(chan struct{})
	o.mu.Unlock()

	s, err := o.ensureSession(peerID)
	if err != nil {
		o.fail(err)
		return
	}
	if s == nil {
		return
	}

	o.mu.Lock()
	if o.session != s || s.closed {
		// Torn down while the session was coming up.
		o.mu.Unlock()
		return
	}
	o.state = StateNegotiating
	o.mu.Unlock()
	o.emitState(StateNegotiating)
	log.Info().
		Str("module", "orch").
		Str("id", o.cfg.LocalID).
		Str("peer", peerID).
		Str("role", s.role.String()).
		Msg("match found")

	if s.role == RoleOfferer {
		o.sendOffer(s)
	}
}

// HandleOffer applies the partner's offer and replies with an answer.
// Offers from anyone but the current partner are dropped. A missing
// session is created here: the answerer side may hear the offer before it
// finished reacting to its own MatchFound.
func (o *Orchestrator) HandleOffer(from, sdp string) {
	o.mu.Lock()
	if _, ok := o.allowed[from]; !ok {
		o.mu.Unlock()
		log.Warn().
			Err(core.ErrUnauthorizedPeer).
			Str("module", "orch").
			Str("from", from).
			Msg("offer dropped")
		return
	}
	o.mu.Unlock()

	s, err := o.ensureSession(from)
	if err != nil {
		o.fail(err)
		return
	}
	if s == nil {
		return
	}

	if err := s.transport.SetRemoteDescription(core.SessionDescription{Type: core.SDPOffer, SDP: sdp}); err != nil {
		o.fail(&core.NegotiationError{PeerID: from, Reason: "apply remote offer", Cause: err})
		return
	}

	o.mu.Lock()
	if o.session != s || s.closed {
		o.mu.Unlock()
		return
	}
	s.remoteSet = true
	pending := s.takePending()
	o.mu.Unlock()

	if !o.applyCandidates(s, pending) {
		return
	}

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		o.fail(&core.NegotiationError{PeerID: from, Reason: "create answer", Cause: err})
		return
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		o.fail(&core.NegotiationError{PeerID: from, Reason: "apply local answer", Cause: err})
		return
	}

	o.mu.Lock()
	if o.session != s || s.closed {
		o.mu.Unlock()
		return
	}
	s.negotiation = negotiationStable
	notify := o.state != StateNegotiating && o.state != StateConnected
	if notify {
		o.state = StateNegotiating
	}
	o.mu.Unlock()
	if notify {
		o.emitState(StateNegotiating)
	}

	if err := o.cfg.Signaler.SendAnswer(from, answer.SDP); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", from).Msg("answer send failed")
	}
}

// HandleAnswer completes the offerer's negotiation. A duplicate answer on
// an already stable session is harmless and ignored; an answer in any
// other sub-state tears the session down.
func (o *Orchestrator) HandleAnswer(from, sdp string) {
	o.mu.Lock()
	if _, ok := o.allowed[from]; !ok {
		o.mu.Unlock()
		log.Warn().
			Err(core.ErrUnauthorizedPeer).
			Str("module", "orch").
			Str("from", from).
			Msg("answer dropped")
		return
	}
	s := o.session
	if s == nil || s.peerID != from || s.closed {
		o.mu.Unlock()
		o.fail(&core.NegotiationError{PeerID: from, Reason: "answer without session"})
		return
	}
	switch s.negotiation {
	case negotiationStable:
		o.mu.Unlock()
		log.Debug().Str("module", "orch").Str("peer", from).Msg("duplicate answer ignored")
		return
	case negotiationHaveLocalOffer:
		o.mu.Unlock()
	default:
		sub := s.negotiation
		o.mu.Unlock()
		o.fail(&core.NegotiationError{PeerID: from, Reason: "answer in sub-state " + sub.String()})
		return
	}

	if err := s.transport.SetRemoteDescription(core.SessionDescription{Type: core.SDPAnswer, SDP: sdp}); err != nil {
		o.fail(&core.NegotiationError{PeerID: from, Reason: "apply remote answer", Cause: err})
		return
	}

	o.mu.Lock()
	if o.session != s || s.closed {
		o.mu.Unlock()
		return
	}
	s.remoteSet = true
	s.negotiation = negotiationStable
	pending := s.takePending()
	o.mu.Unlock()

	o.applyCandidates(s, pending)
}

// HandleCandidate applies a remote network path candidate, or buffers it
// when the remote description has not landed yet. Buffered candidates keep
// their arrival order.
func (o *Orchestrator) HandleCandidate(from string, c core.CandidateInit) {
	o.mu.Lock()
	if _, ok := o.allowed[from]; !ok {
		o.mu.Unlock()
		log.Warn().
			Err(core.ErrUnauthorizedPeer).
			Str("module", "orch").
			Str("from", from).
			Msg("candidate dropped")
		return
	}
	s := o.session
	if s == nil || s.peerID != from || s.closed {
		o.mu.Unlock()
		log.Debug().Str("module", "orch").Str("from", from).Msg("candidate without session dropped")
		return
	}
	if !s.remoteSet {
		s.bufferCandidate(c)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := s.transport.AddCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", from).Msg("candidate rejected by transport")
	}
}

// ensureSession returns the live session for peerID, creating it (and
// fully releasing any previous session first) when missing. Returns
// (nil, nil) when the match was torn down while waiting for media.
func (o *Orchestrator) ensureSession(peerID string) (*peerSession, error) {
	o.mu.Lock()
	if s := o.session; s != nil && s.peerID == peerID && !s.closed {
		o.mu.Unlock()
		return s, nil
	}
	o.closeSessionLocked()
	o.mu.Unlock()

	if err := o.awaitMedia(); err != nil {
		if errors.Is(err, errMatchTornDown) {
			return nil, nil
		}
		return nil, &core.MediaAcquisitionError{Cause: err}
	}

	o.mu.Lock()
	if _, ok := o.allowed[peerID]; !ok {
		// Torn down while waiting for media.
		o.mu.Unlock()
		return nil, nil
	}
	media := o.media
	o.mu.Unlock()

	transport, err := o.cfg.NewTransport(peerID, media)
	if err != nil {
		return nil, &core.NegotiationError{PeerID: peerID, Reason: "create transport", Cause: err}
	}

	o.mu.Lock()
	if _, ok := o.allowed[peerID]; !ok {
		// Torn down while the transport was being created; the fresh
		// handle must not outlive the match it was made for.
		o.mu.Unlock()
		_ = transport.Close()
		return nil, nil
	}
	o.generation++
	gen := o.generation
	s := &peerSession{
		peerID:     peerID,
		generation: gen,
		transport:  transport,
		role:       RoleAnswerer,
	}
	if o.cfg.LocalID < peerID {
		s.role = RoleOfferer
	}
	o.session = s
	o.mu.Unlock()

	transport.OnCandidate(func(c core.CandidateInit) { o.onLocalCandidate(gen, peerID, c) })
	transport.OnStateChange(func(st core.TransportState) { o.onTransportState(gen, st) })
	transport.OnRemoteTrack(func(h core.MediaHandle) { o.onRemoteTrack(gen, h) })
	return s, nil
}

func (o *Orchestrator) sendOffer(s *peerSession) {
	offer, err := s.transport.CreateOffer()
	if err != nil {
		o.fail(&core.NegotiationError{PeerID: s.peerID, Reason: "create offer", Cause: err})
		return
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		o.fail(&core.NegotiationError{PeerID: s.peerID, Reason: "apply local offer", Cause: err})
		return
	}

	o.mu.Lock()
	if o.session != s || s.closed {
		o.mu.Unlock()
		return
	}
	s.negotiation = negotiationHaveLocalOffer
	o.mu.Unlock()

	if err := o.cfg.Signaler.SendOffer(s.peerID, offer.SDP); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", s.peerID).Msg("offer send failed")
	}
}

// applyCandidates feeds previously buffered candidates to the transport in
// their original arrival order. Reports false after tearing down.
func (o *Orchestrator) applyCandidates(s *peerSession, pending []core.CandidateInit) bool {
	for _, c := range pending {
		if err := s.transport.AddCandidate(c); err != nil {
			o.fail(&core.NegotiationError{PeerID: s.peerID, Reason: "apply buffered candidate", Cause: err})
			return false
		}
	}
	return true
}

// awaitMedia blocks until the local media handle exists, bounded by
// MediaWaitTimeout and cut short by teardown. No polling: acquisition
// closes mediaReady, teardown closes waitCancel.
func (o *Orchestrator) awaitMedia() error {
	o.mu.Lock()
	if o.media != nil {
		o.mu.Unlock()
		return nil
	}
	ready := o.mediaReady
	cancel := o.waitCancel
	o.mu.Unlock()

	t := time.NewTimer(o.cfg.MediaWaitTimeout)
	defer t.Stop()
	select {
	case <-ready:
		return nil
	case <-cancel:
		return errMatchTornDown
	case <-t.C:
		return core.ErrMediaNotReady
	}
}

func (o *Orchestrator) onLocalCandidate(gen uint64, peerID string, c core.CandidateInit) {
	o.mu.Lock()
	s := o.session
	live := s != nil && s.generation == gen && !s.closed
	o.mu.Unlock()
	if !live {
		return
	}
	if err := o.cfg.Signaler.SendCandidate(peerID, c); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", peerID).Msg("candidate send failed")
	}
}

func (o *Orchestrator) onTransportState(gen uint64, st core.TransportState) {
	o.mu.Lock()
	s := o.session
	if s == nil || s.generation != gen || s.closed {
		o.mu.Unlock()
		return
	}
	switch st {
	case core.TransportConnected:
		if o.state == StateNegotiating {
			o.state = StateConnected
			o.mu.Unlock()
			o.emitState(StateConnected)
			return
		}
		o.mu.Unlock()
	case core.TransportFailed, core.TransportClosed, core.TransportDisconnected:
		peer := s.peerID
		changed := o.teardownLocked()
		o.mu.Unlock()
		if changed {
			o.emitState(StateClosed)
			o.emitError(&core.TransportFailure{PeerID: peer, State: st})
		}
	default:
		o.mu.Unlock()
	}
}

// onRemoteTrack schedules surfacing of the remote stream after the
// debounce. A newer track restarts the timer; teardown or supersession
// stops it, so a stale timer can never fire into a dead session.
func (o *Orchestrator) onRemoteTrack(gen uint64, h core.MediaHandle) {
	o.mu.Lock()
	s := o.session
	if s == nil || s.generation != gen || s.closed {
		o.mu.Unlock()
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(o.cfg.StreamDebounce, func() {
		o.surfaceRemote(gen, h)
	})
	o.mu.Unlock()
}

func (o *Orchestrator) surfaceRemote(gen uint64, h core.MediaHandle) {
	o.mu.Lock()
	s := o.session
	if s == nil || s.generation != gen || s.closed {
		o.mu.Unlock()
		return
	}
	o.remote = h
	o.mu.Unlock()
	if cb := o.cfg.OnRemoteMedia; cb != nil {
		cb(h)
	}
}

// fail tears the session down and reports the cause. The orchestrator
// itself survives; resuming search is an explicit caller action.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	changed := o.teardownLocked()
	o.mu.Unlock()
	if changed {
		o.emitState(StateClosed)
	}
	log.Warn().Err(err).Str("module", "orch").Str("id", o.cfg.LocalID).Msg("session failed")
	o.emitError(err)
}

// teardownLocked releases the session, clears the authorization map and
// the remote media reference, and moves to Closed. Reports false when
// there was nothing left to release, so concurrent teardowns coalesce.
func (o *Orchestrator) teardownLocked() bool {
	if o.state == StateClosed && o.session == nil {
		return false
	}
	o.closeSessionLocked()
	o.allowed = make(map[string]struct{})
	if o.waitCancel != nil {
		close(o.waitCancel)
		o.waitCancel = nil
	}
	o.remote = nil
	o.state = StateClosed
	return true
}

func (o *Orchestrator) closeSessionLocked() {
	if o.session != nil {
		o.session.close()
		o.session = nil
	}
}

func (o *Orchestrator) emitState(s State) {
	if cb := o.cfg.OnState; cb != nil {
		cb(s)
	}
}

func (o *Orchestrator) emitError(err error) {
	if cb := o.cfg.OnError; cb != nil {
		cb(err)
	}
}
