package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
	"github.com/telegramgrupp/project/internal/match"
	"github.com/telegramgrupp/project/internal/relay"
)

type fakeHandle struct {
	id     string
	closed int
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Close() error {
	h.closed++
	return nil
}

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	acquired int
	last     *fakeHandle
}

func (m *fakeMedia) Acquire(ctx context.Context, c core.Constraints) (core.MediaHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	m.last = &fakeHandle{id: fmt.Sprintf("local-%d", m.acquired)}
	return m.last, nil
}

// fakeTransport records every negotiation call in order so tests can
// assert how descriptions and candidates interleave.
type fakeTransport struct {
	mu     sync.Mutex
	events []string

	offers  int
	answers int
	closes  int

	failRemote bool

	onCandidate func(core.CandidateInit)
	onState     func(core.TransportState)
	onTrack     func(core.MediaHandle)
}

func (f *fakeTransport) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeTransport) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeTransport) CreateOffer() (core.SessionDescription, error) {
	f.mu.Lock()
	f.offers++
	f.mu.Unlock()
	f.record("create-offer")
	return core.SessionDescription{Type: core.SDPOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeTransport) CreateAnswer() (core.SessionDescription, error) {
	f.mu.Lock()
	f.answers++
	f.mu.Unlock()
	f.record("create-answer")
	return core.SessionDescription{Type: core.SDPAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeTransport) SetLocalDescription(desc core.SessionDescription) error {
	f.record("set-local:" + desc.Type.String())
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc core.SessionDescription) error {
	f.mu.Lock()
	fail := f.failRemote
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("malformed description")
	}
	f.record("set-remote:" + desc.Type.String())
	return nil
}

func (f *fakeTransport) AddCandidate(c core.CandidateInit) error {
	f.record("candidate:" + c.Candidate)
	return nil
}

func (f *fakeTransport) OnCandidate(fn func(core.CandidateInit)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(core.TransportState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnRemoteTrack(fn func(core.MediaHandle)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.record("close")
	return nil
}

func (f *fakeTransport) fireState(st core.TransportState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeTransport) fireTrack(h core.MediaHandle) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(h)
	}
}

func (f *fakeTransport) fireCandidate(c core.CandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// testNet wires orchestrators through a real broker and relay. Deliveries
// are queued and drained FIFO on the test goroutine, matching the ordered
// per-connection delivery of the real transport: a participant always sees
// its match notification before the partner's offer.
type testNet struct {
	broker *match.Broker
	relay  *relay.Relay

	mu         sync.Mutex
	nodes      map[string]*node
	queue      []delivery
	delivering bool
}

type delivery struct {
	to  string
	msg core.Message
}

func newTestNet() *testNet {
	n := &testNet{nodes: make(map[string]*node)}
	n.broker = match.NewBroker(n, n)
	n.relay = relay.New(n)
	return n
}

func (n *testNet) IsLive(id domain.ParticipantID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[string(id)] != nil
}

func (n *testNet) Send(id domain.ParticipantID, msg core.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[string(id)] == nil {
		return false
	}
	n.queue = append(n.queue, delivery{to: string(id), msg: msg})
	return true
}

// drain processes queued deliveries, including the ones each handler
// produces in turn. Reentrant calls are no-ops; the outermost drain
// finishes the whole cascade.
func (n *testNet) drain() {
	n.mu.Lock()
	if n.delivering {
		n.mu.Unlock()
		return
	}
	n.delivering = true
	for len(n.queue) > 0 {
		d := n.queue[0]
		n.queue = n.queue[1:]
		nd := n.nodes[d.to]
		n.mu.Unlock()
		if nd != nil {
			dispatch(nd.orch, d.msg)
		}
		n.mu.Lock()
	}
	n.delivering = false
	n.mu.Unlock()
}

func dispatch(o *Orchestrator, msg core.Message) {
	switch m := msg.(type) {
	case core.MatchFound:
		o.HandleMatchFound(m.PeerID)
	case core.Offer:
		o.HandleOffer(m.From, m.SDP)
	case core.Answer:
		o.HandleAnswer(m.From, m.SDP)
	case core.Candidate:
		o.HandleCandidate(m.From, m.Candidate)
	}
}

type node struct {
	id   string
	net  *testNet
	orch *Orchestrator

	media *fakeMedia

	mu         sync.Mutex
	transports []*fakeTransport
	states     []State
	errs       []error
	remotes    []core.MediaHandle

	offersSent  int
	answersSent int
}

// The node itself is the orchestrator's Signaler: outbound messages go
// into the shared broker/relay, then the delivery queue is drained.
func (nd *node) Search() error {
	nd.net.broker.Search(domain.ParticipantID(nd.id))
	nd.net.drain()
	return nil
}

func (nd *node) Cancel() error {
	nd.net.broker.Cancel(domain.ParticipantID(nd.id))
	return nil
}

func (nd *node) SendOffer(to, sdp string) error {
	nd.mu.Lock()
	nd.offersSent++
	nd.mu.Unlock()
	nd.net.relay.Forward(domain.ParticipantID(nd.id), core.Offer{To: to, SDP: sdp})
	nd.net.drain()
	return nil
}

func (nd *node) SendAnswer(to, sdp string) error {
	nd.mu.Lock()
	nd.answersSent++
	nd.mu.Unlock()
	nd.net.relay.Forward(domain.ParticipantID(nd.id), core.Answer{To: to, SDP: sdp})
	nd.net.drain()
	return nil
}

func (nd *node) SendCandidate(to string, c core.CandidateInit) error {
	nd.net.relay.Forward(domain.ParticipantID(nd.id), core.Candidate{To: to, Candidate: c})
	nd.net.drain()
	return nil
}

func (nd *node) lastTransport() *fakeTransport {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if len(nd.transports) == 0 {
		return nil
	}
	return nd.transports[len(nd.transports)-1]
}

func (nd *node) stateLog() []State {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	out := make([]State, len(nd.states))
	copy(out, nd.states)
	return out
}

func (n *testNet) addNode(id string, cfg Config) *node {
	nd := &node{id: id, net: n, media: &fakeMedia{}}

	cfg.LocalID = id
	cfg.Signaler = nd
	cfg.Media = nd.media
	cfg.NewTransport = func(peerID string, local core.MediaHandle) (core.PeerTransport, error) {
		ft := &fakeTransport{}
		nd.mu.Lock()
		nd.transports = append(nd.transports, ft)
		nd.mu.Unlock()
		return ft, nil
	}
	cfg.OnState = func(s State) {
		nd.mu.Lock()
		nd.states = append(nd.states, s)
		nd.mu.Unlock()
	}
	cfg.OnError = func(err error) {
		nd.mu.Lock()
		nd.errs = append(nd.errs, err)
		nd.mu.Unlock()
	}
	cfg.OnRemoteMedia = func(h core.MediaHandle) {
		nd.mu.Lock()
		nd.remotes = append(nd.remotes, h)
		nd.mu.Unlock()
	}

	o, err := New(cfg)
	if err != nil {
		panic(err)
	}
	nd.orch = o

	n.mu.Lock()
	n.nodes[id] = nd
	n.mu.Unlock()
	return nd
}

// stubSignaler records outbound calls and sends nothing anywhere. Used by
// single-orchestrator tests that drive inbound events by hand.
type stubSignaler struct {
	mu         sync.Mutex
	searches   int
	cancels    int
	offers     []string
	answers    []string
	candidates []core.CandidateInit
}

func (s *stubSignaler) Search() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	return nil
}

func (s *stubSignaler) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *stubSignaler) SendOffer(to, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, to)
	return nil
}

func (s *stubSignaler) SendAnswer(to, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, to)
	return nil
}

func (s *stubSignaler) SendCandidate(to string, c core.CandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *stubSignaler) sentCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates)
}

type standalone struct {
	orch  *Orchestrator
	sig   *stubSignaler
	media *fakeMedia

	mu         sync.Mutex
	transports []*fakeTransport
	states     []State
	errs       []error
	remotes    []core.MediaHandle
}

func newStandalone(id string, tweak func(*Config)) *standalone {
	h := &standalone{sig: &stubSignaler{}, media: &fakeMedia{}}
	cfg := Config{
		LocalID:  id,
		Signaler: h.sig,
		Media:    h.media,
		NewTransport: func(peerID string, local core.MediaHandle) (core.PeerTransport, error) {
			ft := &fakeTransport{}
			h.mu.Lock()
			h.transports = append(h.transports, ft)
			h.mu.Unlock()
			return ft, nil
		},
		OnState: func(s State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
		OnRemoteMedia: func(m core.MediaHandle) {
			h.mu.Lock()
			h.remotes = append(h.remotes, m)
			h.mu.Unlock()
		},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		panic(err)
	}
	h.orch = o
	return h
}

func (h *standalone) lastTransport() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	return h.transports[len(h.transports)-1]
}

func (h *standalone) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]error, len(h.errs))
	copy(out, h.errs)
	return out
}

func (h *standalone) remoteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.remotes)
}
