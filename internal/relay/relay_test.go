package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
)

type recordingSender struct {
	sent map[domain.ParticipantID][]core.Message
	live map[domain.ParticipantID]bool
}

func newRecordingSender(live ...domain.ParticipantID) *recordingSender {
	s := &recordingSender{
		sent: make(map[domain.ParticipantID][]core.Message),
		live: make(map[domain.ParticipantID]bool),
	}
	for _, id := range live {
		s.live[id] = true
	}
	return s
}

func (s *recordingSender) Send(id domain.ParticipantID, msg core.Message) bool {
	if !s.live[id] {
		return false
	}
	s.sent[id] = append(s.sent[id], msg)
	return true
}

func TestForwardSubstitutesVerifiedSender(t *testing.T) {
	sender := newRecordingSender("bob")
	r := New(sender)

	r.Forward("alice", core.Offer{From: "mallory", To: "bob", SDP: "sdp-1"})

	require.Len(t, sender.sent["bob"], 1)
	offer, ok := sender.sent["bob"][0].(core.Offer)
	require.True(t, ok)
	assert.Equal(t, "alice", offer.From, "relay must overwrite the claimed sender")
	assert.Equal(t, "sdp-1", offer.SDP)
}

func TestForwardAnswerAndCandidate(t *testing.T) {
	sender := newRecordingSender("alice")
	r := New(sender)

	r.Forward("bob", core.Answer{To: "alice", SDP: "sdp-a"})
	mid := "0"
	r.Forward("bob", core.Candidate{To: "alice", Candidate: core.CandidateInit{Candidate: "cand", SDPMid: &mid}})

	require.Len(t, sender.sent["alice"], 2)
	answer := sender.sent["alice"][0].(core.Answer)
	assert.Equal(t, "bob", answer.From)
	cand := sender.sent["alice"][1].(core.Candidate)
	assert.Equal(t, "bob", cand.From)
	assert.Equal(t, "cand", cand.Candidate.Candidate)
}

func TestForwardDropsSilentlyWhenTargetGone(t *testing.T) {
	sender := newRecordingSender() // nobody connected
	r := New(sender)

	// must not panic, must not buffer, nothing to assert beyond no delivery
	r.Forward("alice", core.Offer{To: "bob", SDP: "sdp"})
	r.Forward("alice", core.Candidate{To: "", Candidate: core.CandidateInit{Candidate: "c"}})
	assert.Empty(t, sender.sent)
}

func TestForwardIgnoresNonRelayableMessages(t *testing.T) {
	sender := newRecordingSender("bob")
	r := New(sender)

	r.Forward("alice", core.MatchFound{PeerID: "bob"})
	r.Forward("alice", core.Search{})
	assert.Empty(t, sender.sent, "server-originated and queue messages are not relayed")
}
