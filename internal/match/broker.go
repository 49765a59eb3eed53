// Package match pairs waiting participants FIFO and tracks which
// participants are currently connected to the signaling server.
package match

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
)

// Presence answers whether a participant still has a live connection.
type Presence interface {
	IsLive(id domain.ParticipantID) bool
}

// Sender delivers a server-originated message to one participant.
// Returns false when the participant is gone or its send buffer is full;
// delivery is best-effort either way.
type Sender interface {
	Send(id domain.ParticipantID, msg core.Message) bool
}

// Broker owns the waiting queue. All state mutation happens under one
// mutex, which reproduces the serialized-event model the protocol assumes.
type Broker struct {
	mu       sync.Mutex
	queue    []domain.ParticipantID
	presence Presence
	sender   Sender
}

func NewBroker(presence Presence, sender Sender) *Broker {
	return &Broker{
		presence: presence,
		sender:   sender,
	}
}

// Search pairs the participant with the earliest waiting peer, or enqueues
// it. Re-entry is idempotent: a participant already in the queue is removed
// before anything else, so it can never appear twice.
//
// Only the head of the queue is tried. A stale head (disconnected before
// being paired) is discarded and the searcher is enqueued instead of
// scanning further; one Search call never costs more than one dequeue.
func (b *Broker) Search(id domain.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(id)

	if len(b.queue) == 0 {
		b.pushLocked(id)
		return
	}

	candidate := b.queue[0]
	b.queue = b.queue[1:]

	if !b.presence.IsLive(candidate) {
		log.Debug().
			Str("module", "match").
			Str("id", string(id)).
			Str("stale", string(candidate)).
			Msg("dropped stale head, re-queueing searcher")
		b.pushLocked(id)
		return
	}

	b.sender.Send(id, core.MatchFound{PeerID: string(candidate)})
	b.sender.Send(candidate, core.MatchFound{PeerID: string(id)})
	log.Info().
		Str("module", "match").
		Str("a", string(id)).
		Str("b", string(candidate)).
		Msg("paired")
}

// Cancel removes the participant from the queue. Idempotent: a cancel for
// a participant that is not waiting is acknowledged all the same.
func (b *Broker) Cancel(id domain.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

// Disconnect removes the participant from the queue. An already-matched
// partner is not notified here; it discovers the loss through its own
// transport failure detection, which adds detection latency.
func (b *Broker) Disconnect(id domain.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

// QueueLen reports the number of waiting participants.
func (b *Broker) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Waiting returns a snapshot of the queue in FIFO order.
func (b *Broker) Waiting() []domain.ParticipantID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ParticipantID, len(b.queue))
	copy(out, b.queue)
	return out
}

func (b *Broker) pushLocked(id domain.ParticipantID) {
	for _, q := range b.queue {
		if q == id {
			// Unreachable after removeLocked; if it fires, pairing state
			// got corrupted somewhere.
			log.Error().
				Err(core.ErrQueueInvariant).
				Str("module", "match").
				Str("id", string(id)).
				Msg("refusing duplicate enqueue")
			return
		}
	}
	b.queue = append(b.queue, id)
}

func (b *Broker) removeLocked(id domain.ParticipantID) {
	for i, q := range b.queue {
		if q == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}
