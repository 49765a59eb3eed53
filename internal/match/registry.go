package match

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/core"
	"github.com/telegramgrupp/project/internal/domain"
)

// Wire is the outbound half of one participant's signaling connection.
// Owned by the adapter; the adapter must Close() it.
type Wire interface {
	TrySend(msg core.Message) error
	Close()
}

// Registry maps connected participants to their wires. It is the single
// source of liveness for the broker and the delivery table for the relay.
type Registry struct {
	mu    sync.RWMutex
	wires map[domain.ParticipantID]Wire
}

func NewRegistry() *Registry {
	return &Registry{
		wires: make(map[domain.ParticipantID]Wire),
	}
}

// Register binds a wire to the participant id. A second connection under
// the same id replaces the first; the old wire is closed.
func (r *Registry) Register(id domain.ParticipantID, w Wire) {
	r.mu.Lock()
	old := r.wires[id]
	r.wires[id] = w
	r.mu.Unlock()

	if old != nil {
		old.Close()
		log.Warn().Str("module", "match.registry").Str("id", string(id)).Msg("replaced existing wire")
	}
	log.Info().Str("module", "match.registry").Str("id", string(id)).Msg("participant connected")
}

// Unregister drops the wire if it is still the one bound to id. A stale
// wire, already replaced by a newer connection, is a no-op.
func (r *Registry) Unregister(id domain.ParticipantID, w Wire) {
	r.mu.Lock()
	cur, ok := r.wires[id]
	if !ok || cur != w {
		r.mu.Unlock()
		return
	}
	delete(r.wires, id)
	r.mu.Unlock()
	log.Info().Str("module", "match.registry").Str("id", string(id)).Msg("participant disconnected")
}

// IsLive implements Presence.
func (r *Registry) IsLive(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.wires[id]
	return ok
}

// Count reports the number of connected participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wires)
}

// Send implements Sender. A missing target or a full send buffer drops the
// message silently apart from a debug log; the relay contract is
// best-effort with no feedback to the sender.
func (r *Registry) Send(id domain.ParticipantID, msg core.Message) bool {
	r.mu.RLock()
	w, ok := r.wires[id]
	r.mu.RUnlock()

	if !ok {
		log.Debug().Str("module", "match.registry").Str("dst", string(id)).Msg("cannot forward, dst not connected")
		return false
	}
	if err := w.TrySend(msg); err != nil {
		log.Debug().Err(err).Str("module", "match.registry").Str("dst", string(id)).Msg("send dropped")
		return false
	}
	return true
}
