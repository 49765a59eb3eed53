// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxParticipantIDLen = 64

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

// ParticipantID is an opaque unique id. Ids are drawn from a space with a
// strict total order (plain string comparison); role election during
// negotiation depends on that, so ids must never collide.
type ParticipantID string

// ParseParticipantID validates an id received from the outside, such as a
// client token.
func ParseParticipantID(s string) (ParticipantID, error) {
	if s == "" {
		return "", ErrParticipantIDEmpty
	}
	if len(s) > MaxParticipantIDLen {
		return "", ErrParticipantIDTooLong
	}
	return ParticipantID(s), nil
}

// Less is the total order used to elect the offerer of a match.
func (id ParticipantID) Less(other ParticipantID) bool { return id < other }

// Participant exists from connection until disconnect.
type Participant struct {
	ID ParticipantID `json:"id"`
}

// NewParticipant mints a participant with a fresh unique id.
func NewParticipant() *Participant {
	return &Participant{ID: ParticipantID(uuid.NewString())}
}
