package core

import (
	"errors"
	"fmt"
)

var (
	// Media acquisition causes, wrapped by MediaAcquisitionError.
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrDeviceBusy               = errors.New("device busy")
	ErrConstraintsUnsatisfiable = errors.New("constraints unsatisfiable")

	// ErrMediaNotReady means the local media handle did not become
	// available within the bounded wait after a match was found.
	ErrMediaNotReady = errors.New("local media not ready")

	// ErrUnauthorizedPeer marks a signaling message whose sender is not
	// the current partner. Logged and dropped, never fatal.
	ErrUnauthorizedPeer = errors.New("message from unmatched peer")

	// ErrQueueInvariant indicates a duplicate id in the waiting queue.
	// Removal-before-insert makes this unreachable; observing it is a bug.
	ErrQueueInvariant = errors.New("waiting queue invariant violated")
)

// MediaAcquisitionError reports a failure to obtain the local media
// handle. Not retried; resuming search is an explicit caller action.
type MediaAcquisitionError struct {
	Cause error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Cause)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Cause }

// NegotiationError reports a malformed description or an invalid
// negotiation sub-state transition. The affected session is torn down.
type NegotiationError struct {
	PeerID string
	Reason string
	Cause  error
}

func (e *NegotiationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("negotiation with %s failed: %s: %v", e.PeerID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("negotiation with %s failed: %s", e.PeerID, e.Reason)
}

func (e *NegotiationError) Unwrap() error { return e.Cause }

// TransportFailure reports that the underlying peer transport failed or
// closed. The affected session is torn down.
type TransportFailure struct {
	PeerID string
	State  TransportState
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("peer transport to %s entered state %s", e.PeerID, e.State)
}
