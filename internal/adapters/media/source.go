// Package media provides the local media source collaborator. Real device
// capture is outside the core; the shipped source synthesizes pion local
// tracks that callers feed samples into.
package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/telegramgrupp/project/internal/core"
)

// Stream is a local media handle: a bundle of attachable pion tracks.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Close() error { return nil }

// Tracks satisfies the adapter-side LocalTracks assertion.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// SampleTracks returns the writable views of the stream's tracks, for
// callers that pump media into the call.
func (s *Stream) SampleTracks() []*webrtc.TrackLocalStaticSample {
	out := make([]*webrtc.TrackLocalStaticSample, 0, len(s.tracks))
	for _, t := range s.tracks {
		if st, ok := t.(*webrtc.TrackLocalStaticSample); ok {
			out = append(out, st)
		}
	}
	return out
}

// StaticSource implements core.MediaSource with synthesized tracks.
type StaticSource struct{}

func (StaticSource) Acquire(ctx context.Context, c core.Constraints) (core.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("acquire: %w", core.ErrConstraintsUnsatisfiable)
	}

	streamID := uuid.NewString()
	s := &Stream{id: streamID}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("acquire audio: %w", err)
		}
		s.tracks = append(s.tracks, track)
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("acquire video: %w", err)
		}
		s.tracks = append(s.tracks, track)
	}
	return s, nil
}
