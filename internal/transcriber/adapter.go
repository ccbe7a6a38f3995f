// Package transcriber defines the capability interface for speech-to-text
// backends. One adapter instance serves one call session; callers never
// branch on which backend is behind the interface.
package transcriber

import (
	"context"

	"call-appointment-pipeline/internal/models"
)

// Adapter is a speech-to-text backend bound to a single session.
//
// Streaming backends may emit the same utterance as several interim
// segments before a final one; consumers must treat segments with
// IsFinal=false as transient. Segments() is closed when the backend
// finishes, either after Stop or on a fatal backend error.
type Adapter interface {
	// Start begins the transcription session.
	Start(ctx context.Context) error

	// SendAudio feeds PCM audio bytes to the backend.
	SendAudio(ctx context.Context, audio []byte) error

	// Segments returns the stream of transcript segments.
	Segments() <-chan models.TranscriptSegment

	// Stop ends the session, flushes pending audio and closes Segments.
	Stop() error
}

// Factory creates one adapter per call session.
type Factory func(ctx context.Context, roomID, participantID string) (Adapter, error)
