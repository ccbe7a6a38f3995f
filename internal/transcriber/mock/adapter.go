// Package mock provides a simulated transcriber for development and tests
// without cloud credentials. It plays back scripted utterances with
// progressive partials and exactly one final segment per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/transcriber"
)

// SimulatedUtterance is one scripted utterance.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample appointment-call utterances.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Hi I'm", "Hi I'm John"},
		Final:      "Hi, I'm John Smith",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"My email is", "My email is john at"},
		Final:      "My email is john@email.com",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"I'd like an appointment", "I'd like an appointment next Tuesday"},
		Final:      "I'd like an appointment next Tuesday at 2 PM for a checkup",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you, goodbye",
		Confidence: 0.97,
	},
}

// Adapter implements transcriber.Adapter with scripted responses.
// Each audio frame advances the script: first the partials of the current
// utterance, then its final segment.
type Adapter struct {
	speakerID  string
	utterances []SimulatedUtterance
	segments   chan models.TranscriptSegment

	mu           sync.Mutex
	utterance    int
	partialIndex int
	closed       bool
}

var _ transcriber.Adapter = (*Adapter)(nil)

// New creates a mock adapter playing DefaultUtterances.
func New(speakerID string) *Adapter {
	return NewScripted(speakerID, DefaultUtterances)
}

// NewScripted creates a mock adapter playing the given script.
func NewScripted(speakerID string, utterances []SimulatedUtterance) *Adapter {
	return &Adapter{
		speakerID:  speakerID,
		utterances: utterances,
		segments:   make(chan models.TranscriptSegment, 16),
	}
}

// Start begins the mock session.
func (a *Adapter) Start(ctx context.Context) error {
	return nil
}

// SendAudio advances the script by one step per frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.utterance >= len(a.utterances) {
		return nil
	}

	utt := a.utterances[a.utterance]
	if a.partialIndex < len(utt.Partials) {
		a.emit(models.TranscriptSegment{
			Text:      utt.Partials[a.partialIndex],
			StartedAt: time.Now(),
			IsFinal:   false,
			SpeakerID: a.speakerID,
		})
		a.partialIndex++
		return nil
	}

	a.emit(models.TranscriptSegment{
		Text:       utt.Final,
		StartedAt:  time.Now(),
		IsFinal:    true,
		SpeakerID:  a.speakerID,
		Confidence: utt.Confidence,
	})
	a.utterance++
	a.partialIndex = 0
	return nil
}

// Segments returns the transcript stream.
func (a *Adapter) Segments() <-chan models.TranscriptSegment {
	return a.segments
}

// Stop ends the mock session and closes the segment channel.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.segments)
	return nil
}

func (a *Adapter) emit(seg models.TranscriptSegment) {
	select {
	case a.segments <- seg:
	default:
		// Consumer fell behind; drop rather than block the audio path.
	}
}
