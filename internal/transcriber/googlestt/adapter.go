// Package googlestt provides a Google Cloud Speech-to-Text adapter.
package googlestt

import (
	"context"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/transcriber"
)

// Config holds recognition settings for the streaming session.
type Config struct {
	LanguageCode string
	SampleRateHz int
}

// Adapter implements transcriber.Adapter using Google Cloud Speech-to-Text
// streaming recognition.
type Adapter struct {
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	cfg       Config
	speakerID string
	segments  chan models.TranscriptSegment
}

var _ transcriber.Adapter = (*Adapter)(nil)

// New creates a new Google STT adapter for one participant.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set in the environment.
func New(ctx context.Context, cfg Config, speakerID string) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client:    c,
		cfg:       cfg,
		speakerID: speakerID,
		segments:  make(chan models.TranscriptSegment, 16),
	}, nil
}

// Start begins a streaming recognition session and sends the initial config.
// Responses are pumped onto the Segments channel until the stream ends.
func (a *Adapter) Start(ctx context.Context) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	a.stream = stream

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(a.cfg.SampleRateHz),
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		return err
	}

	go a.listen()
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Segments returns the transcript stream.
func (a *Adapter) Segments() <-chan models.TranscriptSegment {
	return a.segments
}

// Stop half-closes the stream; listen drains remaining responses and then
// closes the segment channel.
func (a *Adapter) Stop() error {
	if a.stream != nil {
		return a.stream.CloseSend()
	}
	close(a.segments)
	return nil
}

// listen receives transcript responses from Google and converts them into
// segments. Runs until the stream errors or is closed.
func (a *Adapter) listen() {
	defer close(a.segments)

	for {
		resp, err := a.stream.Recv()
		if err != nil {
			// Stream end (io.EOF after CloseSend) or backend error; either
			// way the session continues with what was captured so far.
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			a.segments <- models.TranscriptSegment{
				Text:       alt.Transcript,
				StartedAt:  time.Now(),
				IsFinal:    r.IsFinal,
				SpeakerID:  a.speakerID,
				Confidence: float64(alt.Confidence),
			}
		}
	}
}
