// Package whisperlocal provides a local batched speech-to-text adapter
// backed by a whisper-server HTTP endpoint. Audio is buffered and
// transcribed in windows, emitting one final segment per window; the
// engine produces no interim results.
package whisperlocal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/transcriber"
)

// Config holds settings for the local engine.
type Config struct {
	ServerURL    string        // whisper-server /inference endpoint
	SampleRateHz int           // PCM sample rate of buffered audio
	FlushEvery   time.Duration // transcription window
}

// Adapter implements transcriber.Adapter over a local whisper server.
type Adapter struct {
	cfg       Config
	client    *http.Client
	speakerID string
	segments  chan models.TranscriptSegment

	mu     sync.Mutex
	buf    []byte
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ transcriber.Adapter = (*Adapter)(nil)

// New creates a new local whisper adapter for one participant.
func New(cfg Config, speakerID string) *Adapter {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	return &Adapter{
		cfg:       cfg,
		client:    &http.Client{Timeout: 60 * time.Second},
		speakerID: speakerID,
		segments:  make(chan models.TranscriptSegment, 4),
		done:      make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.flushLoop(ctx)
	return nil
}

// SendAudio buffers PCM bytes until the next transcription window.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.buf = append(a.buf, audio...)
	return nil
}

// Segments returns the transcript stream.
func (a *Adapter) Segments() <-chan models.TranscriptSegment {
	return a.segments
}

// Stop flushes any buffered audio, then closes the segment channel.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	// Final flush with a fresh context; the loop context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.flush(ctx)

	close(a.segments)
	return nil
}

func (a *Adapter) flushLoop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// flush transcribes the buffered window, emitting one final segment when
// the engine returns text. Transcription errors drop the window; the
// session continues with whatever was captured before the failure.
func (a *Adapter) flush(ctx context.Context) {
	a.mu.Lock()
	pcm := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(pcm) == 0 {
		return
	}
	started := time.Now()

	text, err := a.transcribe(ctx, pcm)
	if err != nil || strings.TrimSpace(text) == "" {
		return
	}

	seg := models.TranscriptSegment{
		Text:      strings.TrimSpace(text),
		StartedAt: started,
		IsFinal:   true,
		SpeakerID: a.speakerID,
	}
	select {
	case a.segments <- seg:
	case <-ctx.Done():
	}
}

type inferenceResponse struct {
	Text string `json:"text"`
}

// transcribe posts the window as a WAV file to the whisper server.
func (a *Adapter) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return "", err
	}
	if err := writeWAV(fw, pcm, a.cfg.SampleRateHz); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServerURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper server http %d: %s", resp.StatusCode, string(b))
	}

	var ir inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return "", err
	}
	return ir.Text, nil
}
