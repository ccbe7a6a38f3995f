// Package delivery sends extraction results to external sinks: the
// primary webhook with bounded retry/backoff, and the optional secondary
// record store. Each sink owns its DeliveryRecord; failures in one sink
// never touch the other's record.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/observability/metrics"
)

// WebhookConfig holds the primary sink's settings.
type WebhookConfig struct {
	URL            string
	MaxAttempts    int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
}

// Webhook posts extraction results to the configured automation endpoint.
// The underlying HTTP client's connection pool is shared infrastructure
// with no per-session state.
type Webhook struct {
	cfg     WebhookConfig
	client  *http.Client
	metrics *metrics.Metrics
}

// NewWebhook creates the primary webhook sink.
func NewWebhook(cfg WebhookConfig, m *metrics.Metrics) *Webhook {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Webhook{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: m,
	}
}

// Name identifies the sink on delivery records.
func (w *Webhook) Name() string { return "webhook" }

// Deliver posts the record's payload, retrying with exponential backoff
// up to MaxAttempts. A non-2xx response or transport error counts as a
// failed attempt. The record ends Delivered or Failed; it is never left
// Pending and never retried indefinitely.
func (w *Webhook) Deliver(ctx context.Context, rec *models.DeliveryRecord) {
	log := logging.WithSink(rec.RoomID, w.Name())

	if w.cfg.URL == "" {
		rec.Status = models.DeliveryFailed
		rec.LastError = "webhook URL not configured"
		log.Error().Msg("Webhook URL not configured")
		return
	}

	backoff := retry.WithMaxRetries(uint64(w.cfg.MaxAttempts-1), retry.NewExponential(w.cfg.InitialBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec.Attempt++
		start := time.Now()
		err := w.post(ctx, rec.Payload)
		w.metrics.RecordDeliveryAttempt(w.Name(), time.Since(start).Seconds())
		if err != nil {
			rec.LastError = err.Error()
			log.Warn().Err(err).Int("attempt", rec.Attempt).Msg("Webhook delivery attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		rec.Status = models.DeliveryFailed
		log.Error().Str("lastError", rec.LastError).Int("attempts", rec.Attempt).
			Msg("Webhook delivery failed after exhausting retries")
		return
	}

	rec.Status = models.DeliveryDelivered
	rec.LastError = ""
	log.Info().Int("attempts", rec.Attempt).Msg("Webhook delivered")
}

func (w *Webhook) post(ctx context.Context, payload models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
