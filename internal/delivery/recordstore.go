package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/observability/metrics"
)

// RecordStoreConfig holds the secondary sink's Kafka settings.
type RecordStoreConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// RecordStore writes appointment records to a Kafka topic as a
// best-effort secondary sink. When disabled it runs in log-only mode:
// records are logged and marked delivered without touching Kafka.
type RecordStore struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *metrics.Metrics
}

// NewRecordStore creates the secondary record sink.
func NewRecordStore(cfg RecordStoreConfig, m *metrics.Metrics) *RecordStore {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	log := logging.Logger()
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Record store disabled, using log-only mode")
		return &RecordStore{
			topic:   cfg.Topic,
			enabled: false,
			metrics: m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
		},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Record store initialized")

	return &RecordStore{
		writer:  writer,
		topic:   cfg.Topic,
		enabled: true,
		metrics: m,
	}
}

// Name identifies the sink on delivery records.
func (s *RecordStore) Name() string { return "record_store" }

// Deliver writes the record's payload to the appointment topic, keyed by
// room so records for the same room land on the same partition. A write
// failure marks only this sink's record failed; there is no retry here,
// the primary sink owns the retry policy.
func (s *RecordStore) Deliver(ctx context.Context, rec *models.DeliveryRecord) {
	log := logging.WithSink(rec.RoomID, s.Name())
	start := time.Now()

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		rec.Status = models.DeliveryFailed
		rec.LastError = err.Error()
		log.Error().Err(err).Msg("Failed to marshal record")
		return
	}

	log.Debug().RawJSON("payload", payload).Msg("Storing appointment record")

	if !s.enabled || s.writer == nil {
		rec.Attempt = 1
		rec.Status = models.DeliveryDelivered
		return
	}

	rec.Attempt = 1
	msg := kafka.Message{
		Key:   []byte(rec.RoomID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "recordId", Value: []byte(rec.ID)},
		},
	}

	err = s.writer.WriteMessages(ctx, msg)
	s.metrics.RecordDeliveryAttempt(s.Name(), time.Since(start).Seconds())
	if err != nil {
		rec.Status = models.DeliveryFailed
		rec.LastError = err.Error()
		log.Error().Err(err).Str("topic", s.topic).Msg("Failed to write record")
		return
	}

	rec.Status = models.DeliveryDelivered
}

// Close closes the Kafka writer if one was created.
func (s *RecordStore) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
