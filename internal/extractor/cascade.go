package extractor

import (
	"context"
	"time"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/observability/metrics"
)

// Cascade runs the AI stage with a bounded timeout, always runs the regex
// stage, and merges per field with ai > regex > absent precedence.
// Extraction never fails the session: every AI failure mode degrades to
// an empty AI result.
type Cascade struct {
	ai      AIStage // nil when no AI credential is configured
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewCascade builds the extraction cascade. ai may be nil, in which case
// every extraction is regex-only.
func NewCascade(ai AIStage, timeout time.Duration, m *metrics.Metrics) *Cascade {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Cascade{ai: ai, timeout: timeout, metrics: m}
}

// Extract produces the session's ExtractionResult from sealed transcript
// text. Deterministic given the same transcript and stage outputs.
func (c *Cascade) Extract(ctx context.Context, transcript string) models.ExtractionResult {
	log := logging.WithComponent("extractor")

	var ai aiFields
	if c.ai != nil && transcript != "" {
		aiCtx, cancel := context.WithTimeout(ctx, c.timeout)
		fields, err := c.ai.extract(aiCtx, transcript)
		cancel()
		if err != nil {
			// ExtractionDegraded: fall back to the regex floor.
			log.Warn().Err(err).Msg("AI extraction stage degraded; regex only")
			c.metrics.RecordExtractionStage("ai", "degraded")
		} else {
			ai = fields
			c.metrics.RecordExtractionStage("ai", "ok")
		}
	} else {
		c.metrics.RecordExtractionStage("ai", "skipped")
	}

	rx := extractWithRegex(transcript)
	c.metrics.RecordExtractionStage("regex", "ok")

	return merge(ai, rx)
}

// merge applies the field-independent precedence rule. A field assigned by
// a higher-precedence source is never overwritten.
func merge(ai aiFields, rx regexFields) models.ExtractionResult {
	res := models.EmptyResult()
	res.Name = pick(ai.Name, rx.Name)
	res.Email = pick(ai.Email, rx.Email)
	res.Phone = pick(ai.Phone, rx.Phone)
	res.AppointmentDate = pick(ai.AppointmentDate, rx.AppointmentDate)
	res.AppointmentTime = pick(ai.AppointmentTime, rx.AppointmentTime)
	res.AppointmentReason = pick(ai.AppointmentReason, rx.AppointmentReason)
	return res
}

func pick(ai, rx string) models.Field {
	if ai != "" {
		return models.Field{Value: ai, Source: models.SourceAI}
	}
	if rx != "" {
		return models.Field{Value: rx, Source: models.SourceRegex}
	}
	return models.Absent
}
