// Package models defines the data structures shared across the call pipeline.
package models

import "time"

// TranscriptSegment is one chunk of transcribed speech for a session.
// Segments with IsFinal=false are interim results that the transcriber may
// still revise; only final segments are ever appended to a session.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	StartedAt  time.Time `json:"startedAt"`
	IsFinal    bool      `json:"isFinal"`
	SpeakerID  string    `json:"speakerId"`
	Confidence float64   `json:"confidence,omitempty"`
}

// FieldSource records which extraction stage produced a field value.
type FieldSource string

const (
	SourceAI     FieldSource = "ai"
	SourceRegex  FieldSource = "regex"
	SourceAbsent FieldSource = "absent"
)

// Field is a single extracted value together with its provenance.
// An absent field has Source == SourceAbsent and an empty Value.
type Field struct {
	Value  string      `json:"value"`
	Source FieldSource `json:"source"`
}

// Absent is the zero field value.
var Absent = Field{Source: SourceAbsent}

// Set returns true if the field holds a value.
func (f Field) Set() bool {
	return f.Source != SourceAbsent && f.Source != "" && f.Value != ""
}

// Ptr returns the field value as a nullable pointer for JSON payloads.
func (f Field) Ptr() *string {
	if !f.Set() {
		return nil
	}
	v := f.Value
	return &v
}

// ExtractionResult holds the structured appointment fields pulled from a
// sealed transcript. Produced exactly once per session, immutable after.
type ExtractionResult struct {
	Name              Field `json:"name"`
	Email             Field `json:"email"`
	Phone             Field `json:"phone"`
	AppointmentDate   Field `json:"appointmentDate"`
	AppointmentTime   Field `json:"appointmentTime"`
	AppointmentReason Field `json:"appointmentReason"`
}

// Empty returns an all-absent result.
func EmptyResult() ExtractionResult {
	return ExtractionResult{
		Name:              Absent,
		Email:             Absent,
		Phone:             Absent,
		AppointmentDate:   Absent,
		AppointmentTime:   Absent,
		AppointmentReason: Absent,
	}
}

// WebhookPayload is the JSON body posted to the downstream automation
// endpoint. Absent fields serialize as null.
type WebhookPayload struct {
	Name              *string `json:"name"`
	Email             *string `json:"email"`
	Phone             *string `json:"phone"`
	AppointmentDate   *string `json:"appointment_date"`
	AppointmentTime   *string `json:"appointment_time"`
	AppointmentReason *string `json:"appointment_reason"`
	CallDuration      float64 `json:"call_duration"`
	Transcript        string  `json:"transcript"`
	ExtractedAt       string  `json:"extracted_at"`
}

// NewWebhookPayload builds the webhook body from an extraction result and
// session metadata.
func NewWebhookPayload(res ExtractionResult, transcript string, duration time.Duration, extractedAt time.Time) WebhookPayload {
	return WebhookPayload{
		Name:              res.Name.Ptr(),
		Email:             res.Email.Ptr(),
		Phone:             res.Phone.Ptr(),
		AppointmentDate:   res.AppointmentDate.Ptr(),
		AppointmentTime:   res.AppointmentTime.Ptr(),
		AppointmentReason: res.AppointmentReason.Ptr(),
		CallDuration:      duration.Seconds(),
		Transcript:        transcript,
		ExtractedAt:       extractedAt.UTC().Format(time.RFC3339),
	}
}

// DeliveryStatus is the lifecycle of one delivery record.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryRecord tracks one sink's delivery of a session's result.
// The primary webhook and the secondary record store each get their own
// record; their statuses are fully independent.
type DeliveryRecord struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"roomId"`
	Sink      string         `json:"sink"`
	Payload   WebhookPayload `json:"payload"`
	Attempt   int            `json:"attempt"`
	Status    DeliveryStatus `json:"status"`
	LastError string         `json:"lastError,omitempty"`
}
