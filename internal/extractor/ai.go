package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// aiFields is the structured output requested from the language model.
// Empty strings mean the model could not find the field.
type aiFields struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	AppointmentDate   string `json:"appointment_date"`
	AppointmentTime   string `json:"appointment_time"`
	AppointmentReason string `json:"appointment_reason"`
}

// AIStage is the primary extraction stage.
type AIStage interface {
	extract(ctx context.Context, transcript string) (aiFields, error)
}

// GeminiStage calls the Gemini API requesting the six appointment fields
// as structured JSON output.
type GeminiStage struct {
	client *genai.Client
	model  string
}

// NewGeminiStage creates the AI stage. Returns an error when the client
// cannot be constructed; the cascade treats a nil stage as permanently
// degraded.
func NewGeminiStage(ctx context.Context, apiKey, model string) (*GeminiStage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiStage{client: client, model: model}, nil
}

const extractionPrompt = `Extract appointment information from this call transcript.

Extract the following fields if mentioned:
- name: the caller's full name
- email: email address
- phone: phone number
- appointment_date: requested appointment date
- appointment_time: requested appointment time
- appointment_reason: reason for the appointment

Use an empty string for any field not mentioned in the transcript.

Transcript:
%s`

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":               {Type: genai.TypeString},
		"email":              {Type: genai.TypeString},
		"phone":              {Type: genai.TypeString},
		"appointment_date":   {Type: genai.TypeString},
		"appointment_time":   {Type: genai.TypeString},
		"appointment_reason": {Type: genai.TypeString},
	},
}

func (g *GeminiStage) extract(ctx context.Context, transcript string) (aiFields, error) {
	prompt := fmt.Sprintf(extractionPrompt, transcript)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	})
	if err != nil {
		return aiFields{}, fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return aiFields{}, fmt.Errorf("empty model response")
	}

	var fields aiFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return aiFields{}, fmt.Errorf("malformed model response: %w", err)
	}
	return normalize(fields), nil
}

// normalize drops the literal "null" strings some models emit in place of
// empty fields.
func normalize(f aiFields) aiFields {
	clean := func(s string) string {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	}
	f.Name = clean(f.Name)
	f.Email = clean(f.Email)
	f.Phone = clean(f.Phone)
	f.AppointmentDate = clean(f.AppointmentDate)
	f.AppointmentTime = clean(f.AppointmentTime)
	f.AppointmentReason = clean(f.AppointmentReason)
	return f
}
