package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"video-analysis-pipeline/internal/domain"
	"video-analysis-pipeline/internal/domain/model"
	"video-analysis-pipeline/internal/domain/ports/adapter"
)

// segmentPrompt is sent with every segment. It asks for material events only;
// routine activity belongs in the summary, not in events.
const segmentPrompt = `You are analyzing a %d second video segment from a monitored camera or stream.
Return a JSON object with:
- "summary": two or three sentences describing what happens in the segment.
- "tags": at most 10 short lowercase keywords.
- "entities": notable people, vehicles, animals or objects, each with "type", "name" and "confidence" between 0 and 1.
- "events": only materially significant events (safety, security, medical, traffic, operational or environmental concerns). Do not report routine activity.
  Each event has "name", "description", "severity" (Minor, Medium or High), "type" (Safety, Security, Medical, Traffic, Operational, Environmental or Other),
  "timestamp_seconds" measured from the start of the segment and lower than %d, and "affected_entity_indices" listing positions in "entities".
Return an empty events array when nothing significant happens.`

func promptFor(windowSeconds int64) string {
	return fmt.Sprintf(segmentPrompt, windowSeconds, windowSeconds)
}

// ParseSummary decodes a model response and validates it. Markdown code
// fences around the JSON are tolerated.
func ParseSummary(raw string, windowSeconds int64) (*adapter.SegmentSummary, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("empty response: %w", domain.ErrSchemaValidation)
	}
	var s adapter.SegmentSummary
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, domain.ErrSchemaValidation)
	}
	if err := Validate(&s, windowSeconds); err != nil {
		return nil, err
	}
	s.Raw = compactJSON([]byte(body))
	return &s, nil
}

// Validate checks a summary against the result schema. Nothing is coerced:
// any violation fails with domain.ErrSchemaValidation.
func Validate(s *adapter.SegmentSummary, windowSeconds int64) error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf(format+": %w", append(args, domain.ErrSchemaValidation)...)
	}
	if strings.TrimSpace(s.Summary) == "" {
		return fail("summary is empty")
	}
	if len(s.Tags) > model.MaxTags {
		return fail("%d tags, at most %d allowed", len(s.Tags), model.MaxTags)
	}
	for i, e := range s.Entities {
		if e.Confidence < 0 || e.Confidence > 1 {
			return fail("entity %d confidence %v outside [0,1]", i, e.Confidence)
		}
	}
	for i, ev := range s.Events {
		if !ev.Severity.Valid() {
			return fail("event %d severity %q", i, ev.Severity)
		}
		if !ev.Type.Valid() {
			return fail("event %d type %q", i, ev.Type)
		}
		if ev.TimestampSeconds < 0 || ev.TimestampSeconds >= float64(windowSeconds) {
			return fail("event %d timestamp %v outside [0,%d)", i, ev.TimestampSeconds, windowSeconds)
		}
		for _, idx := range ev.AffectedEntityIndices {
			if idx < 0 || idx >= len(s.Entities) {
				return fail("event %d references entity %d of %d", i, idx, len(s.Entities))
			}
		}
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Entities == nil {
		s.Entities = []model.Entity{}
	}
	if s.Events == nil {
		s.Events = []model.Event{}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func enumStrings[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

// jsonSchema is the response schema in JSON Schema form, for providers with
// strict structured output. Strict mode requires every property listed.
func jsonSchema() map[string]interface{} {
	entity := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type":       map[string]interface{}{"type": "string"},
			"name":       map[string]interface{}{"type": "string"},
			"confidence": map[string]interface{}{"type": "number"},
		},
		"required":             []string{"type", "name", "confidence"},
		"additionalProperties": false,
	}
	event := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":                    map[string]interface{}{"type": "string"},
			"description":             map[string]interface{}{"type": "string"},
			"severity":                map[string]interface{}{"type": "string", "enum": enumStrings(model.Severities)},
			"type":                    map[string]interface{}{"type": "string", "enum": enumStrings(model.EventTypes)},
			"timestamp_seconds":       map[string]interface{}{"type": "number"},
			"affected_entity_indices": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "integer"}},
		},
		"required":             []string{"name", "description", "severity", "type", "timestamp_seconds", "affected_entity_indices"},
		"additionalProperties": false,
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":  map[string]interface{}{"type": "string"},
			"tags":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"entities": map[string]interface{}{"type": "array", "items": entity},
			"events":   map[string]interface{}{"type": "array", "items": event},
		},
		"required":             []string{"summary", "tags", "entities", "events"},
		"additionalProperties": false,
	}
}

// compactJSON returns b without insignificant whitespace, or b unchanged.
func compactJSON(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return b
	}
	return buf.Bytes()
}
