package model

import (
	"encoding/json"
	"time"
)

// FieldValue is one extracted or manually entered datum for a screening run,
// keyed uniquely by (run_id, field_key). Each run owns a private clone of its
// predecessor's values, so recomputing one run cannot corrupt another.
type FieldValue struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	FieldKey    string          `json:"field_key"`
	ValueNumber *float64        `json:"value_number,omitempty"`
	ValueText   string          `json:"value_text,omitempty"`
	ValueJSON   json.RawMessage `json:"value_json,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	Method      string          `json:"method,omitempty"`
	Citations   []string        `json:"citations,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CloneForRun copies a field value into a new run, dropping row identity so
// the store assigns a fresh id on upsert.
func (fv FieldValue) CloneForRun(runID string) FieldValue {
	clone := fv
	clone.ID = ""
	clone.RunID = runID
	if fv.ValueNumber != nil {
		v := *fv.ValueNumber
		clone.ValueNumber = &v
	}
	if fv.Confidence != nil {
		c := *fv.Confidence
		clone.Confidence = &c
	}
	if fv.ValueJSON != nil {
		clone.ValueJSON = append(json.RawMessage(nil), fv.ValueJSON...)
	}
	if fv.Citations != nil {
		clone.Citations = append([]string(nil), fv.Citations...)
	}
	return clone
}
