package model

import "time"

// OverrideScope determines whether an override replaces a scoring input
// before computation or a computed score at read time.
type OverrideScope string

const (
	// OverrideScopeField replaces an extracted input value before scoring.
	OverrideScopeField OverrideScope = "field"
	// OverrideScopeScore replaces a final computed score at read time.
	OverrideScopeScore OverrideScope = "score"
)

// Override is an append-only manual correction keyed by
// (project_id, scope, field_key). Overrides never expire; the most recently
// created override per key wins.
type Override struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	Scope       OverrideScope `json:"scope"`
	FieldKey    string        `json:"field_key"`
	ValueNumber *float64      `json:"value_number,omitempty"`
	ValueText   string        `json:"value_text,omitempty"`
	// Seq is the insertion sequence assigned by the store. It breaks
	// CreatedAt ties so the winner is deterministic under concurrent writes.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Supersedes reports whether o wins over other for the same key: latest
// CreatedAt first, insertion sequence as the tie-breaker.
func (o Override) Supersedes(other Override) bool {
	if !o.CreatedAt.Equal(other.CreatedAt) {
		return o.CreatedAt.After(other.CreatedAt)
	}
	return o.Seq > other.Seq
}

// LatestByKey reduces an override list to the winning override per field key
// for the given scope.
func LatestByKey(overrides []Override, scope OverrideScope) map[string]Override {
	winners := make(map[string]Override)
	for _, ov := range overrides {
		if ov.Scope != scope || ov.FieldKey == "" {
			continue
		}
		current, ok := winners[ov.FieldKey]
		if !ok || ov.Supersedes(current) {
			winners[ov.FieldKey] = ov
		}
	}
	return winners
}
