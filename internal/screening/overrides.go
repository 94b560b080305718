package screening

import "github.com/blakegallagher1/gpc-cres/internal/model"

// scoreOverrideKeys are the breakdown fields a score-scope override may
// replace.
const (
	ScoreKeyOverall     = "overall_score"
	ScoreKeyFinancial   = "financial_score"
	ScoreKeyQualitative = "qualitative_score"
)

// ApplyScoreOverrides applies score-scope overrides on top of a stored
// breakdown. It is a pure read-time step: the stored base scores are never
// mutated, so a newer override created later is picked up by the next read
// without touching historical run rows.
func ApplyScoreOverrides(base model.ScoreBreakdown, overrides []model.Override) model.ScoreBreakdown {
	winners := model.LatestByKey(overrides, model.OverrideScopeScore)
	if len(winners) == 0 {
		return base.Clone()
	}

	updated := base.Clone()
	for key, target := range map[string]**float64{
		ScoreKeyOverall:     &updated.OverallScore,
		ScoreKeyFinancial:   &updated.FinancialScore,
		ScoreKeyQualitative: &updated.QualitativeScore,
	} {
		ov, ok := winners[key]
		if !ok {
			continue
		}
		if value := coerceNumeric(ov.ValueNumber, ov.ValueText); value != nil {
			*target = value
		}
	}
	return updated
}
