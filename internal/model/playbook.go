package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Playbook is a versioned set of screening parameters. Versions are immutable
// once created; exactly one version is active at a time and every run
// snapshots the settings it was computed with.
type Playbook struct {
	ID        string           `json:"id"`
	Version   int              `json:"version"`
	Settings  PlaybookSettings `json:"settings"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
}

// PlaybookSettings holds the tunable parameters of the scoring engine.
type PlaybookSettings struct {
	// LowConfidenceThreshold flags extracted inputs whose confidence falls
	// below it, marking the run for review.
	LowConfidenceThreshold float64      `json:"low_confidence_threshold" yaml:"low_confidence_threshold"`
	HardFilters            HardFilters  `json:"hard_filters" yaml:"hard_filters"`
	DebtTemplate           DebtTemplate `json:"debt_template" yaml:"debt_template"`
	ClosingCosts           ClosingCosts `json:"closing_costs" yaml:"closing_costs"`
	Reserves               Reserves     `json:"reserves" yaml:"reserves"`
	ScoringBands           ScoringBands `json:"scoring_bands" yaml:"scoring_bands"`
}

// HardFilters are minimum-threshold screens. A filter only trips when its
// underlying metric could be computed; missing data never fails a filter.
type HardFilters struct {
	MinDSCR        float64 `json:"min_dscr" yaml:"min_dscr"`
	MinCapRate     float64 `json:"min_cap_rate" yaml:"min_cap_rate"`
	MinYieldSpread float64 `json:"min_yield_spread" yaml:"min_yield_spread"`
}

// DebtTemplate is the assumed financing plan used when a deal has no explicit
// debt terms.
type DebtTemplate struct {
	LTV          float64 `json:"ltv" yaml:"ltv"`
	InterestRate float64 `json:"interest_rate" yaml:"interest_rate"`
	AmortYears   int     `json:"amort_years" yaml:"amort_years"`
	IOYears      int     `json:"io_years" yaml:"io_years"`
	DebtFeeRate  float64 `json:"debt_fee_rate" yaml:"debt_fee_rate"`
}

// ClosingCosts parameterizes the provisional total-cost derivation used when
// no explicit total project cost is provided.
type ClosingCosts struct {
	LegalPct         float64 `json:"legal_pct" yaml:"legal_pct"`
	TitlePct         float64 `json:"title_pct" yaml:"title_pct"`
	DueDiligenceFlat float64 `json:"due_diligence_flat" yaml:"due_diligence_flat"`
}

// Reserves parameterizes annual capital-expenditure reserves.
type Reserves struct {
	CapexReservePerSFYear float64 `json:"capex_reserve_per_sf_year" yaml:"capex_reserve_per_sf_year"`
}

// ScoringBands maps metric values to 1-5 scores via ascending floor
// thresholds: threshold[i] is the floor for score i+1, and values below the
// first threshold score 1.
type ScoringBands struct {
	CapRate     []float64 `json:"cap_rate" yaml:"cap_rate"`
	DSCR        []float64 `json:"dscr" yaml:"dscr"`
	YieldOnCost []float64 `json:"yield_on_cost" yaml:"yield_on_cost"`
	CashOnCash  []float64 `json:"cash_on_cash" yaml:"cash_on_cash"`
	YieldSpread []float64 `json:"yield_spread" yaml:"yield_spread"`
}

// DefaultSettings returns the standard screening parameters applied when a
// playbook document omits a section.
func DefaultSettings() PlaybookSettings {
	return PlaybookSettings{
		LowConfidenceThreshold: 0.70,
		HardFilters: HardFilters{
			MinDSCR:        1.25,
			MinCapRate:     0.07,
			MinYieldSpread: 0.015,
		},
		DebtTemplate: DebtTemplate{
			LTV:          0.65,
			InterestRate: 0.07,
			AmortYears:   25,
			IOYears:      0,
			DebtFeeRate:  0.01,
		},
		ClosingCosts: ClosingCosts{
			LegalPct:         0.005,
			TitlePct:         0.003,
			DueDiligenceFlat: 25000,
		},
		Reserves: Reserves{
			CapexReservePerSFYear: 0.25,
		},
		ScoringBands: ScoringBands{
			CapRate:     []float64{0.07, 0.08, 0.09, 0.10, 0.11},
			DSCR:        []float64{1.25, 1.40, 1.55, 1.70, 1.85},
			YieldOnCost: []float64{0.06, 0.08, 0.10, 0.12, 0.14},
			CashOnCash:  []float64{0.06, 0.08, 0.10, 0.12, 0.14},
			YieldSpread: []float64{0.015, 0.020, 0.025, 0.030, 0.035},
		},
	}
}

// SettingsFromJSON decodes a playbook settings document, overlaying it on the
// defaults so partial documents are valid. A nil, empty, or JSON-null
// document yields the defaults unchanged.
func SettingsFromJSON(doc []byte) (PlaybookSettings, error) {
	settings := DefaultSettings()
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return settings, nil
	}
	if err := json.Unmarshal(trimmed, &settings); err != nil {
		return PlaybookSettings{}, eris.Wrap(err, "model: decode playbook settings")
	}
	if err := settings.Validate(); err != nil {
		return PlaybookSettings{}, err
	}
	return settings, nil
}

// Validate rejects settings that would make scoring produce nonsense.
func (s PlaybookSettings) Validate() error {
	if s.LowConfidenceThreshold < 0 || s.LowConfidenceThreshold > 1 {
		return eris.Errorf("model: low_confidence_threshold %v outside [0, 1]", s.LowConfidenceThreshold)
	}
	if s.DebtTemplate.LTV < 0 || s.DebtTemplate.LTV > 1 {
		return eris.Errorf("model: debt ltv %v outside [0, 1]", s.DebtTemplate.LTV)
	}
	if s.DebtTemplate.AmortYears <= 0 {
		return eris.Errorf("model: amort_years %d must be positive", s.DebtTemplate.AmortYears)
	}
	if s.DebtTemplate.IOYears < 0 {
		return eris.Errorf("model: io_years %d must not be negative", s.DebtTemplate.IOYears)
	}
	if s.Reserves.CapexReservePerSFYear < 0 {
		return eris.Errorf("model: capex_reserve_per_sf_year %v must not be negative", s.Reserves.CapexReservePerSFYear)
	}
	for _, bands := range []struct {
		name       string
		thresholds []float64
	}{
		{"cap_rate", s.ScoringBands.CapRate},
		{"dscr", s.ScoringBands.DSCR},
		{"yield_on_cost", s.ScoringBands.YieldOnCost},
		{"cash_on_cash", s.ScoringBands.CashOnCash},
		{"yield_spread", s.ScoringBands.YieldSpread},
	} {
		if len(bands.thresholds) != 5 {
			return eris.Errorf("model: scoring band %s requires exactly 5 thresholds, got %d", bands.name, len(bands.thresholds))
		}
		for i := 1; i < len(bands.thresholds); i++ {
			if bands.thresholds[i] <= bands.thresholds[i-1] {
				return eris.Errorf("model: scoring band %s thresholds must be strictly ascending", bands.name)
			}
		}
	}
	return nil
}
