package model

import "time"

// ComputedMetrics holds the derived numeric outputs of a screening
// computation, rounded to 4 decimal places. Nil means the metric could not
// be computed from the available inputs.
type ComputedMetrics struct {
	PriceBasis        *float64 `json:"price_basis,omitempty"`
	TotalCost         *float64 `json:"total_cost,omitempty"`
	LoanAmount        *float64 `json:"loan_amount,omitempty"`
	EquityInvested    *float64 `json:"equity_invested,omitempty"`
	LoanConstant      *float64 `json:"loan_constant,omitempty"`
	AnnualDebtService *float64 `json:"annual_debt_service,omitempty"`
	AnnualReserves    *float64 `json:"annual_reserves,omitempty"`

	CapRateInPlace    *float64 `json:"cap_rate_in_place,omitempty"`
	CapRateStabilized *float64 `json:"cap_rate_stabilized,omitempty"`
	CapRateUsed       *float64 `json:"cap_rate_used,omitempty"`
	NOIUsed           *float64 `json:"noi_used,omitempty"`

	YieldOnCost *float64 `json:"yield_on_cost,omitempty"`
	YieldSpread *float64 `json:"yield_spread,omitempty"`
	DSCR        *float64 `json:"dscr,omitempty"`
	CashOnCash  *float64 `json:"cash_on_cash,omitempty"`
}

// ScoreBreakdown is the 1-5 scoring output for a completed run, one-to-one
// with the run. Scores are rounded to 2 decimals; nil means the group or
// metric had no computable members.
type ScoreBreakdown struct {
	RunID             string               `json:"run_id"`
	OverallScore      *float64             `json:"overall_score,omitempty"`
	FinancialScore    *float64             `json:"financial_score,omitempty"`
	QualitativeScore  *float64             `json:"qualitative_score,omitempty"`
	IsProvisional     bool                 `json:"is_provisional"`
	HardFilterFailed  bool                 `json:"hard_filter_failed"`
	HardFilterReasons []string             `json:"hard_filter_reasons,omitempty"`
	MissingKeys       []string             `json:"missing_keys,omitempty"`
	MetricScores      map[string]*float64  `json:"metric_scores,omitempty"`
	MetricValues      map[string]*float64  `json:"metric_values,omitempty"`
	Metrics           ComputedMetrics      `json:"metrics"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Clone returns a deep copy so read-time override application never mutates
// the stored breakdown.
func (sb ScoreBreakdown) Clone() ScoreBreakdown {
	out := sb
	out.OverallScore = clonePtr(sb.OverallScore)
	out.FinancialScore = clonePtr(sb.FinancialScore)
	out.QualitativeScore = clonePtr(sb.QualitativeScore)
	out.HardFilterReasons = append([]string(nil), sb.HardFilterReasons...)
	out.MissingKeys = append([]string(nil), sb.MissingKeys...)
	if sb.MetricScores != nil {
		out.MetricScores = make(map[string]*float64, len(sb.MetricScores))
		for k, v := range sb.MetricScores {
			out.MetricScores[k] = clonePtr(v)
		}
	}
	if sb.MetricValues != nil {
		out.MetricValues = make(map[string]*float64, len(sb.MetricValues))
		for k, v := range sb.MetricValues {
			out.MetricValues[k] = clonePtr(v)
		}
	}
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
