package screening

import (
	"math"
	"sort"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// Computation is the full output of one screening pass: derived metrics plus
// the 1-5 score breakdown.
type Computation struct {
	Metrics model.ComputedMetrics
	Scores  model.ScoreBreakdown
}

// financialMetricKeys and qualitativeMetricKeys are the seven required
// scoring components. A nil score for any of them marks the run provisional.
var (
	financialMetricKeys   = []string{"cap_rate", "yield_on_cost", "cash_on_cash", "dscr"}
	qualitativeMetricKeys = []string{"tenant_credit", "asset_condition", "market_dynamics"}
)

// LoanConstant computes the annual debt service per dollar of principal for
// an amortizing loan. A nominal rate <= 0 degrades to straight-line 1/years,
// which avoids the division by zero in the annuity factor.
func LoanConstant(annualRate float64, amortYears int) float64 {
	if amortYears <= 0 {
		return 0
	}
	if annualRate <= 0 {
		return 1.0 / float64(amortYears)
	}
	monthlyRate := annualRate / 12.0
	periods := float64(amortYears * 12)
	pow := math.Pow(1.0+monthlyRate, periods)
	return (monthlyRate * pow / (pow - 1.0)) * 12.0
}

// Compute maps a playbook snapshot and normalized inputs to derived metrics
// and a 1-5 score breakdown. It is deterministic and side-effect-free:
// identical inputs always produce identical outputs, which makes queue-driven
// recomputation idempotent.
//
// Stabilized NOI is preferred for cap-rate and yield scoring; in-place NOI is
// preferred for cash-flow metrics. Missing values are excluded from group
// averages, never penalized, and a hard filter only trips when its underlying
// value is present.
func Compute(playbook model.PlaybookSettings, inputs Inputs) Computation {
	missing := newMissingSet()

	priceBasis := inputs.PriceBasis
	if priceBasis == nil {
		missing.add(KeyPriceBasis)
	}
	squareFeet := inputs.SquareFeet
	if squareFeet == nil {
		missing.add(KeySquareFeet)
	}
	noiInPlace := inputs.NOIInPlace
	if noiInPlace == nil {
		missing.add(KeyNOIInPlace)
	}
	noiStabilized := inputs.NOIStabilized
	if noiStabilized == nil {
		missing.add(KeyNOIStabilized)
	}

	noiForCap := coalesce(noiStabilized, noiInPlace)
	noiForCashflow := coalesce(noiInPlace, noiStabilized)

	capRateInPlace := safeDiv(noiInPlace, priceBasis)
	capRateStabilized := safeDiv(noiStabilized, priceBasis)
	capRateUsed := safeDiv(noiForCap, priceBasis)

	debt := playbook.DebtTemplate
	closing := playbook.ClosingCosts

	var loanAmount, lc, annualDebtService *float64
	if priceBasis != nil {
		loanAmount = ptr(*priceBasis * debt.LTV)
		lc = ptr(LoanConstant(debt.InterestRate, debt.AmortYears))
		annualDebtService = ptr(*loanAmount * *lc)
	}

	totalCost := inputs.TotalProjectCost
	if totalCost == nil && priceBasis != nil && loanAmount != nil {
		// Provisional total cost from plan defaults: price + closing + DD +
		// debt fees.
		debtFees := *loanAmount * debt.DebtFeeRate
		totalCost = ptr(*priceBasis +
			*priceBasis*closing.LegalPct +
			*priceBasis*closing.TitlePct +
			closing.DueDiligenceFlat +
			debtFees)
	}

	var equity *float64
	if totalCost != nil && loanAmount != nil {
		equity = ptr(*totalCost - *loanAmount)
	}

	var reserves *float64
	if squareFeet != nil {
		reserves = ptr(*squareFeet * playbook.Reserves.CapexReservePerSFYear)
	}

	var noiAfterReserves *float64
	if noiForCashflow != nil && reserves != nil {
		noiAfterReserves = ptr(*noiForCashflow - *reserves)
	}

	dscr := safeDiv(noiAfterReserves, annualDebtService)
	yieldOnCost := safeDiv(noiForCap, totalCost)

	var yieldSpread *float64
	if yieldOnCost != nil && lc != nil {
		yieldSpread = ptr(*yieldOnCost - *lc)
	}

	var cashFlowAfterDebt *float64
	if noiAfterReserves != nil && annualDebtService != nil {
		cashFlowAfterDebt = ptr(*noiAfterReserves - *annualDebtService)
	}
	var cashOnCash *float64
	if cashFlowAfterDebt != nil && equity != nil && *equity > 0 {
		cashOnCash = ptr(*cashFlowAfterDebt / *equity)
	}

	// Qualitative inputs arrive on a 1-5 scale; clamp into range. Missing or
	// non-numeric values are recorded and excluded, not defaulted.
	qualScores := map[string]*float64{}
	for _, q := range []struct {
		key string
		raw *float64
	}{
		{"tenant_credit", inputs.TenantCreditScore},
		{"asset_condition", inputs.AssetConditionScore},
		{"market_dynamics", inputs.MarketDynamicsScore},
	} {
		if q.raw == nil {
			missing.add(q.key)
			qualScores[q.key] = nil
			continue
		}
		qualScores[q.key] = ptr(clamp(*q.raw, 1.0, 5.0))
	}

	bands := playbook.ScoringBands
	metricValues := map[string]*float64{
		"cap_rate_in_place":   capRateInPlace,
		"cap_rate_stabilized": capRateStabilized,
		"cap_rate_used":       capRateUsed,
		"yield_on_cost":       yieldOnCost,
		"yield_spread":        yieldSpread,
		"cash_on_cash":        cashOnCash,
		"dscr":                dscr,
		"loan_constant":       lc,
	}

	metricScores := map[string]*float64{
		"cap_rate":      scoreFromBands(capRateUsed, bands.CapRate),
		"yield_on_cost": scoreFromBands(yieldOnCost, bands.YieldOnCost),
		"cash_on_cash":  scoreFromBands(cashOnCash, bands.CashOnCash),
		"dscr":          scoreFromBands(dscr, bands.DSCR),
	}
	for k, v := range qualScores {
		metricScores[k] = v
	}

	financialScore := average(collect(metricScores, financialMetricKeys))
	qualitativeScore := average(collect(metricScores, qualitativeMetricKeys))

	// Equal-weight groups when both are present; a wholly missing group does
	// not penalize the other.
	var overallScore *float64
	switch {
	case financialScore != nil && qualitativeScore != nil:
		overallScore = ptr(0.5**financialScore + 0.5**qualitativeScore)
	case financialScore != nil:
		overallScore = ptr(*financialScore)
	case qualitativeScore != nil:
		overallScore = ptr(*qualitativeScore)
	}

	isProvisional := false
	for _, key := range append(append([]string{}, financialMetricKeys...), qualitativeMetricKeys...) {
		if metricScores[key] == nil {
			isProvisional = true
			break
		}
	}

	hard := playbook.HardFilters
	var hardFilterReasons []string
	for _, check := range []struct {
		name      string
		threshold float64
		value     *float64
	}{
		{"dscr", hard.MinDSCR, dscr},
		{"cap_rate", hard.MinCapRate, capRateUsed},
		{"yield_spread", hard.MinYieldSpread, yieldSpread},
	} {
		if check.value != nil && *check.value < check.threshold {
			hardFilterReasons = append(hardFilterReasons, check.name)
		}
	}

	metrics := model.ComputedMetrics{
		PriceBasis:        round4(priceBasis),
		TotalCost:         round4(totalCost),
		LoanAmount:        round4(loanAmount),
		EquityInvested:    round4(equity),
		LoanConstant:      round4(lc),
		AnnualDebtService: round4(annualDebtService),
		AnnualReserves:    round4(reserves),
		CapRateInPlace:    round4(capRateInPlace),
		CapRateStabilized: round4(capRateStabilized),
		CapRateUsed:       round4(capRateUsed),
		NOIUsed:           round4(noiForCap),
		YieldOnCost:       round4(yieldOnCost),
		YieldSpread:       round4(yieldSpread),
		DSCR:              round4(dscr),
		CashOnCash:        round4(cashOnCash),
	}

	roundedScores := make(map[string]*float64, len(metricScores))
	for k, v := range metricScores {
		roundedScores[k] = round2(v)
	}
	roundedValues := make(map[string]*float64, len(metricValues))
	for k, v := range metricValues {
		roundedValues[k] = round4(v)
	}

	scores := model.ScoreBreakdown{
		OverallScore:      round2(overallScore),
		FinancialScore:    round2(financialScore),
		QualitativeScore:  round2(qualitativeScore),
		IsProvisional:     isProvisional,
		HardFilterFailed:  len(hardFilterReasons) > 0,
		HardFilterReasons: hardFilterReasons,
		MissingKeys:       missing.sorted(),
		MetricScores:      roundedScores,
		MetricValues:      roundedValues,
		Metrics:           metrics,
	}

	return Computation{Metrics: metrics, Scores: scores}
}

// scoreFromBands maps a value to 1-5 using ascending floor thresholds: the
// highest band whose threshold is <= value wins, and values below the first
// threshold still score 1.
func scoreFromBands(value *float64, bands []float64) *float64 {
	if value == nil || len(bands) == 0 {
		return nil
	}
	score := 1.0
	for i, threshold := range bands {
		if *value >= threshold {
			score = float64(i + 1)
		}
	}
	return &score
}

func safeDiv(numerator, denominator *float64) *float64 {
	if numerator == nil || denominator == nil || *denominator == 0 {
		return nil
	}
	return ptr(*numerator / *denominator)
}

func coalesce(first, second *float64) *float64 {
	if first != nil {
		return first
	}
	return second
}

func collect(scores map[string]*float64, keys []string) []float64 {
	var out []float64
	for _, k := range keys {
		if v := scores[k]; v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func average(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return ptr(sum / float64(len(values)))
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

func ptr(v float64) *float64 { return &v }

func round4(v *float64) *float64 { return roundPtr(v, 4) }
func round2(v *float64) *float64 { return roundPtr(v, 2) }

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	factor := math.Pow(10, float64(places))
	return ptr(math.Round(*v*factor) / factor)
}

type missingSet struct {
	seen map[string]bool
}

func newMissingSet() *missingSet {
	return &missingSet{seen: make(map[string]bool)}
}

func (m *missingSet) add(key string) {
	m.seen[key] = true
}

func (m *missingSet) sorted() []string {
	if len(m.seen) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.seen))
	for k := range m.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
