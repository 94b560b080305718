// Package screening implements the deal screening scoring engine: input
// resolution from field values and overrides, the pure 1-5 score
// computation, and read-time score override application.
package screening

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// Canonical input keys the scoring engine understands.
const (
	KeyPriceBasis       = "price_basis"
	KeyTotalProjectCost = "total_project_cost"
	KeySquareFeet       = "square_feet"
	KeyNOIInPlace       = "noi_in_place"
	KeyNOIStabilized    = "noi_stabilized"
	KeyTenantCredit     = "tenant_credit_score"
	KeyAssetCondition   = "asset_condition_score"
	KeyMarketDynamics   = "market_dynamics_score"
)

type fieldAlias struct {
	raw       string
	canonical string
}

// fieldKeyAliases maps every accepted raw field-key spelling to its canonical
// key. Order matters: when several raw spellings for one canonical key are
// present, the earlier entry wins. Unknown raw keys are ignored by the
// resolver, never mis-mapped.
var fieldKeyAliases = []fieldAlias{
	{"price_basis", KeyPriceBasis},
	{"underwritten_price", KeyPriceBasis},
	{"asking_price", KeyPriceBasis},
	{"total_project_cost", KeyTotalProjectCost},
	{"total_cost", KeyTotalProjectCost},
	{"square_feet", KeySquareFeet},
	{"sf", KeySquareFeet},
	{"noi_in_place", KeyNOIInPlace},
	{"noi_stabilized", KeyNOIStabilized},
	{"tenant_credit", KeyTenantCredit},
	{"tenant_credit_score", KeyTenantCredit},
	{"asset_condition", KeyAssetCondition},
	{"asset_condition_score", KeyAssetCondition},
	{"market_dynamics", KeyMarketDynamics},
	{"market_dynamics_score", KeyMarketDynamics},
}

var canonicalKeys = map[string]bool{
	KeyPriceBasis:       true,
	KeyTotalProjectCost: true,
	KeySquareFeet:       true,
	KeyNOIInPlace:       true,
	KeyNOIStabilized:    true,
	KeyTenantCredit:     true,
	KeyAssetCondition:   true,
	KeyMarketDynamics:   true,
}

func init() {
	// The alias table is data; make a typo fail fast at startup rather than
	// silently dropping an input.
	seen := make(map[string]bool, len(fieldKeyAliases))
	for _, a := range fieldKeyAliases {
		if !canonicalKeys[a.canonical] {
			panic(fmt.Sprintf("screening: alias %q maps to unknown canonical key %q", a.raw, a.canonical))
		}
		if seen[a.raw] {
			panic(fmt.Sprintf("screening: duplicate alias %q", a.raw))
		}
		seen[a.raw] = true
	}
}

// Inputs is the normalized input record for one screening computation.
// Monetary inputs are annualized; percentages are decimals (7% => 0.07).
// Nil means missing, never zero.
type Inputs struct {
	PriceBasis          *float64
	TotalProjectCost    *float64
	SquareFeet          *float64
	NOIInPlace          *float64
	NOIStabilized       *float64
	TenantCreditScore   *float64
	AssetConditionScore *float64
	MarketDynamicsScore *float64
}

// ParseNumber parses heterogeneous textual numbers: currency with "$" and
// commas, percentages with "%" (divided by 100). Empty or unparseable input
// resolves to nil, never zero.
func ParseNumber(raw string) *float64 {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}
	isPercent := strings.Contains(cleaned, "%")
	replacer := strings.NewReplacer("$", "", ",", "", "%", "", " ", "")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		return nil
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	if isPercent {
		n /= 100.0
	}
	return &n
}

// coerceNumeric extracts a numeric value from a value record, preferring the
// numeric column over the text column.
func coerceNumeric(valueNumber *float64, valueText string) *float64 {
	if valueNumber != nil {
		v := *valueNumber
		return &v
	}
	if valueText != "" {
		return ParseNumber(valueText)
	}
	return nil
}

// ResolveInputs merges a run's extracted field values with the project's
// field-scope overrides into a normalized input record. An override always
// wins over an extracted value for the same raw key, regardless of extraction
// confidence. Missing canonical fields stay nil; they are never defaulted.
func ResolveInputs(fieldValues []model.FieldValue, overrides []model.Override) Inputs {
	valuesByKey := make(map[string]model.FieldValue, len(fieldValues))
	for _, fv := range fieldValues {
		if fv.FieldKey != "" {
			valuesByKey[fv.FieldKey] = fv
		}
	}
	overrideByKey := model.LatestByKey(overrides, model.OverrideScopeField)

	resolved := make(map[string]*float64, len(canonicalKeys))
	for _, a := range fieldKeyAliases {
		var value *float64
		if ov, ok := overrideByKey[a.raw]; ok {
			value = coerceNumeric(ov.ValueNumber, ov.ValueText)
		} else if fv, ok := valuesByKey[a.raw]; ok {
			value = coerceNumeric(fv.ValueNumber, fv.ValueText)
		}

		if existing, ok := resolved[a.canonical]; !ok || existing == nil {
			resolved[a.canonical] = value
		}
	}

	return Inputs{
		PriceBasis:          resolved[KeyPriceBasis],
		TotalProjectCost:    resolved[KeyTotalProjectCost],
		SquareFeet:          resolved[KeySquareFeet],
		NOIInPlace:          resolved[KeyNOIInPlace],
		NOIStabilized:       resolved[KeyNOIStabilized],
		TenantCreditScore:   resolved[KeyTenantCredit],
		AssetConditionScore: resolved[KeyAssetCondition],
		MarketDynamicsScore: resolved[KeyMarketDynamics],
	}
}

// FindLowConfidenceKeys returns the field keys whose extraction confidence is
// below threshold, excluding keys with an active field-scope override: an
// override is human-verified and never flagged for review. The result is
// sorted and de-duplicated.
func FindLowConfidenceKeys(fieldValues []model.FieldValue, threshold float64, overrides []model.Override) []string {
	overrideByKey := model.LatestByKey(overrides, model.OverrideScopeField)

	seen := make(map[string]bool)
	var keys []string
	for _, fv := range fieldValues {
		if fv.FieldKey == "" {
			continue
		}
		if _, overridden := overrideByKey[fv.FieldKey]; overridden {
			continue
		}
		if fv.Confidence == nil || *fv.Confidence >= threshold {
			continue
		}
		if !seen[fv.FieldKey] {
			seen[fv.FieldKey] = true
			keys = append(keys, fv.FieldKey)
		}
	}
	sort.Strings(keys)
	return keys
}
