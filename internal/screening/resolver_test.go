package screening

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"plain integer", "1200000", num(1_200_000)},
		{"currency with commas", "$10,000,000", num(10_000_000)},
		{"currency with spaces", "$ 1,250,000 ", num(1_250_000)},
		{"percentage", "7.5%", num(0.075)},
		{"negative", "-250000", num(-250_000)},
		{"decimal", "0.65", num(0.65)},
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"symbols only", "$,%", nil},
		{"malformed", "twelve", nil},
		{"mixed garbage", "12abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumber(tt.raw)
			if tt.want == nil {
				assert.Nil(t, got, "unparseable input must resolve to missing, not zero")
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestResolveInputs_AliasesMapToCanonicalKeys(t *testing.T) {
	inputs := ResolveInputs([]model.FieldValue{
		{RunID: "r1", FieldKey: "asking_price", ValueText: "$10,000,000"},
		{RunID: "r1", FieldKey: "sf", ValueNumber: num(100_000)},
		{RunID: "r1", FieldKey: "tenant_credit", ValueNumber: num(4)},
	}, nil)

	require.NotNil(t, inputs.PriceBasis)
	assert.InDelta(t, 10_000_000, *inputs.PriceBasis, 1e-9)
	require.NotNil(t, inputs.SquareFeet)
	assert.InDelta(t, 100_000, *inputs.SquareFeet, 1e-9)
	require.NotNil(t, inputs.TenantCreditScore)
	assert.Equal(t, 4.0, *inputs.TenantCreditScore)
}

func TestResolveInputs_CanonicalSpellingWinsOverAlias(t *testing.T) {
	inputs := ResolveInputs([]model.FieldValue{
		{RunID: "r1", FieldKey: "asking_price", ValueNumber: num(9_000_000)},
		{RunID: "r1", FieldKey: "price_basis", ValueNumber: num(10_000_000)},
	}, nil)

	require.NotNil(t, inputs.PriceBasis)
	assert.Equal(t, 10_000_000.0, *inputs.PriceBasis)
}

func TestResolveInputs_UnknownKeysIgnored(t *testing.T) {
	inputs := ResolveInputs([]model.FieldValue{
		{RunID: "r1", FieldKey: "zoning_class", ValueText: "M-1"},
		{RunID: "r1", FieldKey: "noi_in_place", ValueNumber: num(900_000)},
	}, nil)

	require.NotNil(t, inputs.NOIInPlace)
	assert.Nil(t, inputs.TotalProjectCost)
}

func TestResolveInputs_OverrideWinsRegardlessOfConfidence(t *testing.T) {
	highConf := 0.99
	inputs := ResolveInputs(
		[]model.FieldValue{
			{RunID: "r1", FieldKey: "noi_in_place", ValueNumber: num(900_000), Confidence: &highConf},
		},
		[]model.Override{
			{ProjectID: "p1", Scope: model.OverrideScopeField, FieldKey: "noi_in_place", ValueNumber: num(750_000), Seq: 1, CreatedAt: time.Now()},
		},
	)

	require.NotNil(t, inputs.NOIInPlace)
	assert.Equal(t, 750_000.0, *inputs.NOIInPlace)
}

func TestResolveInputs_UnparseableValueStaysMissing(t *testing.T) {
	inputs := ResolveInputs([]model.FieldValue{
		{RunID: "r1", FieldKey: "square_feet", ValueText: "approx one hundred thousand"},
	}, nil)

	assert.Nil(t, inputs.SquareFeet, "unparseable must be missing, never zero")
}

func TestFindLowConfidenceKeys(t *testing.T) {
	low, high := 0.40, 0.95

	keys := FindLowConfidenceKeys([]model.FieldValue{
		{RunID: "r1", FieldKey: "noi_in_place", Confidence: &low},
		{RunID: "r1", FieldKey: "square_feet", Confidence: &high},
		{RunID: "r1", FieldKey: "asking_price", Confidence: &low},
		{RunID: "r1", FieldKey: "tenant_credit"}, // no confidence recorded
	}, 0.70, nil)

	assert.Equal(t, []string{"asking_price", "noi_in_place"}, keys)
}

func TestFindLowConfidenceKeys_OverriddenKeysExcluded(t *testing.T) {
	low := 0.20

	keys := FindLowConfidenceKeys(
		[]model.FieldValue{
			{RunID: "r1", FieldKey: "noi_in_place", Confidence: &low},
			{RunID: "r1", FieldKey: "square_feet", Confidence: &low},
		},
		0.70,
		[]model.Override{
			{ProjectID: "p1", Scope: model.OverrideScopeField, FieldKey: "noi_in_place", ValueNumber: num(1), Seq: 1, CreatedAt: time.Now()},
		},
	)

	// An overridden key is human-verified and never flagged.
	assert.Equal(t, []string{"square_feet"}, keys)
}
