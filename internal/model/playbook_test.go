package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFromJSON_EmptyDocumentFallsBackToDefaults(t *testing.T) {
	for _, doc := range [][]byte{nil, {}, []byte("null")} {
		settings, err := SettingsFromJSON(doc)
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), settings)
	}
}

func TestSettingsFromJSON_PartialDocumentOverlaysDefaults(t *testing.T) {
	doc := []byte(`{"hard_filters":{"min_dscr":1.35,"min_cap_rate":0.07,"min_yield_spread":0.015}}`)

	settings, err := SettingsFromJSON(doc)
	require.NoError(t, err)

	assert.Equal(t, 1.35, settings.HardFilters.MinDSCR)
	// Everything the document omits keeps its default.
	assert.Equal(t, 0.65, settings.DebtTemplate.LTV)
	assert.Equal(t, 0.70, settings.LowConfidenceThreshold)
	assert.Equal(t, DefaultSettings().ScoringBands, settings.ScoringBands)
}

func TestSettingsFromJSON_MalformedDocument(t *testing.T) {
	_, err := SettingsFromJSON([]byte(`{"hard_filters":`))
	require.Error(t, err)
}

func TestSettingsValidate_RejectsNonAscendingBands(t *testing.T) {
	settings := DefaultSettings()
	settings.ScoringBands.DSCR = []float64{1.25, 1.25, 1.55, 1.70, 1.85}

	err := settings.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly ascending")
}

func TestSettingsValidate_RejectsWrongBandCount(t *testing.T) {
	settings := DefaultSettings()
	settings.ScoringBands.CapRate = []float64{0.07, 0.08}

	err := settings.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 5 thresholds")
}

func TestSettingsValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
}
