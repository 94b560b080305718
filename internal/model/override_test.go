package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(v float64) *float64 { return &v }

func TestLatestByKey_MostRecentWins(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	overrides := []Override{
		{ID: "a", Scope: OverrideScopeField, FieldKey: "noi_in_place", ValueNumber: num(800_000), Seq: 1, CreatedAt: t0},
		{ID: "b", Scope: OverrideScopeField, FieldKey: "noi_in_place", ValueNumber: num(950_000), Seq: 2, CreatedAt: t0.Add(time.Hour)},
		{ID: "c", Scope: OverrideScopeField, FieldKey: "square_feet", ValueNumber: num(100_000), Seq: 3, CreatedAt: t0},
	}

	winners := LatestByKey(overrides, OverrideScopeField)
	require.Len(t, winners, 2)
	assert.Equal(t, "b", winners["noi_in_place"].ID)
	assert.Equal(t, "c", winners["square_feet"].ID)
}

func TestLatestByKey_TiesBrokenByInsertionSeq(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	overrides := []Override{
		{ID: "first", Scope: OverrideScopeScore, FieldKey: "overall_score", ValueNumber: num(3), Seq: 10, CreatedAt: t0},
		{ID: "second", Scope: OverrideScopeScore, FieldKey: "overall_score", ValueNumber: num(4), Seq: 11, CreatedAt: t0},
	}

	winners := LatestByKey(overrides, OverrideScopeScore)
	require.Len(t, winners, 1)
	assert.Equal(t, "second", winners["overall_score"].ID)
}

func TestLatestByKey_FiltersScope(t *testing.T) {
	overrides := []Override{
		{ID: "f", Scope: OverrideScopeField, FieldKey: "price_basis", Seq: 1, CreatedAt: time.Now()},
		{ID: "s", Scope: OverrideScopeScore, FieldKey: "overall_score", Seq: 2, CreatedAt: time.Now()},
	}

	fieldWinners := LatestByKey(overrides, OverrideScopeField)
	assert.Len(t, fieldWinners, 1)
	assert.NotContains(t, fieldWinners, "overall_score")
}

func TestFieldValueCloneForRun_IsIndependent(t *testing.T) {
	conf := 0.9
	fv := FieldValue{
		ID:          "orig",
		RunID:       "run-1",
		FieldKey:    "price_basis",
		ValueNumber: num(10_000_000),
		Confidence:  &conf,
		Citations:   []string{"om-page-3"},
	}

	clone := fv.CloneForRun("run-2")
	assert.Empty(t, clone.ID)
	assert.Equal(t, "run-2", clone.RunID)

	*clone.ValueNumber = 1
	*clone.Confidence = 0.1
	clone.Citations[0] = "changed"

	assert.Equal(t, 10_000_000.0, *fv.ValueNumber)
	assert.Equal(t, 0.9, *fv.Confidence)
	assert.Equal(t, "om-page-3", fv.Citations[0])
}
