package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

func fv(key string, number float64, confidence float64) model.FieldValue {
	return model.FieldValue{
		RunID:       "run-1",
		FieldKey:    key,
		ValueNumber: &number,
		Confidence:  &confidence,
		Method:      "extracted",
	}
}

func TestXLSXExporter_WriteRun(t *testing.T) {
	dir := t.TempDir()
	e, err := NewXLSX(dir)
	require.NoError(t, err)

	overall := 3.5
	dscr := 1.61
	dscrScore := 4.0
	run := &model.ScreeningRun{
		ID:              "0c9b6e4a-run",
		ProjectID:       "gateway plaza",
		PlaybookVersion: 2,
		Trigger:         model.TriggerIntake,
		Status:          model.RunStatusComplete,
		NeedsReview:     true,
		LowConfidenceKeys: []string{"noi_in_place"},
		CreatedAt:       time.Now(),
	}
	score := model.ScoreBreakdown{
		RunID:        run.ID,
		OverallScore: &overall,
		MetricScores: map[string]*float64{"dscr": &dscrScore},
		Metrics:      model.ComputedMetrics{DSCR: &dscr},
	}
	values := []model.FieldValue{
		fv("asking_price", 10_000_000, 0.92),
		fv("noi_in_place", 850_000, 0.55),
	}

	path, err := e.WriteRun(run, values, score)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "gateway_plaza_0c9b6e4a.xlsx"), path)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)

	summary, ok := f.Sheet["Summary"]
	require.True(t, ok)
	assert.Equal(t, "Project", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "gateway plaza", summary.Rows[0].Cells[1].String())

	metrics, ok := f.Sheet["Metrics"]
	require.True(t, ok)
	assert.Equal(t, "Metric", metrics.Rows[0].Cells[0].String())

	inputs, ok := f.Sheet["Inputs"]
	require.True(t, ok)
	// Header plus one row per field value.
	assert.Len(t, inputs.Rows, 3)
	assert.Equal(t, "asking_price", inputs.Rows[1].Cells[0].String())
}

func TestXLSXExporter_RequiresRun(t *testing.T) {
	e, err := NewXLSX(t.TempDir())
	require.NoError(t, err)

	_, err = e.WriteRun(nil, nil, model.ScoreBreakdown{})
	require.Error(t, err)
}

func TestNewXLSX_RequiresDir(t *testing.T) {
	_, err := NewXLSX("")
	require.Error(t, err)
}
