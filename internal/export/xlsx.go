// Package export renders completed screening runs to XLSX workbooks for the
// deal committee.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// XLSXExporter writes one workbook per export job into a target directory.
type XLSXExporter struct {
	dir string
}

// NewXLSX creates an exporter rooted at dir, creating it if needed.
func NewXLSX(dir string) (*XLSXExporter, error) {
	if dir == "" {
		return nil, eris.New("export: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create directory %s", dir)
	}
	return &XLSXExporter{dir: dir}, nil
}

// WriteRun renders a run's final scores, derived metrics, and resolved inputs
// into a three-sheet workbook and returns the written file path. The score
// passed in should already have read-time score overrides applied.
func (e *XLSXExporter) WriteRun(run *model.ScreeningRun, values []model.FieldValue, score model.ScoreBreakdown) (string, error) {
	if run == nil {
		return "", eris.New("export: run is required")
	}

	f := xlsx.NewFile()
	if err := e.addSummarySheet(f, run, score); err != nil {
		return "", err
	}
	if err := e.addMetricsSheet(f, score); err != nil {
		return "", err
	}
	if err := e.addInputsSheet(f, values); err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, fileName(run))
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "export: save workbook %s", path)
	}
	return path, nil
}

func (e *XLSXExporter) addSummarySheet(f *xlsx.File, run *model.ScreeningRun, score model.ScoreBreakdown) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addKV := func(key string, value any) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		setCell(row.AddCell(), value)
	}

	addKV("Project", run.ProjectID)
	addKV("Run", run.ID)
	addKV("Playbook Version", run.PlaybookVersion)
	addKV("Trigger", string(run.Trigger))
	addKV("Status", string(run.Status))
	addKV("Overall Score", score.OverallScore)
	addKV("Financial Score", score.FinancialScore)
	addKV("Qualitative Score", score.QualitativeScore)
	addKV("Provisional", score.IsProvisional)
	addKV("Hard Filter Failed", score.HardFilterFailed)
	addKV("Hard Filter Reasons", strings.Join(score.HardFilterReasons, ", "))
	addKV("Missing Inputs", strings.Join(score.MissingKeys, ", "))
	addKV("Needs Review", run.NeedsReview)
	addKV("Low Confidence Inputs", strings.Join(run.LowConfidenceKeys, ", "))
	return nil
}

func (e *XLSXExporter) addMetricsSheet(f *xlsx.File, score model.ScoreBreakdown) error {
	sheet, err := f.AddSheet("Metrics")
	if err != nil {
		return eris.Wrap(err, "export: add metrics sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("Metric")
	header.AddCell().SetString("Value")
	header.AddCell().SetString("Score")

	m := score.Metrics
	for _, entry := range []struct {
		name  string
		value *float64
		score *float64
	}{
		{"Price Basis", m.PriceBasis, nil},
		{"Total Cost", m.TotalCost, nil},
		{"Loan Amount", m.LoanAmount, nil},
		{"Equity Invested", m.EquityInvested, nil},
		{"Loan Constant", m.LoanConstant, nil},
		{"Annual Debt Service", m.AnnualDebtService, nil},
		{"Annual Reserves", m.AnnualReserves, nil},
		{"Cap Rate (In-Place)", m.CapRateInPlace, nil},
		{"Cap Rate (Stabilized)", m.CapRateStabilized, nil},
		{"Cap Rate (Used)", m.CapRateUsed, score.MetricScores["cap_rate"]},
		{"Yield on Cost", m.YieldOnCost, score.MetricScores["yield_on_cost"]},
		{"Yield Spread", m.YieldSpread, nil},
		{"DSCR", m.DSCR, score.MetricScores["dscr"]},
		{"Cash on Cash", m.CashOnCash, score.MetricScores["cash_on_cash"]},
		{"Tenant Credit", score.MetricScores["tenant_credit"], score.MetricScores["tenant_credit"]},
		{"Asset Condition", score.MetricScores["asset_condition"], score.MetricScores["asset_condition"]},
		{"Market Dynamics", score.MetricScores["market_dynamics"], score.MetricScores["market_dynamics"]},
	} {
		row := sheet.AddRow()
		row.AddCell().SetString(entry.name)
		setCell(row.AddCell(), entry.value)
		setCell(row.AddCell(), entry.score)
	}
	return nil
}

func (e *XLSXExporter) addInputsSheet(f *xlsx.File, values []model.FieldValue) error {
	sheet, err := f.AddSheet("Inputs")
	if err != nil {
		return eris.Wrap(err, "export: add inputs sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Field", "Number", "Text", "Confidence", "Method", "Citations"} {
		header.AddCell().SetString(h)
	}

	for _, fv := range values {
		row := sheet.AddRow()
		row.AddCell().SetString(fv.FieldKey)
		setCell(row.AddCell(), fv.ValueNumber)
		row.AddCell().SetString(fv.ValueText)
		setCell(row.AddCell(), fv.Confidence)
		row.AddCell().SetString(fv.Method)
		row.AddCell().SetString(strings.Join(fv.Citations, "; "))
	}
	return nil
}

func setCell(cell *xlsx.Cell, value any) {
	switch v := value.(type) {
	case nil:
		cell.SetString("")
	case *float64:
		if v == nil {
			cell.SetString("")
			return
		}
		cell.SetFloat(*v)
	case float64:
		cell.SetFloat(v)
	case int:
		cell.SetInt(v)
	case bool:
		cell.SetBool(v)
	case string:
		cell.SetString(v)
	default:
		cell.SetString(fmt.Sprintf("%v", v))
	}
}

func fileName(run *model.ScreeningRun) string {
	runPart := run.ID
	if len(runPart) > 8 {
		runPart = runPart[:8]
	}
	return fmt.Sprintf("%s_%s.xlsx", sanitize(run.ProjectID), runPart)
}

// sanitize keeps file names portable regardless of what callers use for
// project ids.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
