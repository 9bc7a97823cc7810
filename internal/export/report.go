package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/engine"
)

// Service produces XLSX bytes summarizing one engine run, so an operator can
// review failures without grepping JSONL.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// BuildRunReportXLSX returns a workbook with a Summary sheet and a Failures
// sheet listing every failure record with its retryable identity.
func (s *Service) BuildRunReportXLSX(jobName string, report *engine.Report, failures []engine.FailureRecord) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const summarySheet = "Summary"
	const failuresSheet = "Failures"

	// excelize creates "Sheet1" by default; rename it to our first sheet.
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, common.WrapError(err, "rename summary sheet")
	}

	summaryRows := [][]any{
		{"Job", jobName},
		{"Generated", time.Now().UTC().Format(time.RFC3339)},
		{"Attempted", report.Attempted},
		{"Succeeded", report.Succeeded},
		{"Failed", report.Failed},
		{"Failures document", report.FailuresPath},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, common.WrapError(err, "write summary row")
		}
	}

	if _, err := f.NewSheet(failuresSheet); err != nil {
		return nil, common.WrapError(err, "create failures sheet")
	}
	header := []any{"Custom ID", "Decision ID", "Language", "Reason", "Error"}
	if err := f.SetSheetRow(failuresSheet, "A1", &header); err != nil {
		return nil, common.WrapError(err, "write failures header")
	}
	for i, rec := range failures {
		row := []any{rec.CustomID, rec.DecisionID, rec.Language, string(rec.Reason), rec.Error}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(failuresSheet, cell, &row); err != nil {
			return nil, common.WrapError(err, "write failure row")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, common.WrapError(err, "serialize workbook")
	}
	s.logger.Info("export.report.built",
		"job", jobName,
		"failures", len(failures),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteRunReport builds the workbook and writes it next to the run's output.
func (s *Service) WriteRunReport(path, jobName string, report *engine.Report, failures []engine.FailureRecord) error {
	b, err := s.BuildRunReportXLSX(jobName, report, failures)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.WrapError(err, "create report dir")
	}
	return os.WriteFile(path, b, 0o644)
}
