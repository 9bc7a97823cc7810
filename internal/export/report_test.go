package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/engine"
)

func TestBuildRunReportXLSX(t *testing.T) {
	report := &engine.Report{Attempted: 10, Succeeded: 7, Failed: 3, FailuresPath: "/tmp/out/failures.jsonl"}
	failures := []engine.FailureRecord{
		{CustomID: "ECLI:BE:CASS:2024:0001_FR", DecisionID: "ECLI:BE:CASS:2024:0001", Language: "FR", Reason: common.ReasonValidation, Error: "schema mismatch"},
		{CustomID: "ECLI:BE:CASS:2024:0002_NL", DecisionID: "ECLI:BE:CASS:2024:0002", Language: "NL", Reason: common.ReasonTransport, Error: "status 503"},
		{CustomID: "ECLI:BE:CASS:2024:0003_FR", DecisionID: "ECLI:BE:CASS:2024:0003", Language: "FR", Reason: common.ReasonRateLimit, Error: "status 429"},
	}

	b, err := NewService(nil).BuildRunReportXLSX("extract-provisions", report, failures)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	attempted, err := f.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	require.Equal(t, "10", attempted)

	rows, err := f.GetRows("Failures")
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus one row per failure")
	require.Equal(t, "ECLI:BE:CASS:2024:0002_NL", rows[2][0])
	require.Equal(t, "transport", rows[2][3])
}
