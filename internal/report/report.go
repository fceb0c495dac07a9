// Package report exports the job ledger as an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"video-transcript-go/internal/aggregator"
	"video-transcript-go/internal/types"
)

const (
	JobsSheet    = "Jobs"
	SummarySheet = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

var jobColumns = []interface{}{
	"Job ID", "Status", "Progress", "File Size (bytes)", "Submitted At", "Completed At", "Elapsed (s)", "Message",
}

// Write renders one row per job plus a summary sheet. now is used for the
// elapsed time of jobs that are still running.
func Write(w io.Writer, jobs []types.Job, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", JobsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetRow(JobsSheet, "A1", &jobColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, j := range jobs {
		completed := ""
		if j.CompletedAt != nil {
			completed = j.CompletedAt.Format(timeLayout)
		}
		row := []interface{}{
			j.ID,
			string(j.Status),
			j.Progress,
			j.FileSize,
			j.SubmittedAt.Format(timeLayout),
			completed,
			roundSeconds(j.Elapsed(now)),
			j.Message,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(JobsSheet, cell, &row); err != nil {
			return fmt.Errorf("write job %s: %w", j.ID, err)
		}
	}
	_ = f.SetCellStyle(JobsSheet, "A1", "H1", header)
	_ = f.SetColWidth(JobsSheet, "A", "A", 38)
	_ = f.SetColWidth(JobsSheet, "E", "F", 20)
	_ = f.SetColWidth(JobsSheet, "H", "H", 60)

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	if err := writeSummary(f, aggregator.Aggregate(jobs)); err != nil {
		return err
	}
	_ = f.SetCellStyle(SummarySheet, "A1", "B1", header)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, s aggregator.Summary) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Total jobs", s.Total},
		{"Active jobs", s.Active},
		{"Success rate", s.SuccessRate},
		{"Mean duration (s)", s.MeanDurationSeconds},
		{"Total bytes", s.TotalBytes},
	}
	for _, status := range sortedKeys(s.ByStatus) {
		rows = append(rows, []interface{}{"Status: " + status, s.ByStatus[status]})
	}
	for _, stage := range sortedKeys(s.FailuresByStage) {
		rows = append(rows, []interface{}{"Failures: " + stage, s.FailuresByStage[stage]})
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 28)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(time.Millisecond).Milliseconds()) / 1000
}
