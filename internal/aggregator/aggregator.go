package aggregator

import (
	"strings"

	"video-transcript-go/internal/types"
)

// Summary is a roll-up of the job ledger.
type Summary struct {
	Total               int            `json:"total"`
	Active              int            `json:"active"`
	ByStatus            map[string]int `json:"by_status"`
	FailuresByStage     map[string]int `json:"failures_by_stage"`
	SuccessRate         float64        `json:"success_rate"`
	MeanDurationSeconds float64        `json:"mean_duration_seconds"`
	TotalBytes          int64          `json:"total_bytes"`
}

func Aggregate(jobs []types.Job) Summary {
	byStatus := map[string]int{}
	failures := map[string]int{}
	var (
		active, completed, failed int
		bytes                     int64
		durations                 float64
	)
	for _, j := range jobs {
		byStatus[string(j.Status)]++
		bytes += j.FileSize
		switch j.Status {
		case types.StatusCompleted:
			completed++
			if j.CompletedAt != nil {
				durations += j.Elapsed(*j.CompletedAt).Seconds()
			}
		case types.StatusError:
			failed++
			failures[FailureStage(j.ErrorReason)]++
		default:
			active++
		}
	}

	s := Summary{
		Total:           len(jobs),
		Active:          active,
		ByStatus:        byStatus,
		FailuresByStage: failures,
		TotalBytes:      bytes,
	}
	if completed+failed > 0 {
		s.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if completed > 0 {
		s.MeanDurationSeconds = durations / float64(completed)
	}
	return s
}

// FailureStage extracts the stage from a "{stage} failed: ..." reason. Other
// reasons are returned whole.
func FailureStage(reason string) string {
	if i := strings.Index(reason, " failed:"); i > 0 {
		return reason[:i]
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}
