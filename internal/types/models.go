package types

import "time"

// JobStatus is the lifecycle state of one transcode+transcribe job.
type JobStatus string

const (
	StatusStarting   JobStatus = "starting"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type Job struct {
	ID          string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	FileSize    int64      `json:"file_size"`
	SubmittedAt time.Time  `json:"start_time"`
	CompletedAt *time.Time `json:"end_time,omitempty"`
	ErrorReason string     `json:"error_reason,omitempty"`
}

// Elapsed is measured to CompletedAt once terminal, otherwise to now.
func (j Job) Elapsed(now time.Time) time.Duration {
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if end.Before(j.SubmittedAt) {
		return 0
	}
	return end.Sub(j.SubmittedAt)
}

// CompletedResult is the durable output of a successful job.
type CompletedResult struct {
	JobID           string    `json:"job_id"`
	TranscriptText  string    `json:"transcript"`
	DerivedTitle    string    `json:"title"`
	VideoStorageKey string    `json:"video_s3_key"`
	CompletedAt     time.Time `json:"completed_at"`
}

// StatusSnapshot is what polling clients see. The result fields are only
// filled once the job has completed.
type StatusSnapshot struct {
	Job
	ElapsedSeconds float64 `json:"elapsed_time"`
	Transcript     string  `json:"transcript,omitempty"`
	Title          string  `json:"title,omitempty"`
	DownloadReady  bool    `json:"download_ready"`
	VideoReady     bool    `json:"video_ready"`
}

func NewSnapshot(j Job, now time.Time) StatusSnapshot {
	return StatusSnapshot{Job: j, ElapsedSeconds: j.Elapsed(now).Seconds()}
}

// WithResult attaches the completed result so a poller needs no second call.
func (s StatusSnapshot) WithResult(r CompletedResult) StatusSnapshot {
	s.Transcript = r.TranscriptText
	s.Title = r.DerivedTitle
	s.DownloadReady = true
	s.VideoReady = r.VideoStorageKey != ""
	return s
}
