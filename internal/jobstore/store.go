// Package jobstore keeps job status records and completed results in memory.
//
// The map lock only guards insertion and lookup; each record carries its own
// mutex so writes for one job never contend with reads of another.
package jobstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"video-transcript-go/internal/types"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
	ErrTerminal = errors.New("job already finished")
)

const startingMessage = "Starting processing..."

type record struct {
	mu     sync.Mutex
	job    types.Job
	result *types.CompletedResult
}

// Store is the process-wide job registry. Construct one with New at startup.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

func New() *Store {
	return &Store{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// NewWithClock is New with an injectable time source.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

func (s *Store) lookup(jobID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.records[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Create inserts a job in the starting state.
func (s *Store) Create(jobID string, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, jobID)
	}
	s.records[jobID] = &record{job: types.Job{
		ID:          jobID,
		Status:      types.StatusStarting,
		Progress:    0,
		Message:     startingMessage,
		FileSize:    fileSize,
		SubmittedAt: s.now(),
	}}
	return nil
}

// UpdateProgress applies a partial update. Progress never moves backwards and
// an empty status keeps the current one.
func (s *Store) UpdateProgress(jobID string, progress int, message string, status types.JobStatus) error {
	rec, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, jobID, rec.job.Status)
	}
	if status != "" && status != rec.job.Status {
		if status.Terminal() {
			return fmt.Errorf("use MarkCompleted or MarkFailed to finish job %s", jobID)
		}
		if !isValidTransition(rec.job.Status, status) {
			return fmt.Errorf("invalid transition: %s -> %s", rec.job.Status, status)
		}
		rec.job.Status = status
	}
	if progress > 100 {
		progress = 100
	}
	if progress > rec.job.Progress {
		rec.job.Progress = progress
	}
	if message != "" {
		rec.job.Message = message
	}
	return nil
}

// MarkCompleted finishes the job and stores its result in one step.
func (s *Store) MarkCompleted(jobID string, result types.CompletedResult) error {
	rec, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, jobID, rec.job.Status)
	}
	if !isValidTransition(rec.job.Status, types.StatusCompleted) {
		return fmt.Errorf("invalid transition: %s -> %s", rec.job.Status, types.StatusCompleted)
	}

	if result.CompletedAt.IsZero() {
		result.CompletedAt = s.now()
	}
	result.JobID = jobID
	completedAt := result.CompletedAt

	rec.job.Status = types.StatusCompleted
	rec.job.Progress = 100
	rec.job.Message = "Processing complete. Files are ready to download."
	rec.job.CompletedAt = &completedAt
	rec.result = &result
	return nil
}

// MarkFailed moves the job to the error state with reason as its message.
func (s *Store) MarkFailed(jobID, reason string) error {
	rec, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, jobID, rec.job.Status)
	}
	now := s.now()
	rec.job.Status = types.StatusError
	rec.job.Message = reason
	rec.job.ErrorReason = reason
	rec.job.CompletedAt = &now
	return nil
}

// Get returns a copy of the job record.
func (s *Store) Get(jobID string) (types.Job, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return types.Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyJob(rec.job), nil
}

// Result returns the completed result, or ErrNotFound if the job has none.
func (s *Store) Result(jobID string) (types.CompletedResult, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return types.CompletedResult{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.result == nil {
		return types.CompletedResult{}, ErrNotFound
	}
	return *rec.result, nil
}

// List returns every job ordered by submission time.
func (s *Store) List() []types.Job {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]types.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, copyJob(rec.job))
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func copyJob(j types.Job) types.Job {
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

// isValidTransition enforces the forward-only job state machine.
func isValidTransition(from, to types.JobStatus) bool {
	switch from {
	case types.StatusStarting:
		return to == types.StatusProcessing || to == types.StatusError
	case types.StatusProcessing:
		return to == types.StatusCompleted || to == types.StatusError
	default:
		return false
	}
}
