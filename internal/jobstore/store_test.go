package jobstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"video-transcript-go/internal/types"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

// TestStoreLifecycle verifies normal progression to completed.
func TestStoreLifecycle(t *testing.T) {
	s := NewWithClock(fixedClock())
	if err := s.Create("job-1", 42); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.StatusStarting || job.Progress != 0 || job.FileSize != 42 {
		t.Fatalf("new job = %+v", job)
	}

	if err := s.UpdateProgress("job-1", 5, "saving", types.StatusProcessing); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.UpdateProgress("job-1", 15, "transcoding", ""); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if _, err := s.Result("job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Result before completion = %v, want ErrNotFound", err)
	}

	err = s.MarkCompleted("job-1", types.CompletedResult{TranscriptText: "hi", DerivedTitle: "clip", VideoStorageKey: "videos/job-1_720p.mp4"})
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	job, _ = s.Get("job-1")
	if job.Status != types.StatusCompleted || job.Progress != 100 || job.CompletedAt == nil {
		t.Fatalf("completed job = %+v", job)
	}
	res, err := s.Result("job-1")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.JobID != "job-1" || res.TranscriptText != "hi" || res.CompletedAt.IsZero() {
		t.Fatalf("result = %+v", res)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	s := New()
	if err := s.Create("dup", 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("dup", 1); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create = %v, want ErrExists", err)
	}
}

func TestUnknownJob(t *testing.T) {
	s := New()
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v", err)
	}
	if err := s.UpdateProgress("missing", 1, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateProgress = %v", err)
	}
	if err := s.MarkFailed("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkFailed = %v", err)
	}
	if _, err := s.Result("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Result = %v", err)
	}
}

// TestProgressIsMonotonic checks that lower progress values are ignored.
func TestProgressIsMonotonic(t *testing.T) {
	s := New()
	_ = s.Create("j", 1)
	_ = s.UpdateProgress("j", 45, "extracting", types.StatusProcessing)
	if err := s.UpdateProgress("j", 25, "late update", ""); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	job, _ := s.Get("j")
	if job.Progress != 45 {
		t.Fatalf("progress = %d, want 45", job.Progress)
	}
	if job.Message != "late update" {
		t.Fatalf("message = %q", job.Message)
	}
}

// TestTerminalStatesAreFinal checks that no transition leaves a terminal state.
func TestTerminalStatesAreFinal(t *testing.T) {
	s := New()
	_ = s.Create("j", 1)
	_ = s.UpdateProgress("j", 5, "saving", types.StatusProcessing)
	if err := s.MarkFailed("j", "transcode failed: boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if err := s.UpdateProgress("j", 50, "x", ""); !errors.Is(err, ErrTerminal) {
		t.Fatalf("UpdateProgress after failure = %v, want ErrTerminal", err)
	}
	if err := s.MarkCompleted("j", types.CompletedResult{}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("MarkCompleted after failure = %v, want ErrTerminal", err)
	}
	if _, err := s.Result("j"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed job must have no result, got %v", err)
	}
	job, _ := s.Get("j")
	if job.Status != types.StatusError || job.ErrorReason != "transcode failed: boom" || job.Message != job.ErrorReason {
		t.Fatalf("failed job = %+v", job)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := New()
	_ = s.Create("j", 1)
	if err := s.MarkCompleted("j", types.CompletedResult{}); err == nil {
		t.Fatal("starting -> completed should be rejected")
	}
	if err := s.UpdateProgress("j", 1, "", types.StatusCompleted); err == nil {
		t.Fatal("UpdateProgress must not set a terminal status")
	}
	if err := s.UpdateProgress("j", 1, "", types.StatusStarting); err != nil {
		t.Fatalf("same-status update should be a no-op, got %v", err)
	}
	if err := s.MarkFailed("j", "early failure"); err != nil {
		t.Fatalf("starting -> error should be allowed: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	_ = s.Create("j", 1)
	_ = s.UpdateProgress("j", 5, "", types.StatusProcessing)
	_ = s.MarkFailed("j", "x")

	job, _ := s.Get("j")
	*job.CompletedAt = time.Time{}
	job.Message = "mutated"

	again, _ := s.Get("j")
	if again.CompletedAt.IsZero() || again.Message != "x" {
		t.Fatalf("store record was mutated through a snapshot: %+v", again)
	}
}

func TestListOrderedBySubmission(t *testing.T) {
	s := NewWithClock(fixedClock())
	for _, id := range []string{"c", "a", "b"} {
		_ = s.Create(id, 1)
	}
	jobs := s.List()
	if len(jobs) != 3 || jobs[0].ID != "c" || jobs[1].ID != "a" || jobs[2].ID != "b" {
		t.Fatalf("List order = %v", jobs)
	}
}

// TestConcurrentJobsDoNotInterleave runs many writers and readers at once.
func TestConcurrentJobsDoNotInterleave(t *testing.T) {
	s := New()
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		if err := s.Create(id, int64(i)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		wg.Add(2)
		go func(i int, id string) {
			defer wg.Done()
			for p := 5; p <= 80; p += 5 {
				_ = s.UpdateProgress(id, p, fmt.Sprintf("%s at %d", id, p), types.StatusProcessing)
			}
			if i%2 == 0 {
				_ = s.MarkCompleted(id, types.CompletedResult{TranscriptText: id})
			} else {
				_ = s.MarkFailed(id, id+" failed")
			}
		}(i, id)
		go func(id string) {
			defer wg.Done()
			last := 0
			for k := 0; k < 50; k++ {
				job, err := s.Get(id)
				if err != nil {
					t.Errorf("Get(%s): %v", id, err)
					return
				}
				if job.Progress < last {
					t.Errorf("progress went backwards for %s: %d < %d", id, job.Progress, last)
				}
				last = job.Progress
			}
		}(id)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		job, _ := s.Get(id)
		res, resErr := s.Result(id)
		if i%2 == 0 {
			if job.Status != types.StatusCompleted || resErr != nil || res.TranscriptText != id {
				t.Fatalf("%s: status=%s result=%+v err=%v", id, job.Status, res, resErr)
			}
		} else {
			if job.Status != types.StatusError || resErr == nil || job.ErrorReason != id+" failed" {
				t.Fatalf("%s: status=%s reason=%q", id, job.Status, job.ErrorReason)
			}
		}
	}
}

// TestMarkCompletedKeepsOneCompletionTime checks the job and its result agree.
func TestMarkCompletedKeepsOneCompletionTime(t *testing.T) {
	s := NewWithClock(fixedClock())
	_ = s.Create("j", 1)
	_ = s.UpdateProgress("j", 80, "transcribing", types.StatusProcessing)

	finished := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := s.MarkCompleted("j", types.CompletedResult{TranscriptText: "x", CompletedAt: finished}); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	job, _ := s.Get("j")
	res, _ := s.Result("j")
	if job.CompletedAt == nil || !job.CompletedAt.Equal(finished) || !res.CompletedAt.Equal(finished) {
		t.Fatalf("job end = %v, result end = %v, want %v", job.CompletedAt, res.CompletedAt, finished)
	}
}
