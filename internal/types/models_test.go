package types

import (
	"testing"
	"time"
)

func TestElapsedStopsAtCompletion(t *testing.T) {
	start := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(40 * time.Second)

	running := Job{SubmittedAt: start}
	if got := running.Elapsed(start.Add(10 * time.Second)); got != 10*time.Second {
		t.Fatalf("running elapsed = %v", got)
	}

	done := Job{SubmittedAt: start, CompletedAt: &end}
	for _, later := range []time.Duration{time.Minute, time.Hour} {
		if got := done.Elapsed(start.Add(later)); got != 40*time.Second {
			t.Fatalf("finished elapsed at +%v = %v, want 40s", later, got)
		}
	}
}

func TestSnapshotWithResult(t *testing.T) {
	start := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	job := Job{ID: "j", Status: StatusCompleted, Progress: 100, SubmittedAt: start}

	plain := NewSnapshot(job, start)
	if plain.DownloadReady || plain.VideoReady || plain.Transcript != "" {
		t.Fatalf("snapshot without result = %+v", plain)
	}

	snap := plain.WithResult(CompletedResult{TranscriptText: "hello", DerivedTitle: "clip", VideoStorageKey: "videos/j_720p.mp4"})
	if snap.Transcript != "hello" || snap.Title != "clip" || !snap.DownloadReady || !snap.VideoReady {
		t.Fatalf("snapshot = %+v", snap)
	}
	if noVideo := plain.WithResult(CompletedResult{TranscriptText: "hello"}); noVideo.VideoReady {
		t.Fatal("video must not be ready without a storage key")
	}
}
