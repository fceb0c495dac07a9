// Package pipeline drives one job through save, transcode, upload, extract,
// upload and transcribe, recording progress in the job store as it goes.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"video-transcript-go/internal/filename"
	"video-transcript-go/internal/logger"
	"video-transcript-go/internal/types"
)

// CancelledReason is recorded when a run's context ends before it finishes.
const CancelledReason = "job cancelled"

const (
	stageSave         = "save"
	stageTranscode    = "transcode"
	stageUploadVideo  = "upload video"
	stageExtractAudio = "extract audio"
	stageUploadAudio  = "upload audio"
	stageTranscribe   = "transcribe"
	stageComplete     = "complete"
)

// Tool is the media tool the coordinator needs.
type Tool interface {
	TranscodeToResolution(ctx context.Context, inputPath, outputPath string, targetHeight int) (string, error)
	ExtractMonoAudio(ctx context.Context, videoPath, audioPath string) (string, error)
}

type BlobStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioURI, jobName string) (string, error)
}

// Recorder is the write side of the job store.
type Recorder interface {
	UpdateProgress(jobID string, progress int, message string, status types.JobStatus) error
	MarkCompleted(jobID string, result types.CompletedResult) error
	MarkFailed(jobID, reason string) error
}

// PersistenceError means the upload could not be written to scratch space.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StageError names the stage a run failed in. Its message is what polling
// clients see.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// VideoKey, AudioKey and RecognitionJobName derive remote names from the job
// id so a rerun of the same job overwrites instead of duplicating.
func VideoKey(jobID string) string { return "videos/" + jobID + "_720p.mp4" }

func AudioKey(jobID string) string { return "audio/" + jobID + ".wav" }

func RecognitionJobName(jobID string) string { return "transcribe-" + jobID }

type Config struct {
	ScratchRoot  string
	TargetHeight int
}

type Coordinator struct {
	tool         Tool
	blobs        BlobStore
	speech       Transcriber
	jobs         Recorder
	scratchRoot  string
	targetHeight int
	now          func() time.Time
	log          *logger.Logger
}

func New(tool Tool, blobs BlobStore, speech Transcriber, jobs Recorder, cfg Config, l *logger.Logger) *Coordinator {
	if cfg.TargetHeight <= 0 {
		cfg.TargetHeight = 720
	}
	return &Coordinator{
		tool:         tool,
		blobs:        blobs,
		speech:       speech,
		jobs:         jobs,
		scratchRoot:  cfg.ScratchRoot,
		targetHeight: cfg.TargetHeight,
		now:          time.Now,
		log:          l,
	}
}

// Run executes the whole pipeline for a job that already exists in the store.
// It never returns an error: every outcome lands in the store.
func (c *Coordinator) Run(ctx context.Context, jobID string, data []byte, originalFilename string) {
	log := c.log.WithJob(jobID).WithField("component", "pipeline")
	started := time.Now()
	stage := stageSave

	scratch, err := os.MkdirTemp(c.scratchRoot, "job-"+jobID+"-*")
	if err != nil {
		c.fail(ctx, jobID, &StageError{Stage: stage, Err: fmt.Errorf("create scratch dir: %w", err)}, log)
		return
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithField("scratch", scratch).WithField("error", err.Error()).Warn("scratch cleanup failed")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).WithField("stack", string(debug.Stack())).Error("pipeline panicked")
			c.fail(ctx, jobID, &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}, log)
		}
	}()

	result, err := c.execute(ctx, jobID, scratch, data, originalFilename, &stage, log)
	if err != nil {
		c.fail(ctx, jobID, err, log)
		return
	}
	if err := c.jobs.MarkCompleted(jobID, result); err != nil {
		log.WithField("error", err.Error()).Error("could not record completion")
		return
	}
	log.WithFields(logrus.Fields{
		"duration_ms": time.Since(started).Milliseconds(),
		"title":       result.DerivedTitle,
	}).Info("job completed")
}

func (c *Coordinator) execute(ctx context.Context, jobID, scratch string, data []byte, originalFilename string, stage *string, log *logrus.Entry) (types.CompletedResult, error) {
	// enter moves to the next stage, refusing to start it once ctx is done.
	enter := func(name string, progress int, message string) error {
		*stage = name
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: name, Err: err}
		}
		status := types.JobStatus("")
		if name == stageSave {
			status = types.StatusProcessing
		}
		if err := c.jobs.UpdateProgress(jobID, progress, message, status); err != nil {
			log.WithField("stage", name).WithField("error", err.Error()).Warn("progress update rejected")
		}
		log.WithField("stage", name).WithField("progress", progress).Debug("stage started")
		return nil
	}
	wrap := func(err error) error {
		return &StageError{Stage: *stage, Err: err}
	}

	if err := enter(stageSave, 5, "Saving uploaded file..."); err != nil {
		return types.CompletedResult{}, err
	}
	working := filename.Working(originalFilename, fmt.Sprintf("video_%s.mp4", jobID))
	inputPath := filepath.Join(scratch, working)
	if err := persist(inputPath, data); err != nil {
		return types.CompletedResult{}, wrap(err)
	}
	stem := filename.Stem(working)

	if err := enter(stageTranscode, 15, fmt.Sprintf("Transcoding to %dp...", c.targetHeight)); err != nil {
		return types.CompletedResult{}, err
	}
	videoPath, err := c.tool.TranscodeToResolution(ctx, inputPath, filepath.Join(scratch, "transcoded_"+stem+".mp4"), c.targetHeight)
	if err != nil {
		return types.CompletedResult{}, wrap(err)
	}

	if err := enter(stageUploadVideo, 25, fmt.Sprintf("Uploading %dp video...", c.targetHeight)); err != nil {
		return types.CompletedResult{}, err
	}
	videoKey := VideoKey(jobID)
	if _, err := c.blobs.Upload(ctx, videoPath, videoKey); err != nil {
		return types.CompletedResult{}, wrap(err)
	}

	if err := enter(stageExtractAudio, 45, "Extracting audio..."); err != nil {
		return types.CompletedResult{}, err
	}
	audioPath, err := c.tool.ExtractMonoAudio(ctx, videoPath, filepath.Join(scratch, "audio_"+jobID+".wav"))
	if err != nil {
		return types.CompletedResult{}, wrap(err)
	}

	if err := enter(stageUploadAudio, 65, "Uploading audio..."); err != nil {
		return types.CompletedResult{}, err
	}
	audioURI, err := c.blobs.Upload(ctx, audioPath, AudioKey(jobID))
	if err != nil {
		return types.CompletedResult{}, wrap(err)
	}

	if err := enter(stageTranscribe, 80, "Running speech recognition..."); err != nil {
		return types.CompletedResult{}, err
	}
	text, err := c.speech.Transcribe(ctx, audioURI, RecognitionJobName(jobID))
	if err != nil {
		return types.CompletedResult{}, wrap(err)
	}

	*stage = stageComplete
	return types.CompletedResult{
		JobID:           jobID,
		TranscriptText:  text,
		DerivedTitle:    stem,
		VideoStorageKey: videoKey,
		CompletedAt:     c.now(),
	}, nil
}

func persist(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return &PersistenceError{Path: path, Err: fmt.Errorf("file is empty")}
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, jobID string, err error, log *logrus.Entry) {
	reason := err.Error()
	if ctx.Err() != nil {
		reason = CancelledReason
	}
	log.WithField("error", err.Error()).Warn("job failed")
	if markErr := c.jobs.MarkFailed(jobID, reason); markErr != nil {
		log.WithField("error", markErr.Error()).Error("could not record failure")
	}
}
