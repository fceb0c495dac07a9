// Package processor is the job API: it validates submissions, admits them into
// a bounded worker pool and serves status and artifacts back to callers.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"video-transcript-go/internal/jobstore"
	"video-transcript-go/internal/logger"
	"video-transcript-go/internal/storage"
	"video-transcript-go/internal/types"
)

const (
	// DefaultMaxBytes is the largest accepted upload.
	DefaultMaxBytes int64 = 2 * 1024 * 1024 * 1024

	completedAtLayout = "2006-01-02 15:04:05"
)

var (
	ErrNotFound  = jobstore.ErrNotFound
	ErrBusy      = errors.New("too many jobs in flight, try again later")
	ErrClosed    = errors.New("processor is shutting down")
	ErrNotActive = errors.New("job is not running")
)

// ClientInputError is a submission rejected before any job record exists.
type ClientInputError struct {
	Reason string
}

func (e *ClientInputError) Error() string { return e.Reason }

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string, data []byte, originalFilename string)
}

// ObjectOpener streams stored objects back out.
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

type TextArtifact struct {
	Title string
	Data  []byte
}

type VideoArtifact struct {
	Title string
	Body  io.ReadCloser
	Size  int64
}

type Options struct {
	Workers        int
	QueueSize      int
	MaxUploadBytes int64
}

type task struct {
	ctx      context.Context
	jobID    string
	data     []byte
	filename string
}

type Service struct {
	jobs     *jobstore.Store
	runner   Runner
	blobs    ObjectOpener
	maxBytes int64
	now      func() time.Time
	newID    func() string
	log      *logrus.Entry

	baseCtx context.Context
	stop    context.CancelFunc
	queue   chan task
	slots   chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
}

// New starts opts.Workers workers. Call Close to stop them.
func New(jobs *jobstore.Store, runner Runner, blobs ObjectOpener, opts Options, l *logger.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxBytes
	}

	ctx, stop := context.WithCancel(context.Background())
	capacity := opts.Workers + opts.QueueSize
	s := &Service{
		jobs:     jobs,
		runner:   runner,
		blobs:    blobs,
		maxBytes: opts.MaxUploadBytes,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      l.Component("processor"),
		baseCtx:  ctx,
		stop:     stop,
		queue:    make(chan task, capacity),
		slots:    make(chan struct{}, capacity),
		cancels:  make(map[string]context.CancelFunc),
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.WithField("workers", opts.Workers).WithField("queue", opts.QueueSize).Info("worker pool started")
	return s
}

func (s *Service) worker(n int) {
	defer s.wg.Done()
	for t := range s.queue {
		s.log.WithField("worker", n).WithField("job_id", t.jobID).Debug("job picked up")
		s.runner.Run(t.ctx, t.jobID, t.data, t.filename)
		s.finish(t.jobID)
		<-s.slots
	}
}

func (s *Service) finish(jobID string) {
	s.mu.Lock()
	cancel := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit validates the upload, creates the job and queues it. It returns as
// soon as the job is queued.
func (s *Service) Submit(data []byte, originalFilename string) (string, error) {
	if strings.TrimSpace(originalFilename) == "" {
		return "", &ClientInputError{Reason: "no file selected"}
	}
	if len(data) == 0 {
		return "", &ClientInputError{Reason: "uploaded file is empty"}
	}
	if int64(len(data)) > s.maxBytes {
		return "", &ClientInputError{Reason: fmt.Sprintf("file too large: %d bytes exceeds the %d byte limit", len(data), s.maxBytes)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	select {
	case s.slots <- struct{}{}:
	default:
		return "", ErrBusy
	}

	jobID := s.newID()
	if err := s.jobs.Create(jobID, int64(len(data))); err != nil {
		<-s.slots
		return "", fmt.Errorf("create job: %w", err)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[jobID] = cancel
	// A held slot guarantees room in the queue.
	s.queue <- task{ctx: ctx, jobID: jobID, data: data, filename: originalFilename}

	s.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"file_size": len(data),
		"filename":  originalFilename,
	}).Info("job submitted")
	return jobID, nil
}

func (s *Service) GetStatus(jobID string) (types.StatusSnapshot, error) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return types.StatusSnapshot{}, err
	}
	snap := types.NewSnapshot(job, s.now())
	if job.Status != types.StatusCompleted {
		return snap, nil
	}
	res, err := s.jobs.Result(jobID)
	if err != nil {
		return types.StatusSnapshot{}, fmt.Errorf("completed job %s without result: %w", jobID, err)
	}
	return snap.WithResult(res), nil
}

// GetTranscriptArtifact renders the plain-text transcript download.
func (s *Service) GetTranscriptArtifact(jobID string) (TextArtifact, error) {
	res, err := s.jobs.Result(jobID)
	if err != nil {
		return TextArtifact{}, err
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "Video title: %s\n", res.DerivedTitle)
	fmt.Fprintf(&b, "Completed at: %s\n", res.CompletedAt.Format(completedAtLayout))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	b.WriteString(res.TranscriptText)

	return TextArtifact{Title: res.DerivedTitle, Data: b.Bytes()}, nil
}

// GetVideoArtifact opens the stored transcoded video. The caller closes Body.
func (s *Service) GetVideoArtifact(ctx context.Context, jobID string) (VideoArtifact, error) {
	res, err := s.jobs.Result(jobID)
	if err != nil {
		return VideoArtifact{}, err
	}
	if res.VideoStorageKey == "" {
		return VideoArtifact{}, fmt.Errorf("%w: job %s has no stored video", ErrNotFound, jobID)
	}

	body, size, err := s.blobs.Open(ctx, res.VideoStorageKey)
	if errors.Is(err, storage.ErrNoObject) {
		return VideoArtifact{}, fmt.Errorf("%w: %s", ErrNotFound, res.VideoStorageKey)
	}
	if err != nil {
		return VideoArtifact{}, err
	}
	return VideoArtifact{Title: res.DerivedTitle, Body: body, Size: size}, nil
}

// Cancel stops a queued or running job. The job ends in the error state.
func (s *Service) Cancel(jobID string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrNotActive
	}

	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	cancel()
	s.log.WithField("job_id", jobID).Info("job cancellation requested")
	return nil
}

// Jobs lists every job ordered by submission.
func (s *Service) Jobs() []types.Job {
	return s.jobs.List()
}

// Close stops admission, cancels in-flight jobs and waits for the workers
// until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}
