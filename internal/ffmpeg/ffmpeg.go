package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"video-transcript-go/internal/logger"
)

const (
	TranscodeTimeout = 30 * time.Minute
	ExtractTimeout   = 10 * time.Minute

	stderrTailBytes = 2048
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr,omitempty"`
}

// ExecutionError covers non-zero exits and missing or empty output files.
type ExecutionError struct {
	Op      string
	Message string
	Log     CommandLog
	Err     error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Log.Command != "" {
		msg = fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.Log.Command, e.Log.ExitCode)
	}
	if last := lastLine(e.Log.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError is returned when the tool exceeds its wall-clock bound.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

type commandResult struct {
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stderr: tail(stderr.String(), stderrTailBytes)}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	return res, err
}

// Tool drives the ffmpeg binary.
type Tool struct {
	path             string
	threads          int
	runner           commandRunner
	stat             func(name string) (os.FileInfo, error)
	transcodeTimeout time.Duration
	extractTimeout   time.Duration
	log              *logrus.Entry
}

type Option func(*Tool)

// WithThreads overrides the encoder thread count (default: all CPUs).
func WithThreads(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.threads = n
		}
	}
}

func WithTimeouts(transcode, extract time.Duration) Option {
	return func(t *Tool) {
		t.transcodeTimeout = transcode
		t.extractTimeout = extract
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(t *Tool) { t.log = l.Component("ffmpeg") }
}

func withRunner(r commandRunner) Option {
	return func(t *Tool) { t.runner = r }
}

func New(path string, opts ...Option) *Tool {
	if path == "" {
		path = "ffmpeg"
	}
	t := &Tool{
		path:             path,
		threads:          runtime.NumCPU(),
		runner:           execRunner{},
		stat:             os.Stat,
		transcodeTimeout: TranscodeTimeout,
		extractTimeout:   ExtractTimeout,
		log:              logger.New().Component("ffmpeg"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TranscodeToResolution scales the input to targetHeight keeping aspect ratio.
func (t *Tool) TranscodeToResolution(ctx context.Context, inputPath, outputPath string, targetHeight int) (string, error) {
	if targetHeight <= 0 {
		return "", &ExecutionError{Op: "transcode", Message: fmt.Sprintf("invalid target height %d", targetHeight)}
	}
	args := buildTranscodeArgs(inputPath, outputPath, targetHeight, t.threads)
	if err := t.run(ctx, "transcode", t.transcodeTimeout, outputPath, args); err != nil {
		return "", err
	}
	return outputPath, nil
}

// ExtractMonoAudio strips the video down to 16 kHz mono PCM.
func (t *Tool) ExtractMonoAudio(ctx context.Context, videoPath, audioPath string) (string, error) {
	args := buildExtractArgs(videoPath, audioPath, t.threads)
	if err := t.run(ctx, "extract audio", t.extractTimeout, audioPath, args); err != nil {
		return "", err
	}
	return audioPath, nil
}

func (t *Tool) run(ctx context.Context, op string, timeout time.Duration, outputPath string, args []string) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, runErr := t.runner.Run(cctx, t.path, args...)
	cmdLog := CommandLog{Command: t.path, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	log := t.log.WithFields(logrus.Fields{
		"op":          op,
		"exit_code":   res.ExitCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if runErr != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("ffmpeg timed out")
			return &TimeoutError{Op: op, Timeout: timeout}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		log.WithField("stderr", lastLine(res.Stderr)).Warn("ffmpeg failed")
		return &ExecutionError{Op: op, Message: "ffmpeg exited with an error", Log: cmdLog, Err: runErr}
	}

	info, err := t.stat(outputPath)
	if err != nil {
		return &ExecutionError{Op: op, Message: "ffmpeg completed but output file is missing", Log: cmdLog, Err: err}
	}
	if info.Size() == 0 {
		return &ExecutionError{Op: op, Message: "ffmpeg completed but output file is empty", Log: cmdLog}
	}

	log.WithField("output_bytes", info.Size()).Debug("ffmpeg finished")
	return nil
}

func buildTranscodeArgs(inputPath, outputPath string, targetHeight, threads int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "28",
		"-vf", fmt.Sprintf("scale=-2:%d", targetHeight),
		"-c:a", "aac",
		"-b:a", "96k",
		"-ac", "1",
		"-threads", strconv.Itoa(threads),
		outputPath,
	}
}

func buildExtractArgs(videoPath, audioPath string, threads int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-threads", strconv.Itoa(threads),
		audioPath,
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
