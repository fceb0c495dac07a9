package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"video-transcript-go/internal/logger"
)

const (
	PollInterval = 3 * time.Second
	MaxWait      = 30 * time.Minute
	FetchTimeout = 30 * time.Second

	// NoSpeechPlaceholder replaces an empty transcript.
	NoSpeechPlaceholder = "Speech could not be recognized. Please check the audio quality."

	maxSpeakers   = 10
	deleteSettle  = 2 * time.Second
	unknownReason = "unknown failure reason"
)

var errStillRunning = errors.New("transcription job still running")

// TimeoutError is returned when the job does not finish within the ceiling.
type TimeoutError struct {
	JobName string
	Waited  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transcription job %s did not finish within %s", e.JobName, e.Waited)
}

// FailedError carries the service-reported failure reason.
type FailedError struct {
	JobName string
	Reason  string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transcription job %s failed: %s", e.JobName, e.Reason)
}

// API is the subset of the Amazon Transcribe client used here.
type API interface {
	DeleteTranscriptionJob(ctx context.Context, params *transcribe.DeleteTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error)
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

type Client struct {
	api          API
	httpClient   *http.Client
	language     string
	pollInterval time.Duration
	maxWait      time.Duration
	fetchTimeout time.Duration
	settle       time.Duration
	log          *logrus.Entry
}

type Option func(*Client)

func WithPolling(interval, maxWait time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.maxWait = maxWait
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l.Component("transcription") }
}

func New(api API, languageCode string, opts ...Option) *Client {
	c := &Client{
		api:          api,
		httpClient:   &http.Client{Timeout: FetchTimeout},
		language:     languageCode,
		pollInterval: PollInterval,
		maxWait:      MaxWait,
		fetchTimeout: FetchTimeout,
		settle:       deleteSettle,
		log:          logger.New().Component("transcription"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe runs one recognition job for the audio at audioURI and returns
// the primary transcript. jobName is reused across attempts for the same job.
func (c *Client) Transcribe(ctx context.Context, audioURI, jobName string) (string, error) {
	log := c.log.WithField("transcription_job", jobName)

	c.clearStale(ctx, jobName, log)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	_, err := c.api.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media:                &types.Media{MediaFileUri: aws.String(audioURI)},
		MediaFormat:          types.MediaFormatWav,
		LanguageCode:         types.LanguageCode(c.language),
		Settings: &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(maxSpeakers),
			ShowAlternatives:  aws.Bool(false),
		},
	})
	if err != nil {
		return "", fmt.Errorf("start transcription job %s: %w", jobName, err)
	}
	log.WithField("media_uri", audioURI).Info("transcription job started")

	job, err := c.waitForJob(ctx, jobName, log)
	if err != nil {
		return "", err
	}

	if job.TranscriptionJobStatus == types.TranscriptionJobStatusFailed {
		reason := aws.ToString(job.FailureReason)
		if reason == "" {
			reason = unknownReason
		}
		log.WithField("reason", reason).Warn("transcription job failed")
		return "", &FailedError{JobName: jobName, Reason: reason}
	}

	if job.Transcript == nil || aws.ToString(job.Transcript.TranscriptFileUri) == "" {
		return "", fmt.Errorf("transcription job %s completed without a transcript uri", jobName)
	}
	text, err := c.fetchTranscript(ctx, aws.ToString(job.Transcript.TranscriptFileUri))
	if err != nil {
		return "", err
	}
	log.WithField("chars", len(text)).Info("transcript downloaded")
	return text, nil
}

// clearStale deletes a previous job with the same name. Failure is expected
// when no such job exists and is ignored.
func (c *Client) clearStale(ctx context.Context, jobName string, log *logrus.Entry) {
	_, err := c.api.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		log.WithField("error", err.Error()).Debug("no stale transcription job removed")
		return
	}
	log.Info("removed stale transcription job")
	select {
	case <-ctx.Done():
	case <-time.After(c.settle):
	}
}

func (c *Client) waitForJob(ctx context.Context, jobName string, log *logrus.Entry) (*types.TranscriptionJob, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval
	bo.MaxInterval = c.pollInterval
	bo.Multiplier = 1
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = c.maxWait

	var job *types.TranscriptionJob
	poll := func() error {
		out, err := c.api.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("get transcription job %s: %w", jobName, err))
		}
		if out.TranscriptionJob == nil {
			return backoff.Permanent(fmt.Errorf("get transcription job %s: empty response", jobName))
		}
		switch out.TranscriptionJob.TranscriptionJobStatus {
		case types.TranscriptionJobStatusCompleted, types.TranscriptionJobStatusFailed:
			job = out.TranscriptionJob
			return nil
		}
		return errStillRunning
	}
	notify := func(_ error, next time.Duration) {
		log.WithField("next_poll", next.String()).Debug("transcription job still running")
	}

	err := backoff.RetryNotify(poll, backoff.WithContext(bo, ctx), notify)
	if errors.Is(err, errStillRunning) {
		return nil, &TimeoutError{JobName: jobName, Waited: c.maxWait}
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}
