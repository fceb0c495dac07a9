package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// DefaultMaxUploadBytes is the 2 GiB submission ceiling.
const DefaultMaxUploadBytes int64 = 2 * 1024 * 1024 * 1024

type Config struct {
	Port       string
	AWS        AWSConfig
	FFmpeg     FFmpegConfig
	Transcribe TranscribeConfig
	Jobs       JobsConfig
	Upload     UploadConfig
}

type AWSConfig struct {
	Region   string
	S3Bucket string
}

type FFmpegConfig struct {
	Path         string
	TargetHeight int
	Threads      int
}

type TranscribeConfig struct {
	LanguageCode string
}

type JobsConfig struct {
	Workers    int
	QueueSize  int
	ScratchDir string
}

type UploadConfig struct {
	MaxBytes      int64
	RatePerSecond float64
	Burst         int
}

// Load reads configuration from the environment. Callers load .env first.
func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	targetHeight := intVar("TARGET_HEIGHT", 720)
	threads := intVar("FFMPEG_THREADS", runtime.NumCPU())
	workers := intVar("WORKERS", runtime.NumCPU())
	queueSize := intVar("QUEUE_SIZE", 32)
	burst := intVar("UPLOAD_BURST", 5)

	maxBytes, err := envInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	if err != nil {
		errs = append(errs, err.Error())
	}
	rps, err := envFloat("UPLOAD_RPS", 2)
	if err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	cfg := &Config{
		Port: envOr("PORT", "8080"),
		AWS: AWSConfig{
			Region:   envOr("AWS_REGION", "ap-northeast-2"),
			S3Bucket: envOr("S3_BUCKET", "video-converter-storage-2025"),
		},
		FFmpeg: FFmpegConfig{
			Path:         envOr("FFMPEG_PATH", "ffmpeg"),
			TargetHeight: targetHeight,
			Threads:      threads,
		},
		Transcribe: TranscribeConfig{
			LanguageCode: envOr("TRANSCRIBE_LANGUAGE", "ko-KR"),
		},
		Jobs: JobsConfig{
			Workers:    workers,
			QueueSize:  queueSize,
			ScratchDir: os.Getenv("SCRATCH_DIR"),
		},
		Upload: UploadConfig{
			MaxBytes:      maxBytes,
			RatePerSecond: rps,
			Burst:         burst,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.FFmpeg.TargetHeight <= 0:
		return fmt.Errorf("TARGET_HEIGHT must be positive, got %d", c.FFmpeg.TargetHeight)
	case c.Jobs.Workers <= 0:
		return fmt.Errorf("WORKERS must be positive, got %d", c.Jobs.Workers)
	case c.Jobs.QueueSize < 0:
		return fmt.Errorf("QUEUE_SIZE must not be negative, got %d", c.Jobs.QueueSize)
	case c.Upload.MaxBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Upload.MaxBytes)
	case c.Upload.RatePerSecond <= 0 || c.Upload.Burst <= 0:
		return fmt.Errorf("UPLOAD_RPS and UPLOAD_BURST must be positive")
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", k, v)
	}
	return n, nil
}

func envInt64(k string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", k, v)
	}
	return n, nil
}

func envFloat(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", k, v)
	}
	return f, nil
}
