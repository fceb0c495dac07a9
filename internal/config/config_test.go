package config

import (
	"runtime"
	"strings"
	"testing"
)

var configKeys = []string{
	"PORT", "AWS_REGION", "S3_BUCKET", "FFMPEG_PATH", "FFMPEG_THREADS", "TRANSCRIBE_LANGUAGE",
	"TARGET_HEIGHT", "WORKERS", "QUEUE_SIZE", "SCRATCH_DIR", "MAX_UPLOAD_BYTES", "UPLOAD_RPS", "UPLOAD_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.AWS.Region != "ap-northeast-2" || cfg.AWS.S3Bucket != "video-converter-storage-2025" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FFmpeg.Path != "ffmpeg" || cfg.FFmpeg.TargetHeight != 720 || cfg.FFmpeg.Threads != runtime.NumCPU() {
		t.Fatalf("ffmpeg defaults: %+v", cfg.FFmpeg)
	}
	if cfg.Transcribe.LanguageCode != "ko-KR" {
		t.Fatalf("language = %q", cfg.Transcribe.LanguageCode)
	}
	if cfg.Jobs.Workers != runtime.NumCPU() || cfg.Jobs.QueueSize != 32 || cfg.Jobs.ScratchDir != "" {
		t.Fatalf("jobs defaults: %+v", cfg.Jobs)
	}
	if cfg.Upload.MaxBytes != DefaultMaxUploadBytes || cfg.Upload.RatePerSecond != 2 || cfg.Upload.Burst != 5 {
		t.Fatalf("upload defaults: %+v", cfg.Upload)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("TRANSCRIBE_LANGUAGE", "en-US")
	t.Setenv("WORKERS", "3")
	t.Setenv("QUEUE_SIZE", "0")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("UPLOAD_RPS", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" || cfg.AWS.S3Bucket != "my-bucket" || cfg.Transcribe.LanguageCode != "en-US" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Jobs.Workers != 3 || cfg.Jobs.QueueSize != 0 || cfg.Upload.MaxBytes != 1<<20 || cfg.Upload.RatePerSecond != 0.5 {
		t.Fatalf("numeric overrides: %+v %+v", cfg.Jobs, cfg.Upload)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"WORKERS", "many", "WORKERS"},
		{"WORKERS", "0", "WORKERS must be positive"},
		{"QUEUE_SIZE", "-1", "QUEUE_SIZE"},
		{"TARGET_HEIGHT", "-720", "TARGET_HEIGHT"},
		{"MAX_UPLOAD_BYTES", "2GB", "MAX_UPLOAD_BYTES"},
		{"UPLOAD_RPS", "fast", "UPLOAD_RPS"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
