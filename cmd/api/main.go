package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"video-transcript-go/internal/api"
	"video-transcript-go/internal/config"
	"video-transcript-go/internal/ffmpeg"
	"video-transcript-go/internal/jobstore"
	"video-transcript-go/internal/logger"
	"video-transcript-go/internal/pipeline"
	"video-transcript-go/internal/processor"
	"video-transcript-go/internal/storage"
	"video-transcript-go/internal/transcription"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.WithError(err).Fatal("failed to load AWS configuration")
	}

	blobs := storage.NewS3(s3.NewFromConfig(awsCfg), cfg.AWS.S3Bucket, log)
	speech := transcription.New(transcribe.NewFromConfig(awsCfg), cfg.Transcribe.LanguageCode, transcription.WithLogger(log))
	tool := ffmpeg.New(cfg.FFmpeg.Path, ffmpeg.WithThreads(cfg.FFmpeg.Threads), ffmpeg.WithLogger(log))

	jobs := jobstore.New()
	coord := pipeline.New(tool, blobs, speech, jobs, pipeline.Config{
		ScratchRoot:  cfg.Jobs.ScratchDir,
		TargetHeight: cfg.FFmpeg.TargetHeight,
	}, log)
	svc := processor.New(jobs, coord, blobs, processor.Options{
		Workers:        cfg.Jobs.Workers,
		QueueSize:      cfg.Jobs.QueueSize,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	}, log)

	if env := os.Getenv("ENVIRONMENT"); env != "" && env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(svc, api.Options{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		UploadRate:     cfg.Upload.RatePerSecond,
		UploadBurst:    cfg.Upload.Burst,
	}, log)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// Uploads and video downloads can be large, so no whole-body deadline.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).
			WithField("bucket", cfg.AWS.S3Bucket).
			WithField("workers", cfg.Jobs.Workers).
			Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("worker pool did not stop in time")
	}
	log.Info("bye")
}
