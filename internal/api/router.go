// Package api exposes the job service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"video-transcript-go/internal/logger"
	"video-transcript-go/internal/processor"
	"video-transcript-go/internal/types"
)

// JobService is what the handlers need from the processor.
type JobService interface {
	Submit(data []byte, originalFilename string) (string, error)
	GetStatus(jobID string) (types.StatusSnapshot, error)
	GetTranscriptArtifact(jobID string) (processor.TextArtifact, error)
	GetVideoArtifact(ctx context.Context, jobID string) (processor.VideoArtifact, error)
	Cancel(jobID string) error
	Jobs() []types.Job
}

type Options struct {
	MaxUploadBytes int64
	UploadRate     float64
	UploadBurst    int
}

type handlers struct {
	svc      JobService
	maxBytes int64
	log      *logger.Logger
	now      func() time.Time
}

// NewRouter builds the gin engine with every route and middleware attached.
func NewRouter(svc JobService, opts Options, l *logger.Logger) *gin.Engine {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = processor.DefaultMaxBytes
	}
	h := &handlers{svc: svc, maxBytes: opts.MaxUploadBytes, log: l, now: time.Now}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(l))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", h.health)
	router.POST("/upload", rateLimit(opts.UploadRate, opts.UploadBurst), h.upload)
	router.GET("/status/:jobId", h.status)
	router.GET("/download/txt/:jobId", h.downloadTranscript)
	router.GET("/download/video/:jobId", h.downloadVideo)
	router.POST("/cancel/:jobId", h.cancel)
	router.GET("/jobs/report.xlsx", h.report)
	return router
}

func requestLogger(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := l.WithRequest(c.Request).
			WithField("status", c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds())
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Info("request handled")
	}
}

// rateLimit rejects requests over the token bucket with 429. A non-positive
// rate disables it.
func rateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many uploads, slow down"})
			return
		}
		c.Next()
	}
}
