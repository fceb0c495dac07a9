package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"video-transcript-go/internal/aggregator"
	"video-transcript-go/internal/filename"
	"video-transcript-go/internal/processor"
	"video-transcript-go/internal/report"
)

const (
	uploadField = "video_file"
	// multipartSlack covers boundaries and part headers around the file.
	multipartSlack = 1 << 20
	xlsxType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"jobs":   aggregator.Aggregate(h.svc.Jobs()),
	})
}

func (h *handlers) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartSlack)

	fh, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part " + uploadField})
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file selected"})
		return
	}
	if fh.Size > h.maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, err)
		return
	}

	jobID, err := h.svc.Submit(data, fh.Filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

func (h *handlers) status(c *gin.Context) {
	snap, err := h.svc.GetStatus(c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) downloadTranscript(c *gin.Context) {
	art, err := h.svc.GetTranscriptArtifact(c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	name := filename.Sanitize(art.Title, "transcript") + "_transcript.txt"
	c.Header("Content-Disposition", attachment(name))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", art.Data)
}

func (h *handlers) downloadVideo(c *gin.Context) {
	art, err := h.svc.GetVideoArtifact(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer art.Body.Close()

	name := filename.Sanitize(art.Title, "video") + "_720p.mp4"
	c.DataFromReader(http.StatusOK, art.Size, "video/mp4", art.Body, map[string]string{
		"Content-Disposition": attachment(name),
	})
}

func (h *handlers) cancel(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.svc.Cancel(jobID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "cancelling"})
}

func (h *handlers) report(c *gin.Context) {
	var buf bytes.Buffer
	if err := report.Write(&buf, h.svc.Jobs(), h.now()); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", attachment("job_report.xlsx"))
	c.Data(http.StatusOK, xlsxType, buf.Bytes())
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	var input *processor.ClientInputError
	switch {
	case errors.As(err, &input):
		c.JSON(http.StatusBadRequest, gin.H{"error": input.Reason})
	case errors.Is(err, processor.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, processor.ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, processor.ErrBusy), errors.Is(err, processor.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
