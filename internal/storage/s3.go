package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"video-transcript-go/internal/logger"
)

const (
	// MultipartThreshold is the size above which uploads are split into parts.
	MultipartThreshold int64 = 100 * 1024 * 1024
	PartSize           int64 = 25 * 1024 * 1024
	PartConcurrency          = 10
)

var ErrNoObject = errors.New("storage: no object")

// EmptySourceError is returned when the local file is absent or zero-length.
type EmptySourceError struct {
	Path string
	Err  error
}

func (e *EmptySourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage: source %s is not readable: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("storage: source %s is empty", e.Path)
}

func (e *EmptySourceError) Unwrap() error { return e.Err }

// StoreError wraps any transport or service failure.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type multipartUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 is a blob store backed by one bucket.
type S3 struct {
	client    s3API
	uploader  multipartUploader
	bucket    string
	threshold int64
	log       *logrus.Entry
}

// NewS3 returns a store using client for single-shot calls and a managed
// multipart uploader for large files.
func NewS3(client *s3.Client, bucket string, l *logger.Logger) *S3 {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = PartSize
		u.Concurrency = PartConcurrency
	})
	return newS3(client, uploader, bucket, l)
}

func newS3(client s3API, uploader multipartUploader, bucket string, l *logger.Logger) *S3 {
	if l == nil {
		l = logger.New()
	}
	return &S3{
		client:    client,
		uploader:  uploader,
		bucket:    bucket,
		threshold: MultipartThreshold,
		log:       l.Component("storage").WithField("bucket", bucket),
	}
}

// URI returns the canonical address of key.
func (s *S3) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Upload stores the file at localPath under key and returns its URI.
func (s *S3) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &EmptySourceError{Path: localPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &EmptySourceError{Path: localPath, Err: err}
	}
	size := info.Size()
	if size == 0 {
		return "", &EmptySourceError{Path: localPath}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(key)),
	}

	start := time.Now()
	multipart := size > s.threshold
	if multipart {
		_, err = s.uploader.Upload(ctx, input)
	} else {
		_, err = s.client.PutObject(ctx, input)
	}
	if err != nil {
		return "", &StoreError{Op: "upload", Key: key, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"key":         key,
		"bytes":       size,
		"multipart":   multipart,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("object uploaded")
	return s.URI(key), nil
}

// Open streams the object stored under key. The caller closes the body.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNoObject
		}
		return nil, 0, &StoreError{Op: "get", Key: key, Err: err}
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
