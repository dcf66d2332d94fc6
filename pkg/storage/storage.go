// Package storage persists output pages to an S3-compatible bucket via
// MinIO. Object keys are deterministic, so re-running an endpoint
// overwrites pages in place instead of duplicating them.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/researchpipe/gtr-fetch/pkg/logging"
)

var storageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gtr_storage_operations_total",
	Help: "Total storage operations by operation and status",
}, []string{"operation", "status"})

// Config holds the storage destination configuration.
type Config struct {
	// Endpoint is the S3-compatible endpoint, host:port.
	Endpoint string

	// AccessKey and SecretKey are the bucket credentials.
	AccessKey string
	SecretKey string

	// UseSSL enables TLS towards the endpoint.
	UseSSL bool

	// Bucket is the destination bucket name.
	Bucket string

	// Prefix is the destination path prefix inside the bucket.
	Prefix string
}

// WriteError is a failed page write, carrying the destination so a broken
// run can be located.
type WriteError struct {
	Bucket string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write failed (bucket %s, key %s): %v", e.Bucket, e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// objectStore is the slice of the MinIO client the writer needs. Tests
// substitute an in-memory implementation.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Writer writes serialized output pages to the destination bucket.
type Writer struct {
	store  objectStore
	bucket string
	prefix string
	logger zerolog.Logger
}

// New connects to the storage endpoint and verifies the destination bucket
// is reachable with the given credentials. Auth or connectivity failure is
// fatal for the run, so it surfaces here, before any fetch.
func New(ctx context.Context, cfg Config) (*Writer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return newWriter(ctx, client, cfg)
}

func newWriter(ctx context.Context, store objectStore, cfg Config) (*Writer, error) {
	exists, err := store.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		storageOperationsTotal.WithLabelValues("stat", "failure").Inc()
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}
	storageOperationsTotal.WithLabelValues("stat", "success").Inc()

	return &Writer{
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logging.NewLogger("storage"),
	}, nil
}

// ObjectKey derives the deterministic key for one page of one endpoint:
// {prefix}/{endpoint}/page_{n}.json. Every (endpoint, page) pair maps to
// exactly one stable location.
func ObjectKey(prefix, endpoint string, page int) string {
	key := fmt.Sprintf("%s/page_%d.json", endpoint, page)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

// WritePage serializes the payload as compact JSON and puts it at the
// page's deterministic key. The put replaces any existing object.
func (w *Writer) WritePage(ctx context.Context, endpoint string, page int, payload any) error {
	key := ObjectKey(w.prefix, endpoint, page)

	data, err := json.Marshal(payload)
	if err != nil {
		storageOperationsTotal.WithLabelValues("put", "failure").Inc()
		return &WriteError{Bucket: w.bucket, Key: key, Err: fmt.Errorf("serialize payload: %w", err)}
	}

	reader := bytes.NewReader(data)
	_, err = w.store.PutObject(ctx, w.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		storageOperationsTotal.WithLabelValues("put", "failure").Inc()
		return &WriteError{Bucket: w.bucket, Key: key, Err: err}
	}

	storageOperationsTotal.WithLabelValues("put", "success").Inc()
	w.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", page).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Page written")

	return nil
}

// Bucket returns the destination bucket name.
func (w *Writer) Bucket() string {
	return w.bucket
}
