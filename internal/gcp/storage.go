package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectNotFound is returned by object stores for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

const (
	uploadRetries = 4
	writeTimeout  = 50 * time.Second
	readTimeout   = 30 * time.Second
)

// GCSObjectStore stores session documents and their metadata in one bucket.
type GCSObjectStore struct {
	client      *storage.Client
	bucket      string
	readTimeout time.Duration
}

// NewGCSObjectStore creates a storage client bound to bucket.
func NewGCSObjectStore(ctx context.Context, bucket string) (*GCSObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must be provided to create an object store")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: bucket, readTimeout: readTimeout}, nil
}

// Put writes data to key, replacing any existing object.
func (s *GCSObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.upload(ctx, key, data, contentType, false)
}

// Create writes data to key only if the object does not exist yet. An existing
// object is not a failure; the write is treated as already done.
func (s *GCSObjectStore) Create(ctx context.Context, key string, data []byte, contentType string) error {
	return s.upload(ctx, key, data, contentType, true)
}

// Get reads the object at key.
func (s *GCSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

func (s *GCSObjectStore) upload(ctx context.Context, key string, data []byte, contentType string, ifAbsent bool) error {
	logCtx := slog.With("gcsObject", key, "bucket", s.bucket)
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < uploadRetries; i++ {
		err := s.write(ctx, key, data, contentType, ifAbsent)
		if err == nil {
			return nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			logCtx.Info("Object already exists, skipping write.")
			return nil
		}

		lastErr = err
		logCtx.Warn(
			"Upload failed, will retry.",
			"attempt", i+1,
			"maxRetries", uploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return ctx.Err()
		}
	}
	logCtx.Error("Upload failed after all retries.", "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", key, lastErr)
}

func (s *GCSObjectStore) write(ctx context.Context, key string, data []byte, contentType string, ifAbsent bool) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	if ifAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(writeCtx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}
