package gcp

import (
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
	"google.golang.org/api/iterator"
)

// RetryPolicy bounds Retry. Backoff doubles after every failed attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used by UploadFile.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Backoff: time.Second}

// errPermanent marks an error Retry must not repeat.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Permanent wraps err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errPermanent{err: err}
}

// Retry calls op until it succeeds, returns a Permanent error, the attempts run out
// or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, label string, op func(ctx context.Context) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	backoff := policy.Backoff
	var lastErr error

	for i := 0; i < policy.Attempts; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm errPermanent
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if i == policy.Attempts-1 {
			break
		}
		slog.Warn(
			"Operation failed, will retry.",
			"operation", label,
			"attempt", i+1,
			"maxRetries", policy.Attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "operation", label, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Operation failed after all retries.", "operation", label, "error", lastErr)
	return fmt.Errorf("%s failed after all retries: %w", label, lastErr)
}

// IsPreconditionFailed reports whether err is a 412 from a conditional write.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// DownloadObject streams gs://bucket/object into destPath.
func DownloadObject(ctx context.Context, bucket *storage.BucketHandle, object, destPath string) error {
	reader, err := bucket.Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", object, err)
	}
	defer reader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	if _, err := io.Copy(localFile, reader); err != nil {
		localFile.Close()
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return localFile.Close()
}

// UploadFile writes localPath to objectName only if the object doesn't already
// exist, retrying transient failures. An existing object is not a failure, so a
// redelivered event can upload the same outputs again.
func UploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, objectName, contentType string) error {
	return Retry(ctx, DefaultRetryPolicy, "upload "+objectName, func(ctx context.Context) error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return Permanent(fmt.Errorf("could not open local file %s: %w", localPath, err))
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		defer cancel()

		writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
		writer.ContentType = contentType

		if _, err := io.Copy(writer, localFileReader); err != nil {
			_ = writer.Close()
			if IsPreconditionFailed(err) {
				slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
				return nil
			}
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := writer.Close(); err != nil {
			if IsPreconditionFailed(err) {
				slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
				return nil
			}
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

// ListObjects returns the names of the objects under prefix.
func ListObjects(ctx context.Context, bucket *storage.BucketHandle, prefix string) ([]string, error) {
	var names []string
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
