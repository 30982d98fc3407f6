// Package storage is the object-store abstraction the pipeline relies on:
// upload extracted artifacts, download source PDFs and cached text,
// and check existence ahead of the cache-skip probe. Bucket selection is
// policy, not caller plumbing — callers pass an explicit bucket only to
// override the default for that call.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned (or wrapped) when a requested object is absent.
// Exists treats it as a normal negative result; every other caller treats
// it as a failure.
var ErrNotFound = errors.New("storage: object not found")

// IOError wraps a transport/credential failure with the operation and
// object key that triggered it, following the sentinel+wrapper shape
// used throughout this codebase for tagged errors.
type IOError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Backend is the capability set every storage implementation exposes.
// An empty bucket argument means "apply the default bucket policy";
// a non-empty one overrides it.
type Backend interface {
	Upload(ctx context.Context, localPath, objectName, bucket string) error
	Download(ctx context.Context, objectName, localPath, bucket string) (string, error)
	Exists(ctx context.Context, objectName, bucket string) (bool, error)
}

// Policy resolves the default bucket for each operation: uploads and
// existence checks default to the preprocessed bucket;
// downloads pick the preprocessed bucket when the key looks like a
// derived artifact (contains a path separator and isn't a .pdf),
// otherwise the PDF bucket.
type Policy struct {
	PDFBucket          string
	PreprocessedBucket string
}

// ResolveUpload returns the effective upload bucket.
func (p Policy) ResolveUpload(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return p.PreprocessedBucket
}

// ResolveExists returns the effective existence-check bucket.
func (p Policy) ResolveExists(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return p.PreprocessedBucket
}

// ResolveDownload returns the effective download bucket for objectName.
func (p Policy) ResolveDownload(objectName, bucket string) string {
	if bucket != "" {
		return bucket
	}
	if strings.Contains(objectName, "/") && !strings.HasSuffix(objectName, ".pdf") {
		return p.PreprocessedBucket
	}
	return p.PDFBucket
}
