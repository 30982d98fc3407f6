package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalBackend is a filesystem stand-in for Backend: each bucket is a
// subdirectory under Root. It satisfies the same interface as S3Backend
// and is used in tests and for local development without MinIO.
type LocalBackend struct {
	Root   string
	policy Policy
}

// NewLocalBackend creates a LocalBackend rooted at dir.
func NewLocalBackend(dir string, policy Policy) *LocalBackend {
	return &LocalBackend{Root: dir, policy: policy}
}

func (l *LocalBackend) path(bucket, objectName string) string {
	return filepath.Join(l.Root, bucket, filepath.FromSlash(objectName))
}

// Upload copies localPath into the resolved bucket directory.
func (l *LocalBackend) Upload(_ context.Context, localPath, objectName, bucket string) error {
	b := l.policy.ResolveUpload(bucket)
	dst := l.path(b, objectName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
	}
	src, err := os.Open(localPath)
	if err != nil {
		return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
	}
	return nil
}

// Download copies objectName from the resolved bucket directory to localPath.
func (l *LocalBackend) Download(_ context.Context, objectName, localPath, bucket string) (string, error) {
	b := l.policy.ResolveDownload(objectName, bucket)
	src := l.path(b, objectName)
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &IOError{Op: "download", Bucket: b, Key: objectName, Err: ErrNotFound}
		}
		return "", &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
	}
	out, err := os.Create(localPath)
	if err != nil {
		return "", &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
	}
	return localPath, nil
}

// Exists reports whether objectName is present in the resolved bucket.
func (l *LocalBackend) Exists(_ context.Context, objectName, bucket string) (bool, error) {
	b := l.policy.ResolveExists(bucket)
	_, err := os.Stat(l.path(b, objectName))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &IOError{Op: "exists", Bucket: b, Key: objectName, Err: err}
}
