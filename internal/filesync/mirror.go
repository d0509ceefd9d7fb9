package filesync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// AuditMirror optionally copies every tarball built by CreateTarball to a
// GCS bucket for post-hoc audit of what a sandbox received. Off by
// default; never required for Upload to succeed.
type AuditMirror struct {
	client *storage.Client
	bucket string
}

// NewAuditMirror opens a GCS client scoped to bucket using the ambient
// application-default credentials.
func NewAuditMirror(ctx context.Context, bucket string) (*AuditMirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("filesync: open gcs client: %w", err)
	}
	return &AuditMirror{client: client, bucket: bucket}, nil
}

// Mirror uploads the tarball at tarballPath to "<objectPrefix>/<basename>"
// in the configured bucket.
func (m *AuditMirror) Mirror(ctx context.Context, tarballPath, objectPrefix string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return fmt.Errorf("filesync: open tarball for mirror: %w", err)
	}
	defer f.Close()

	objectName := objectPrefix + "/" + filepath.Base(tarballPath)
	w := m.client.Bucket(m.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("filesync: write mirror object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("filesync: finalize mirror object: %w", err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (m *AuditMirror) Close() error {
	return m.client.Close()
}
