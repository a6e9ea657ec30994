package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

// Destination stores a rendered document for a user and returns where it was
// written.
type Destination interface {
	Deliver(ctx context.Context, userID string, doc Document) (string, error)
}

// DirDestination writes documents under Dir/<userID>/.
type DirDestination struct {
	Dir string
}

// Deliver implements Destination.
func (d DirDestination) Deliver(ctx context.Context, userID string, doc Document) (string, error) {
	dir := filepath.Join(d.Dir, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("Deliver: creating %s: %w", dir, err)
	}

	p := filepath.Join(dir, doc.Name)
	if err := os.WriteFile(p, doc.Data, 0o644); err != nil {
		return "", fmt.Errorf("Deliver: writing %s: %w", p, err)
	}
	return p, nil
}

// GCSDestination uploads documents to a bucket as <prefix>/<userID>/<name>.
// It assumes Application Default Credentials are configured.
type GCSDestination struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSDestination creates a storage client for bucket.
func NewGCSDestination(ctx context.Context, bucket, prefix string) (*GCSDestination, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSDestination: create storage client: %w", err)
	}
	return &GCSDestination{client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectName returns the object path a document is uploaded to.
func (g *GCSDestination) ObjectName(userID string, doc Document) string {
	return path.Join(g.prefix, userID, doc.Name)
}

// Deliver implements Destination and returns a gs:// URI.
func (g *GCSDestination) Deliver(ctx context.Context, userID string, doc Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	name := g.ObjectName(userID, doc)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = doc.ContentType

	if _, err := io.Copy(w, bytes.NewReader(doc.Data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Deliver: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Deliver: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, name), nil
}

// Close releases the storage client.
func (g *GCSDestination) Close() error {
	return g.client.Close()
}

var (
	_ Destination = DirDestination{}
	_ Destination = (*GCSDestination)(nil)
)
