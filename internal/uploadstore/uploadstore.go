// Package uploadstore archives raw statement uploads in Cloud Storage so the
// original bytes survive normalization. Objects live under
// uploads/<user_id>/<timestamp>-<filename>.
package uploadstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Store archives uploads in a GCS bucket. The client is shared; create one
// Store per process.
type Store struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// NewStore creates a GCS-backed archive. Application Default Credentials are
// assumed.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: create storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket, now: time.Now}, nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Archive writes one uploaded file and returns its gs:// URI.
func (s *Store) Archive(ctx context.Context, userID, filename string, data []byte) (string, error) {
	object := fmt.Sprintf("uploads/%s/%d-%s", userID, s.now().UTC().UnixNano(), path.Base(filename))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("uploadstore: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("uploadstore: finalize %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// Fetch downloads an archived upload by its gs:// URI.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: reading %s: %w", uri, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: reading bytes of %s: %w", uri, err)
	}
	return data, nil
}

func splitURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("uploadstore: invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("uploadstore: invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
