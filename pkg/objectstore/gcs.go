package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// GCS uploads to a Google Cloud Storage bucket using application default
// credentials.
type GCS struct {
	client    *storage.Client
	bucket    string
	publicURL string
}

// NewGCS creates a GCS backend. publicURL defaults to
// https://storage.googleapis.com/<bucket>.
func NewGCS(ctx context.Context, bucket, publicURL string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("objectstore: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: create gcs client")
	}
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCS{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Upload streams data to bucket/key.
func (g *GCS) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "objectstore: write gs://%s/%s", g.bucket, key)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "objectstore: close gs://%s/%s", g.bucket, key)
	}
	return g.publicURL + "/" + key, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
