// Package objectstore uploads processed product images to a public bucket.
package objectstore

import (
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Store writes an object and returns the URL it is publicly served from.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend     string // supabase | gcs | none
	Bucket      string
	SupabaseURL string
	SupabaseKey string
	PublicURL   string
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "supabase":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket, nil)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.PublicURL)
	case "", "none":
		return Noop{}, nil
	default:
		return nil, eris.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}
}

// Noop discards uploads and returns an empty URL.
type Noop struct{}

// Upload implements Store.
func (Noop) Upload(context.Context, string, []byte, string) (string, error) {
	return "", nil
}

// ContentTypeForKey infers a content type from the key's extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return "", eris.Errorf("objectstore: invalid key %q", key)
	}
	return key, nil
}
