package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dupe-finder/internal/resilience"
)

// Supabase uploads through the Supabase Storage REST API.
type Supabase struct {
	baseURL string
	key     string
	bucket  string
	http    *http.Client
}

// NewSupabase creates a Supabase Storage backend.
func NewSupabase(baseURL, key, bucket string, hc *http.Client) (*Supabase, error) {
	if baseURL == "" || key == "" || bucket == "" {
		return nil, eris.New("objectstore: supabase url, key and bucket are required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Supabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		bucket:  bucket,
		http:    hc,
	}, nil
}

// Upload writes data to bucket/key, overwriting any existing object.
func (s *Supabase) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}

	url := s.baseURL + "/storage/v1/object/" + s.bucket + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "objectstore: create request")
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "objectstore: upload")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resilience.StatusError("supabase storage", resp.StatusCode, string(body))
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the public download URL for key.
func (s *Supabase) PublicURL(key string) string {
	return s.baseURL + "/storage/v1/object/public/" + s.bucket + "/" + strings.TrimLeft(key, "/")
}
