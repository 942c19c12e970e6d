// Package huggingface calls a hosted image segmentation model to remove
// product photo backgrounds.
package huggingface

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dupe-finder/internal/resilience"
)

// DefaultModelURL is the background removal model used when none is configured.
const DefaultModelURL = "https://api-inference.huggingface.co/models/briaai/RMBG-1.4"

// Client removes image backgrounds.
type Client interface {
	RemoveBackground(ctx context.Context, image []byte, contentType string) ([]byte, error)
}

type httpClient struct {
	token    string
	modelURL string
	http     *http.Client
}

// NewClient creates a client for the model at modelURL.
func NewClient(token, modelURL string, hc *http.Client) Client {
	if modelURL == "" {
		modelURL = DefaultModelURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &httpClient{token: token, modelURL: modelURL, http: hc}
}

// RemoveBackground posts the raw image and returns the model's PNG output.
// A 503 means the model is still loading and is reported as transient.
func (c *httpClient) RemoveBackground(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(image))
	if err != nil {
		return nil, eris.Wrap(err, "huggingface: create request")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/png")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "huggingface: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, eris.Wrap(err, "huggingface: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("huggingface", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); len(ct) >= 16 && ct[:16] == "application/json" {
		return nil, eris.Errorf("huggingface: expected image, got json: %s", truncate(body, 200))
	}
	if len(body) == 0 {
		return nil, eris.New("huggingface: empty response")
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
