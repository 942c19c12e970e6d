// Package getimg is a client for the getimg.ai image upscaling endpoint.
package getimg

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dupe-finder/internal/resilience"
)

const (
	defaultBaseURL = "https://api.getimg.ai/v1"
	defaultModel   = "real-esrgan-4x"
)

// Client upscales images.
type Client interface {
	Upscale(ctx context.Context, image []byte, scale int) ([]byte, error)
}

type upscaleRequest struct {
	Model        string `json:"model"`
	Image        string `json:"image"`
	Scale        int    `json:"scale"`
	OutputFormat string `json:"output_format"`
}

type upscaleResponse struct {
	Image string  `json:"image"`
	Cost  float64 `json:"cost"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a getimg client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Upscale returns the image enlarged by scale, always PNG encoded.
func (c *httpClient) Upscale(ctx context.Context, image []byte, scale int) ([]byte, error) {
	if scale < 2 {
		scale = 2
	}
	body, err := json.Marshal(upscaleRequest{
		Model:        defaultModel,
		Image:        base64.StdEncoding.EncodeToString(image),
		Scale:        scale,
		OutputFormat: "png",
	})
	if err != nil {
		return nil, eris.Wrap(err, "getimg: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enhancements/upscale", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "getimg: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "getimg: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "getimg: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("getimg", resp.StatusCode, string(respBody))
	}

	var out upscaleResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "getimg: unmarshal response")
	}
	img, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, eris.Wrap(err, "getimg: decode image")
	}
	if len(img) == 0 {
		return nil, eris.New("getimg: empty image in response")
	}
	return img, nil
}
