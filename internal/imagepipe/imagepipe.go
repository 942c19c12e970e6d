// Package imagepipe re-hosts product images: fetch, optional upscale,
// optional background removal, then upload to object storage.
package imagepipe

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/pkg/objectstore"
)

// Upscaler enlarges an image. Satisfied by getimg.Client.
type Upscaler interface {
	Upscale(ctx context.Context, image []byte, scale int) ([]byte, error)
}

// BackgroundRemover cuts the product out of its background. Satisfied by
// huggingface.Client.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte, contentType string) ([]byte, error)
}

// Pipeline processes images into object storage.
type Pipeline struct {
	store        objectstore.Store
	http         *http.Client
	upscaler     Upscaler
	upscaleGuard *resilience.Guard
	remover      BackgroundRemover
	removeGuard  *resilience.Guard
	scale        int
	maxBytes     int64
	maxDimension int
	fetchTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithUpscaler enables the upscale stage. guard may be nil.
func WithUpscaler(u Upscaler, scale int, guard *resilience.Guard) Option {
	return func(p *Pipeline) {
		p.upscaler = u
		p.upscaleGuard = guard
		if scale > 1 {
			p.scale = scale
		}
	}
}

// WithBackgroundRemover enables the background removal stage.
func WithBackgroundRemover(r BackgroundRemover, guard *resilience.Guard) Option {
	return func(p *Pipeline) {
		p.remover = r
		p.removeGuard = guard
	}
}

// WithHTTPClient sets the client used to fetch source images.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Pipeline) { p.http = hc }
}

// WithMaxBytes caps the fetched and processed image size.
func WithMaxBytes(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithMaxDimension caps the longest edge of the uploaded image.
func WithMaxDimension(px int) Option {
	return func(p *Pipeline) {
		if px > 0 {
			p.maxDimension = px
		}
	}
}

// WithFetchTimeout bounds the source fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// New creates a Pipeline that uploads to store.
func New(store objectstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		http:         &http.Client{},
		scale:        2,
		maxBytes:     10 << 20,
		maxDimension: 2048,
		fetchTimeout: 20 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process re-hosts the image at sourceURL under key and returns its public
// URL. A failed fetch or upload returns "" and an error; a failed upscale or
// background removal falls back to the previous bytes.
func (p *Pipeline) Process(ctx context.Context, sourceURL, key string) (string, error) {
	log := zap.L().With(zap.String("source_url", sourceURL), zap.String("key", key))

	data, err := p.fetch(ctx, sourceURL)
	if err != nil {
		return "", eris.Wrap(err, "imagepipe: fetch")
	}

	if p.upscaler != nil {
		up, err := resilience.Call(ctx, p.upscaleGuard, "upscale", true, func(ctx context.Context) ([]byte, error) {
			return p.upscaler.Upscale(ctx, data, p.scale)
		})
		if err == nil && int64(len(up)) > p.maxBytes {
			err = eris.Errorf("upscaled image is %d bytes", len(up))
		}
		if err == nil {
			err = checkImage(up, p.budgetDim())
		}
		if err != nil {
			log.Warn("imagepipe: upscale failed, keeping original", zap.Error(err))
		} else {
			data = up
		}
	}

	if p.remover != nil {
		cut, err := resilience.Call(ctx, p.removeGuard, "remove background", true, func(ctx context.Context) ([]byte, error) {
			return p.remover.RemoveBackground(ctx, data, http.DetectContentType(data))
		})
		if err == nil {
			err = checkImage(cut, p.budgetDim())
		}
		if err != nil {
			log.Warn("imagepipe: background removal failed, keeping previous", zap.Error(err))
		} else {
			data = cut
		}
	}

	final, contentType, err := normalize(data, p.maxDimension, p.budgetDim())
	if err != nil {
		return "", eris.Wrap(err, "imagepipe: normalize")
	}

	url, err := p.store.Upload(ctx, withExtension(key, contentType), final, contentType)
	if err != nil {
		return "", eris.Wrap(err, "imagepipe: upload")
	}
	log.Debug("imagepipe: processed", zap.String("content_type", contentType), zap.Int("bytes", len(final)))
	return url, nil
}

// budgetDim is the edge length the decode pixel budget is derived from. It
// leaves room for an upscaled source before it is resized.
func (p *Pipeline) budgetDim() int {
	if p.upscaler != nil && p.scale > 1 {
		return p.maxDimension * p.scale
	}
	return p.maxDimension
}

func (p *Pipeline) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		return nil, eris.Errorf("unsupported url %q", sourceURL)
	}
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	if int64(len(data)) > p.maxBytes {
		return nil, eris.Errorf("image exceeds %d bytes", p.maxBytes)
	}
	if len(data) == 0 {
		return nil, eris.New("empty body")
	}
	return data, nil
}

// withExtension replaces key's extension with the one matching contentType.
func withExtension(key, contentType string) string {
	ext := ".jpg"
	if contentType == "image/png" {
		ext = ".png"
	}
	return strings.TrimSuffix(key, path.Ext(key)) + ext
}
