package imagepipe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upload struct {
	key         string
	data        []byte
	contentType string
}

type memStore struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (m *memStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, upload{key, data, contentType})
	return "https://cdn.test/" + key, nil
}

type fakeUpscaler struct {
	out   []byte
	err   error
	scale int
}

func (f *fakeUpscaler) Upscale(_ context.Context, _ []byte, scale int) ([]byte, error) {
	f.scale = scale
	return f.out, f.err
}

type fakeRemover struct {
	out []byte
	err error
}

func (f *fakeRemover) RemoveBackground(context.Context, []byte, string) ([]byte, error) {
	return f.out, f.err
}

func opaqueJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func transparentPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(w/2, h/2, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// hugePNG is a tiny PNG whose header declares w x h pixels.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	b := transparentPNG(t, 1, 1)
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcess_PlainJPEG(t *testing.T) {
	src := opaqueJPEG(t, 8, 8)
	srv := serve(t, src)
	store := &memStore{}

	url, err := New(store).Process(context.Background(), srv.URL+"/a.jpg", "products/p1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/products/p1.jpg", url)
	require.Len(t, store.uploads, 1)
	assert.Equal(t, "image/jpeg", store.uploads[0].contentType)
	assert.Equal(t, src, store.uploads[0].data)
}

func TestProcess_BackgroundRemovalProducesPNG(t *testing.T) {
	srv := serve(t, opaqueJPEG(t, 8, 8))
	store := &memStore{}
	cut := transparentPNG(t, 8, 8)

	p := New(store, WithBackgroundRemover(&fakeRemover{out: cut}, nil))
	url, err := p.Process(context.Background(), srv.URL, "products/p1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/products/p1.png", url)
	assert.Equal(t, "image/png", store.uploads[0].contentType)
	assert.Equal(t, cut, store.uploads[0].data)
}

func TestProcess_StageFailuresFallBack(t *testing.T) {
	src := opaqueJPEG(t, 8, 8)
	srv := serve(t, src)
	store := &memStore{}
	up := &fakeUpscaler{err: errors.New("quota exceeded")}

	p := New(store,
		WithUpscaler(up, 4, nil),
		WithBackgroundRemover(&fakeRemover{err: errors.New("model loading")}, nil),
	)
	url, err := p.Process(context.Background(), srv.URL, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, 4, up.scale)
	assert.Equal(t, src, store.uploads[0].data)
}

func TestProcess_NonImageStageOutputFallsBack(t *testing.T) {
	src := opaqueJPEG(t, 8, 8)
	srv := serve(t, src)
	store := &memStore{}

	p := New(store,
		WithUpscaler(&fakeUpscaler{out: []byte(`{"error":"rate limited"}`)}, 2, nil),
		WithBackgroundRemover(&fakeRemover{out: []byte("<html>loading</html>")}, nil),
	)
	url, err := p.Process(context.Background(), srv.URL, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	require.Len(t, store.uploads, 1)
	assert.Equal(t, src, store.uploads[0].data)
}

func TestProcess_HugeDeclaredDimensions(t *testing.T) {
	srv := serve(t, hugePNG(t, 100000, 100000))
	store := &memStore{}

	url, err := New(store).Process(context.Background(), srv.URL, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pixel budget")
	assert.Empty(t, url)
	assert.Empty(t, store.uploads)
}

func TestProcess_HugeRemoverOutputFallsBack(t *testing.T) {
	src := opaqueJPEG(t, 8, 8)
	srv := serve(t, src)
	store := &memStore{}

	p := New(store, WithBackgroundRemover(&fakeRemover{out: hugePNG(t, 60000, 60000)}, nil))
	_, err := p.Process(context.Background(), srv.URL, "k")
	require.NoError(t, err)
	assert.Equal(t, src, store.uploads[0].data)
}

func TestCheckImage(t *testing.T) {
	assert.NoError(t, checkImage(opaqueJPEG(t, 8, 8), 16))
	assert.NoError(t, checkImage(opaqueJPEG(t, 8, 8), 0))
	assert.Error(t, checkImage([]byte("not an image"), 16))
	assert.ErrorContains(t, checkImage(hugePNG(t, 5000, 5000), 1024), "exceed pixel budget")
}

func TestProcess_UpscaleUsed(t *testing.T) {
	srv := serve(t, opaqueJPEG(t, 4, 4))
	store := &memStore{}
	big := opaqueJPEG(t, 16, 16)

	_, err := New(store, WithUpscaler(&fakeUpscaler{out: big}, 2, nil)).Process(context.Background(), srv.URL, "k")
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(store.uploads[0].data))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
}

func TestProcess_DownscalesOversized(t *testing.T) {
	srv := serve(t, opaqueJPEG(t, 64, 32))
	store := &memStore{}

	_, err := New(store, WithMaxDimension(16)).Process(context.Background(), srv.URL, "k")
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(store.uploads[0].data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestProcess_FetchFailures(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	store := &memStore{}
	p := New(store, WithMaxBytes(10))

	tests := []struct {
		name string
		url  string
	}{
		{"status", notFound.URL},
		{"scheme", "ftp://example.com/a.png"},
		{"too_large", serve(t, opaqueJPEG(t, 8, 8)).URL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := p.Process(context.Background(), tt.url, "k")
			assert.Error(t, err)
			assert.Empty(t, url)
		})
	}
	assert.Empty(t, store.uploads)
}

func TestProcess_UploadFailure(t *testing.T) {
	srv := serve(t, opaqueJPEG(t, 4, 4))
	url, err := New(&memStore{err: errors.New("bucket missing")}).Process(context.Background(), srv.URL, "k")
	require.Error(t, err)
	assert.Empty(t, url)
}

func TestProcess_NotAnImage(t *testing.T) {
	srv := serve(t, []byte("<html>blocked</html>"))
	_, err := New(&memStore{}).Process(context.Background(), srv.URL, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode image")
}

func TestHasAlpha(t *testing.T) {
	img, _, err := image.Decode(bytes.NewReader(transparentPNG(t, 2, 2)))
	require.NoError(t, err)
	assert.True(t, hasAlpha(img))

	img, _, err = image.Decode(bytes.NewReader(opaqueJPEG(t, 2, 2)))
	require.NoError(t, err)
	assert.False(t, hasAlpha(img))
}

func TestWithExtension(t *testing.T) {
	assert.Equal(t, "a/b.png", withExtension("a/b.jpg", "image/png"))
	assert.Equal(t, "a/b.jpg", withExtension("a/b", "image/jpeg"))
}
