package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dupe-finder/internal/dupes"
	"github.com/sells-group/dupe-finder/internal/jobs"
	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/resilience"
)

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, text string) (*dupes.SearchResult, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(*dupes.SearchResult)
	return res, args.Error(1)
}

func (m *mockSearcher) SearchImage(ctx context.Context, data []byte, mimeType string) (*dupes.SearchResult, error) {
	args := m.Called(ctx, data, mimeType)
	res, _ := args.Get(0).(*dupes.SearchResult)
	return res, args.Error(1)
}

func (m *mockSearcher) AnalyzeExisting(ctx context.Context, req model.JobRequest) error {
	return m.Called(ctx, req).Error(0)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, kind jobs.Kind, req model.JobRequest) error {
	return m.Called(ctx, kind, req).Error(0)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(s *mockSearcher, r *mockRunner) http.Handler {
	return New(s, r, pinger{}, Config{MaxImageBytes: 1024})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

var tarte = &dupes.SearchResult{ProductID: "p1", Name: "Shape Tape Concealer", Brand: "Tarte", Slug: "tarte-shape-tape-concealer"}

func TestSearchDupes(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, "shape tape").Return(tarte, nil)

	rec, out := do(t, newTestServer(s, &mockRunner{}), http.MethodPost, "/search-dupes", `{"searchText":"shape tape"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "Shape Tape Concealer", data["name"])
	assert.Equal(t, "Tarte", data["brand"])
	assert.Equal(t, "tarte-shape-tape-concealer", data["slug"])
	_, hasExisting := data["Existing"]
	assert.False(t, hasExisting)
}

func TestSearchDupes_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", model.ValidationError("search", errors.New("searchText is required")), http.StatusBadRequest, "searchText is required"},
		{"identification", model.IdentificationError("identify", errors.New("could not determine product brand or name")), http.StatusBadRequest, "could not determine product brand or name"},
		{"persistence", model.PersistenceError("create original product", errors.New("pq: boom")), http.StatusInternalServerError, "internal error"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{}
			s.On("Search", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec, out := do(t, newTestServer(s, &mockRunner{}), http.MethodPost, "/search-dupes", `{"searchText":"x"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.msg, out["error"])
		})
	}
}

func TestSearchDupes_BadBody(t *testing.T) {
	rec, out := do(t, newTestServer(&mockSearcher{}, &mockRunner{}), http.MethodPost, "/search-dupes", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&mockSearcher{}, &mockRunner{})
	for _, path := range []string{"/search-dupes", "/populate-reviews", "/process-detailed-analysis"} {
		rec, out := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, "method not allowed", out["error"])
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&mockSearcher{}, &mockRunner{})
	req := httptest.NewRequest(http.MethodOptions, "/search-dupes", nil)
	req.Header.Set("Origin", "https://dupes.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestPopulate(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, jobs.KindReviews, mock.MatchedBy(func(req model.JobRequest) bool {
		return req.OriginalProductID == "p1" && len(req.DupeProductIDs) == 1
	})).Return(nil)

	rec, out := do(t, newTestServer(&mockSearcher{}, r), http.MethodPost, "/populate-reviews",
		`{"originalProductId":"p1","dupeProductIds":["d1"],"originalName":"Shape Tape","originalBrand":"Tarte"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	r.AssertExpectations(t)
}

func TestPopulate_AllRoutes(t *testing.T) {
	for _, kind := range jobs.Kinds {
		r := &mockRunner{}
		r.On("Run", mock.Anything, kind, mock.Anything).Return(nil)
		rec, _ := do(t, newTestServer(&mockSearcher{}, r), http.MethodPost, "/populate-"+string(kind), `{"originalProductId":"p1"}`)
		assert.Equal(t, http.StatusOK, rec.Code, kind)
	}
}

func TestPopulate_MissingOriginal(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, jobs.KindIngredients, mock.Anything).
		Return(model.ValidationError("validate job request", errors.New("originalProductId is required")))

	rec, out := do(t, newTestServer(&mockSearcher{}, r), http.MethodPost, "/populate-ingredients", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "originalProductId is required", out["error"])
}

func TestProcessDetailedAnalysis(t *testing.T) {
	s := &mockSearcher{}
	s.On("AnalyzeExisting", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("AnalyzeExisting", mock.Anything, mock.Anything).Return(model.EnrichmentError("compare", errors.New("openai down"))).Once()
	h := newTestServer(s, &mockRunner{})

	rec, out := do(t, h, http.MethodPost, "/process-detailed-analysis", `{"originalProductId":"p1","dupeProductIds":["d1","d2"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])

	rec, _ = do(t, h, http.MethodPost, "/process-detailed-analysis", `{"originalProductId":"p1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSearchDupesImage_JSON(t *testing.T) {
	img := []byte("\x89PNG\r\n\x1a\nfake")
	s := &mockSearcher{}
	s.On("SearchImage", mock.Anything, img, "image/png").Return(tarte, nil)
	h := newTestServer(s, &mockRunner{})

	body := `{"image":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(img) + `"}`
	rec, out := do(t, h, http.MethodPost, "/search-dupes-image", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])

	rec, _ = do(t, h, http.MethodPost, "/search-dupes-image", `{"image":"%%%"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/search-dupes-image", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchDupesImage_Multipart(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'}
	s := &mockSearcher{}
	s.On("SearchImage", mock.Anything, img, "image/jpeg").Return(tarte, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/search-dupes-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newTestServer(s, &mockRunner{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	s.AssertExpectations(t)
}

func TestSearchDupesImage_TooLarge(t *testing.T) {
	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 2048))
	rec, out := do(t, newTestServer(&mockSearcher{}, &mockRunner{}), http.MethodPost, "/search-dupes-image", `{"image":"`+big+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "image too large", out["error"])
}

func TestHealth(t *testing.T) {
	rec, out := do(t, newTestServer(&mockSearcher{}, &mockRunner{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	h := New(&mockSearcher{}, &mockRunner{}, pinger{err: errors.New("db down")}, Config{})
	rec, out = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", out["status"])
}

type breakerStates map[string]resilience.CircuitState

func (b breakerStates) States() map[string]resilience.CircuitState { return b }

func TestHealth_Breakers(t *testing.T) {
	h := New(&mockSearcher{}, &mockRunner{}, pinger{}, Config{
		Breakers: breakerStates{"openai": resilience.CircuitOpen, "upcitemdb": resilience.CircuitClosed},
	})
	rec, out := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"openai": "open", "upcitemdb": "closed"}, out["breakers"])
}

func TestSplitDataURL(t *testing.T) {
	p, m := splitDataURL("data:image/webp;base64,AAAA")
	assert.Equal(t, "AAAA", p)
	assert.Equal(t, "image/webp", m)

	p, m = splitDataURL(" AAAA ")
	assert.Equal(t, "AAAA", p)
	assert.Empty(t, m)
}
