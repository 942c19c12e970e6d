package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/jobs"
	"github.com/sells-group/dupe-finder/internal/model"
)

type success struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps pipeline error kinds onto HTTP statuses. Server-side
// failures are logged and reported without internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch model.KindOf(err) {
	case model.KindValidation, model.KindIdentification:
		writeJSON(w, http.StatusBadRequest, failure{Error: clientMessage(err)})
		return
	}
	zap.L().Error("server: request failed",
		zap.String("path", r.URL.Path), zap.String("kind", string(model.KindOf(err))), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, failure{Error: "internal error"})
}

// clientMessage strips the kind and op prefix of a model.Error.
func clientMessage(err error) string {
	var e *model.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.ValidationError("decode request", eris.Wrap(err, "invalid request body"))
	}
	return nil
}

func (h *handler) searchContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.cfg.SearchTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.cfg.SearchTimeout)
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	resp := map[string]any{"status": "ok"}
	if h.cfg.Breakers != nil {
		breakers := make(map[string]string)
		for name, st := range h.cfg.Breakers.States() {
			breakers[name] = st.String()
		}
		resp["breakers"] = breakers
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) searchDupes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SearchText string `json:"searchText"`
	}
	if err := h.decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := h.searchContext(r)
	defer cancel()
	res, err := h.search.Search(ctx, body.SearchText)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, Data: res})
}

func (h *handler) searchDupesImage(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := h.readImage(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := h.searchContext(r)
	defer cancel()
	res, err := h.search.SearchImage(ctx, data, mimeType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, Data: res})
}

// readImage accepts a multipart "image" file or a JSON body carrying base64
// or a data URL.
func (h *handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes+1<<20)
		file, hdr, err := r.FormFile("image")
		if err != nil {
			return nil, "", model.ValidationError("read image", eris.Wrap(err, "image file is required"))
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxImageBytes+1))
		if err != nil {
			return nil, "", model.ValidationError("read image", eris.Wrap(err, "read image file"))
		}
		if int64(len(data)) > h.cfg.MaxImageBytes {
			return nil, "", model.ValidationError("read image", eris.New("image too large"))
		}
		mimeType := hdr.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(data)
		}
		return data, mimeType, nil
	}

	var body struct {
		Image    string `json:"image"`
		MimeType string `json:"mimeType"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes*4/3+1<<20)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, "", model.ValidationError("read image", eris.Wrap(err, "invalid request body"))
	}
	encoded, mimeType := splitDataURL(body.Image)
	if mimeType == "" {
		mimeType = body.MimeType
	}
	if encoded == "" {
		return nil, "", model.ValidationError("read image", eris.New("image is required"))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", model.ValidationError("read image", eris.Wrap(err, "image is not valid base64"))
	}
	if int64(len(data)) > h.cfg.MaxImageBytes {
		return nil, "", model.ValidationError("read image", eris.New("image too large"))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// splitDataURL returns the payload and media type of a data URL, or s
// unchanged when it is plain base64.
func splitDataURL(s string) (payload, mimeType string) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return s, ""
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", ""
	}
	mimeType, _, _ = strings.Cut(meta, ";")
	return payload, mimeType
}

func (h *handler) processDetailedAnalysis(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.search.AnalyzeExisting(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true})
}

func (h *handler) populate(kind jobs.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.JobRequest
		if err := h.decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.jobs.Run(r.Context(), kind, req); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, success{Success: true})
	}
}
