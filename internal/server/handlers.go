package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ivlev/stampdetect/internal/apperr"
	"github.com/ivlev/stampdetect/internal/engine"
	"github.com/ivlev/stampdetect/internal/system"
)

const uploadField = "file"

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"Message": "Hello User, API is Working."})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	logger := s.logger.With("request_id", engine.RequestIDFromContext(r.Context()))

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(s.cfg.MaxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds the upload limit of %d bytes", tooLarge.Limit))
			return
		}
		logger.Warn("cannot parse upload", "error", err)
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer r.MultipartForm.RemoveAll()

	up, closer, err := uploadFromForm(r.MultipartForm)
	if err != nil {
		logger.Error("cannot open upload", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	resp, err := s.processor.Process(r.Context(), up)
	if err != nil {
		status := apperr.StatusCode(err)
		logger.Error("detection request failed",
			"status", status,
			"kind", apperr.KindOf(err).String(),
			"op", apperr.OpOf(err),
			"error", err)
		writeError(w, status, apperr.Detail(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// uploadFromForm picks the "file" part. A part sent with an empty filename
// is parsed as a plain value; it maps to an upload without a name.
func uploadFromForm(form *multipart.Form) (engine.Upload, io.Closer, error) {
	if fhs := form.File[uploadField]; len(fhs) > 0 {
		fh := fhs[0]
		f, err := fh.Open()
		if err != nil {
			return engine.Upload{}, nil, fmt.Errorf("open upload: %w", err)
		}
		return engine.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		}, f, nil
	}
	if vals, ok := form.Value[uploadField]; ok {
		return engine.Upload{Body: strings.NewReader(strings.Join(vals, ""))}, nil, nil
	}
	return engine.Upload{}, nil, nil
}

type healthResponse struct {
	Status string          `json:"status"`
	Model  string          `json:"model"`
	Error  string          `json:"error,omitempty"`
	System system.Snapshot `json:"system"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Model: s.model.ModelName()}
	status := http.StatusOK
	if err := s.model.CheckHealth(ctx); err != nil {
		s.logger.Warn("model backend unhealthy", "model", resp.Model, "error", err)
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	snap, err := system.TakeSnapshot(ctx, s.dataDir)
	if err != nil {
		s.logger.Debug("partial system snapshot", "error", err)
	}
	resp.System = snap

	writeJSON(w, status, resp)
}
