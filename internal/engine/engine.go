// Package engine turns an uploaded document into per-page detection results.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/apperr"
)

const mediaTypePDF = "application/pdf"

// Rasterizer renders every page of a PDF to its own image file.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, token, outDir string) ([]string, error)
}

// Converter re-encodes an image file as PNG and returns the new path.
type Converter interface {
	ConvertToPNG(path string) (string, error)
}

// Detector runs signature and stamp detection on an image file.
type Detector interface {
	DetectFile(ctx context.Context, path string) (analyzer.PageResult, error)
}

// Upload is a document received from a client. A nil Body means the
// request carried no file part at all.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Processor handles one upload end to end: persist, branch on media type,
// detect per page, clean up.
type Processor struct {
	DataDir    string
	Rasterizer Rasterizer
	Converter  Converter
	Detector   Detector
	Logger     *slog.Logger

	newID func() string
}

func NewProcessor(dataDir string, r Rasterizer, c Converter, d Detector, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		DataDir:    dataDir,
		Rasterizer: r,
		Converter:  c,
		Detector:   d,
		Logger:     logger,
		newID:      uuid.NewString,
	}
}

// Process runs detection over up. Every file created on the way is removed
// before Process returns, whatever the outcome.
func (p *Processor) Process(ctx context.Context, up Upload) (*Response, error) {
	if up.Body == nil {
		return nil, apperr.BadRequest("No file part")
	}
	if strings.TrimSpace(up.Filename) == "" {
		return nil, apperr.BadRequest("No selected file")
	}

	newID := p.newID
	if newID == nil {
		newID = uuid.NewString
	}
	id := newID()
	logger := p.Logger.With("file_id", id)
	if rid := RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("request_id", rid)
	}

	ws := newWorkspace(logger)
	defer ws.cleanup()

	// "-" keeps the upload out of the "<id>_<n>.png" page namespace.
	path := filepath.Join(p.DataDir, id+"-"+SecureFilename(up.Filename))
	head, err := ws.save(path, up.Body)
	if err != nil {
		logger.Error("failed to save upload", "path", path, "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "save upload", "Error saving uploaded file", err)
	}

	mediaType := ResolveMediaType(up.ContentType, head)
	logger.Info("processing upload", "filename", up.Filename, "media_type", mediaType)

	if mediaType == mediaTypePDF {
		return p.processPDF(ctx, ws, logger, id, path)
	}
	return p.processImage(ctx, ws, logger, path)
}

func (p *Processor) processPDF(ctx context.Context, ws *workspace, logger *slog.Logger, id, path string) (*Response, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.BadRequest("File does not exist")
	}

	pages, err := p.Rasterizer.Rasterize(ctx, path, id, p.DataDir)
	ws.track(pages...)
	if err != nil {
		logger.Error("rasterize failed", "op", apperr.OpOf(err), "error", err)
		if apperr.KindOf(err) == apperr.KindBadRequest {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindInternal, "rasterize", "Error processing PDF", err)
	}

	resp := NewResponse()
	for i, page := range pages {
		res, err := p.Detector.DetectFile(ctx, page)
		if err != nil {
			logger.Error("page detection failed", "page", i+1, "op", apperr.OpOf(err), "error", err)
			return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("detect page %d", i+1), "Error processing PDF", err)
		}
		resp.Add(PageKey(i+1), res)
	}

	logger.Info("pdf processed", "pages", resp.Len(), "detections", resp.DetectionCount())
	return resp, nil
}

func (p *Processor) processImage(ctx context.Context, ws *workspace, logger *slog.Logger, path string) (*Response, error) {
	pngPath, err := p.Converter.ConvertToPNG(path)
	if err != nil {
		logger.Error("image conversion failed", "op", apperr.OpOf(err), "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "convert image", "Error performing sign and stamp detection", err)
	}
	ws.track(pngPath)

	res, err := p.Detector.DetectFile(ctx, pngPath)
	if err != nil {
		logger.Error("detection failed", "op", apperr.OpOf(err), "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "detect image", "Error performing sign and stamp detection", err)
	}

	resp := NewResponse()
	resp.Add(PageKey(1), res)
	logger.Info("image processed", "detections", resp.DetectionCount())
	return resp, nil
}

// PageKey is the response key for the 1-based page number n.
func PageKey(n int) string {
	return fmt.Sprintf("page%d", n)
}

// ResolveMediaType returns the bare media type of declared. Empty or
// generic declarations are replaced by a guess from the first bytes of the
// body.
func ResolveMediaType(declared string, head []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(head))
	}
	return strings.ToLower(mt)
}
