package source

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/stampdetect/internal/apperr"
)

// Source is a paged raster source.
type Source interface {
	PageCount() int
	RenderPage(index int) (image.Image, error)
	Close() error
}

// FitzPDFSource renders PDF pages through MuPDF.
type FitzPDFSource struct {
	doc  *fitz.Document
	path string
	dpi  float64
}

// NewFitzPDFSource opens the PDF at path. A dpi of 0 keeps the library's
// default rendering resolution.
func NewFitzPDFSource(path string, dpi float64) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path, dpi: dpi}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) RenderPage(index int) (image.Image, error) {
	if f.dpi > 0 {
		return f.doc.ImageDPI(index, f.dpi)
	}
	return f.doc.Image(index)
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}

// PagePath is the file a rasterized page is written to.
func PagePath(outDir, token string, index int) string {
	return filepath.Join(outDir, fmt.Sprintf("%s_%d.png", token, index))
}

// Rasterizer writes every page of a PDF to its own PNG file.
type Rasterizer struct {
	DPI      float64
	MaxPages int // 0 = no limit
	Logger   *slog.Logger

	// open is swapped in tests; nil means go-fitz.
	open func(path string, dpi float64) (Source, error)
}

func NewRasterizer(dpi float64, maxPages int, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{DPI: dpi, MaxPages: maxPages, Logger: logger}
}

func (r *Rasterizer) openSource(path string) (Source, error) {
	if r.open != nil {
		return r.open(path, r.DPI)
	}
	return NewFitzPDFSource(path, r.DPI)
}

// Rasterize renders pages 0..N-1 of pdfPath in order to
// outDir/<token>_<index>.png and returns the paths in page order.
//
// On failure the paths already written are returned together with the error
// so the caller can remove them.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, token, outDir string) ([]string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src, err := r.openSource(pdfPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDocumentOpen, "open pdf", "cannot open PDF", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close pdf", "path", pdfPath, "error", cerr)
		}
	}()

	pageCount := src.PageCount()
	if pageCount == 0 {
		return nil, apperr.New(apperr.KindDocumentOpen, "PDF has no pages")
	}
	if r.MaxPages > 0 && pageCount > r.MaxPages {
		return nil, apperr.BadRequest(fmt.Sprintf("PDF has %d pages, the limit is %d", pageCount, r.MaxPages))
	}

	logger.Debug("rasterizing pdf", "path", pdfPath, "pages", pageCount, "dpi", r.DPI)

	paths := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return paths, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("rasterize page %d", i), "rasterization canceled", err)
		}

		img, err := src.RenderPage(i)
		if err != nil {
			return paths, apperr.Wrap(apperr.KindConversion, fmt.Sprintf("render page %d", i), fmt.Sprintf("cannot render page %d", i), err)
		}

		out := PagePath(outDir, token, i)
		if err := writePNG(out, img); err != nil {
			return paths, apperr.Wrap(apperr.KindConversion, fmt.Sprintf("write page %d", i), fmt.Sprintf("cannot write page %d", i), err)
		}
		paths = append(paths, out)
	}

	return paths, nil
}
