package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/apperr"
	"github.com/ivlev/stampdetect/internal/fixtures"
	"github.com/ivlev/stampdetect/internal/source"
)

type fakeDetector struct {
	calls  []string
	failOn int // 1-based call number that fails; 0 = never
}

func (f *fakeDetector) DetectFile(ctx context.Context, path string) (analyzer.PageResult, error) {
	f.calls = append(f.calls, path)
	if f.failOn == len(f.calls) {
		return analyzer.PageResult{}, apperr.Wrap(apperr.KindDetection, "detect", "Error processing image", errors.New("model unreachable"))
	}
	if _, err := os.Stat(path); err != nil {
		return analyzer.PageResult{}, err
	}
	return analyzer.PageResult{
		Detections:           []analyzer.Region{{BBox: [4]int{1, 2, 3, 4}, Label: "signature", Confidence: 0.9}},
		ImageWithAnnotations: "data:image/jpeg;base64,AAAA",
	}, nil
}

type fakeRasterizer struct {
	pages int
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, pdfPath, token, outDir string) ([]string, error) {
	var paths []string
	for i := 0; i < f.pages; i++ {
		p := source.PagePath(outDir, token, i)
		if err := os.WriteFile(p, []byte("png"), 0644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, f.err
}

func newTestProcessor(t *testing.T, r Rasterizer, d Detector) (*Processor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewProcessor(dir, r, source.PNGConverter{}, d, nil), dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("leftover file: %s", e.Name())
	}
}

func TestProcessImage(t *testing.T) {
	det := &fakeDetector{}
	p, dir := newTestProcessor(t, &fakeRasterizer{}, det)

	data, err := fixtures.EncodeJPEG(fixtures.Document(80, 40))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Process(context.Background(), Upload{
		Filename:    "my scan.jpg",
		ContentType: "image/jpeg",
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if keys := resp.Keys(); len(keys) != 1 || keys[0] != "page1" {
		t.Errorf("keys = %v, want [page1]", keys)
	}
	if len(det.calls) != 1 || !strings.HasSuffix(det.calls[0], "-my_scan.png") {
		t.Errorf("detector calls = %v", det.calls)
	}
	assertEmptyDir(t, dir)
}

func TestProcessPDF(t *testing.T) {
	for _, pages := range []int{1, 3, 12} {
		det := &fakeDetector{}
		p, dir := newTestProcessor(t, &fakeRasterizer{pages: pages}, det)

		resp, err := p.Process(context.Background(), Upload{
			Filename:    "contract.pdf",
			ContentType: "application/pdf",
			Body:        bytes.NewReader(fixtures.PDF(1)),
		})
		if err != nil {
			t.Fatalf("%d pages: Process failed: %v", pages, err)
		}

		keys := resp.Keys()
		if len(keys) != pages {
			t.Fatalf("%d pages: got %d keys", pages, len(keys))
		}
		for i, k := range keys {
			if k != PageKey(i+1) {
				t.Errorf("key %d = %s, want %s", i, k, PageKey(i+1))
			}
		}
		assertEmptyDir(t, dir)
	}
}

type pathCheckRasterizer struct {
	fakeRasterizer
	t *testing.T
}

func (f *pathCheckRasterizer) Rasterize(ctx context.Context, pdfPath, token, outDir string) ([]string, error) {
	for i := 0; i < f.pages; i++ {
		if p := source.PagePath(outDir, token, i); p == pdfPath {
			f.t.Errorf("page %d path %s is the upload path", i, p)
		}
	}
	return f.fakeRasterizer.Rasterize(ctx, pdfPath, token, outDir)
}

func TestProcessPDFNamedLikePage(t *testing.T) {
	for _, name := range []string{"0.png", "1.png", "_0.png"} {
		r := &pathCheckRasterizer{fakeRasterizer: fakeRasterizer{pages: 3}, t: t}
		p, dir := newTestProcessor(t, r, &fakeDetector{})
		p.newID = func() string { return "fixed" }

		resp, err := p.Process(context.Background(), Upload{
			Filename:    name,
			ContentType: "application/pdf",
			Body:        bytes.NewReader(fixtures.PDF(3)),
		})
		if err != nil {
			t.Fatalf("%s: Process failed: %v", name, err)
		}
		if resp.Len() != 3 {
			t.Errorf("%s: got %d pages, want 3", name, resp.Len())
		}
		assertEmptyDir(t, dir)
	}
}

func TestProcessSniffsPDF(t *testing.T) {
	p, _ := newTestProcessor(t, &fakeRasterizer{pages: 2}, &fakeDetector{})

	resp, err := p.Process(context.Background(), Upload{
		Filename:    "scan",
		ContentType: "application/octet-stream",
		Body:        bytes.NewReader(fixtures.PDF(2)),
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Len() != 2 {
		t.Errorf("expected the pdf branch, got %v", resp.Keys())
	}
}

func TestProcessValidation(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		want   string
	}{
		{"no file part", Upload{}, "No file part"},
		{"empty filename", Upload{Body: strings.NewReader("x")}, "No selected file"},
		{"blank filename", Upload{Filename: "  ", Body: strings.NewReader("x")}, "No selected file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, dir := newTestProcessor(t, &fakeRasterizer{}, &fakeDetector{})
			_, err := p.Process(context.Background(), tt.upload)
			if err == nil {
				t.Fatal("expected error")
			}
			if apperr.StatusCode(err) != 400 || apperr.Detail(err) != tt.want {
				t.Errorf("got %d %q, want 400 %q", apperr.StatusCode(err), apperr.Detail(err), tt.want)
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestProcessFailuresCleanUp(t *testing.T) {
	tests := []struct {
		name       string
		upload     Upload
		rasterizer *fakeRasterizer
		detector   *fakeDetector
		wantStatus int
		wantDetail string
	}{
		{
			name:       "second page fails",
			upload:     Upload{Filename: "a.pdf", ContentType: "application/pdf", Body: bytes.NewReader(fixtures.PDF(1))},
			rasterizer: &fakeRasterizer{pages: 3},
			detector:   &fakeDetector{failOn: 2},
			wantStatus: 500,
			wantDetail: "Error processing PDF: Error processing image: model unreachable",
		},
		{
			name:       "rasterizer fails midway",
			upload:     Upload{Filename: "a.pdf", ContentType: "application/pdf", Body: bytes.NewReader(fixtures.PDF(1))},
			rasterizer: &fakeRasterizer{pages: 2, err: apperr.New(apperr.KindConversion, "cannot render page 2")},
			detector:   &fakeDetector{},
			wantStatus: 500,
			wantDetail: "Error processing PDF: cannot render page 2",
		},
		{
			name:       "page limit",
			upload:     Upload{Filename: "a.pdf", ContentType: "application/pdf", Body: bytes.NewReader(fixtures.PDF(1))},
			rasterizer: &fakeRasterizer{err: apperr.BadRequest("PDF has 9 pages, the limit is 2")},
			detector:   &fakeDetector{},
			wantStatus: 400,
			wantDetail: "PDF has 9 pages, the limit is 2",
		},
		{
			name:       "undecodable image",
			upload:     Upload{Filename: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("not an image")},
			rasterizer: &fakeRasterizer{},
			detector:   &fakeDetector{},
			wantStatus: 500,
		},
		{
			name:       "detection fails on image",
			upload:     Upload{Filename: "a.png", ContentType: "image/png", Body: bytes.NewReader(mustPNG(t))},
			rasterizer: &fakeRasterizer{},
			detector:   &fakeDetector{failOn: 1},
			wantStatus: 500,
			wantDetail: "Error performing sign and stamp detection: Error processing image: model unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, dir := newTestProcessor(t, tt.rasterizer, tt.detector)

			resp, err := p.Process(context.Background(), tt.upload)
			if err == nil {
				t.Fatalf("expected error, got %v", resp.Keys())
			}
			if got := apperr.StatusCode(err); got != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", got, tt.wantStatus, err)
			}
			if tt.wantDetail != "" && apperr.Detail(err) != tt.wantDetail {
				t.Errorf("detail = %q, want %q", apperr.Detail(err), tt.wantDetail)
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestProcessDistinctIDs(t *testing.T) {
	p, _ := newTestProcessor(t, &fakeRasterizer{}, &fakeDetector{})

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := p.newID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestProcessRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context gave %q", got)
	}
}

func TestResolveMediaType(t *testing.T) {
	pdf := fixtures.PDF(1)
	png := mustPNG(t)

	tests := []struct {
		declared string
		head     []byte
		want     string
	}{
		{"application/pdf", nil, "application/pdf"},
		{"Application/PDF; name=x", nil, "application/pdf"},
		{"image/jpeg", pdf, "image/jpeg"},
		{"", pdf, "application/pdf"},
		{"application/octet-stream", png, "image/png"},
		{"/", pdf, "application/pdf"},
	}
	for _, tt := range tests {
		if got := ResolveMediaType(tt.declared, tt.head); got != tt.want {
			t.Errorf("ResolveMediaType(%q) = %q, want %q", tt.declared, got, tt.want)
		}
	}
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"  my scan 01.JPG ", "my_scan_01.JPG"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\doc.png`, "doc.png"},
		{"фото.jpg", "jpg"},
		{".hidden", "hidden"},
		{"***", "upload"},
		{"a\tb\nc.png", "a_b_c.png"},
		{strings.Repeat("x", 200) + ".pdf", strings.Repeat("x", 124) + ".pdf"},
	}
	for _, tt := range tests {
		if got := SecureFilename(tt.in); got != tt.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func mustPNG(t *testing.T) []byte {
	t.Helper()
	data, err := fixtures.EncodePNG(fixtures.Document(40, 20))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWorkspaceSave(t *testing.T) {
	dir := t.TempDir()
	ws := newWorkspace(nil)

	payload := bytes.Repeat([]byte("ab"), 1000)
	path := filepath.Join(dir, "f")
	head, err := ws.save(path, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(head) != sniffLen {
		t.Errorf("head length %d", len(head))
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, payload) {
		t.Error("saved content differs")
	}

	ws.cleanup()
	assertEmptyDir(t, dir)
}
