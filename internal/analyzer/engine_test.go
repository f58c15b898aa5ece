package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ivlev/stampdetect/internal/apperr"
	"github.com/ivlev/stampdetect/internal/fixtures"
)

type fakeModel struct {
	pred  Prediction
	err   error
	calls atomic.Int32
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	f.calls.Add(1)
	return f.pred, f.err
}

func TestBoxToBBox(t *testing.T) {
	tests := []struct {
		box  [4]float64
		want [4]int
	}{
		{[4]float64{10, 20, 110, 220}, [4]int{10, 20, 100, 200}},
		{[4]float64{10.9, 20.5, 110.2, 220.99}, [4]int{10, 20, 100, 200}},
		{[4]float64{0, 0, 0.7, 0.7}, [4]int{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		if got := BoxToBBox(tt.box); got != tt.want {
			t.Errorf("BoxToBBox(%v) = %v, want %v", tt.box, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	model := &fakeModel{pred: Prediction{
		Boxes:       [][4]float64{{10, 20, 110, 220}, {5, 5, 25, 15}},
		Confidences: []float64{0.91, 0.42},
		Classes:     []int{1, 2},
	}}
	engine := NewEngine(model)

	img := fixtures.Document(300, 300)
	res, err := engine.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	want := []Region{
		{BBox: [4]int{10, 20, 100, 200}, Label: "stamp", Confidence: 0.91},
		{BBox: [4]int{5, 5, 20, 10}, Label: "mix", Confidence: 0.42},
	}
	if len(res.Detections) != len(want) {
		t.Fatalf("got %d detections, want %d", len(res.Detections), len(want))
	}
	for i := range want {
		if res.Detections[i] != want[i] {
			t.Errorf("detection %d = %+v, want %+v", i, res.Detections[i], want[i])
		}
	}
	if model.calls.Load() != 1 {
		t.Errorf("model called %d times", model.calls.Load())
	}

	if !strings.HasPrefix(res.ImageWithAnnotations, "data:image/jpeg;base64,") {
		t.Fatalf("bad data uri prefix: %.40s", res.ImageWithAnnotations)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(res.ImageWithAnnotations, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("bad base64: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("not a jpeg: %v", err)
	}
	if decoded.Bounds().Size() != img.Bounds().Size() {
		t.Errorf("annotated image size %v, want %v", decoded.Bounds().Size(), img.Bounds().Size())
	}
}

func TestDetectNoRegions(t *testing.T) {
	engine := NewEngine(&fakeModel{})

	res, err := engine.Detect(context.Background(), fixtures.Document(50, 50))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"detections":[]`) {
		t.Errorf("empty detections must encode as a list: %s", b[:60])
	}
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"model failure", &fakeModel{err: errors.New("weights missing")}},
		{"misaligned", &fakeModel{pred: Prediction{
			Boxes:       [][4]float64{{0, 0, 1, 1}, {0, 0, 2, 2}},
			Confidences: []float64{0.5},
			Classes:     []int{0, 0},
		}}},
		{"unknown class", &fakeModel{pred: Prediction{
			Boxes:       [][4]float64{{0, 0, 1, 1}},
			Confidences: []float64{0.5},
			Classes:     []int{9},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEngine(tt.model).Detect(context.Background(), fixtures.Document(20, 20))
			if err == nil {
				t.Fatalf("expected error, got %+v", res)
			}
			if apperr.KindOf(err) != apperr.KindDetection {
				t.Errorf("KindOf = %v, want detection", apperr.KindOf(err))
			}
			if !strings.HasPrefix(err.Error(), "Error processing image") {
				t.Errorf("unexpected message: %v", err)
			}
			if res.Detections != nil {
				t.Errorf("partial result returned: %+v", res)
			}
		})
	}
}

func TestDetectFile(t *testing.T) {
	dir := t.TempDir()
	data, err := fixtures.EncodePNG(fixtures.Document(64, 32))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "page.png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(&fakeModel{pred: Prediction{
		Boxes:       [][4]float64{{1, 1, 9, 9}},
		Confidences: []float64{0.8},
		Classes:     []int{0},
	}})

	res, err := engine.DetectFile(context.Background(), path)
	if err != nil {
		t.Fatalf("DetectFile failed: %v", err)
	}
	if len(res.Detections) != 1 || res.Detections[0].Label != "signature" {
		t.Errorf("unexpected detections: %+v", res.Detections)
	}

	counts, err := engine.CountFile(context.Background(), path)
	if err != nil {
		t.Fatalf("CountFile failed: %v", err)
	}
	if counts != (Counts{Signatures: 1}) {
		t.Errorf("CountFile = %+v", counts)
	}

	_, err = engine.DetectFile(context.Background(), filepath.Join(dir, "missing.png"))
	if !apperr.Has(err, apperr.KindDetection) || !apperr.Has(err, apperr.KindImageLoad) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestDetectIdempotent(t *testing.T) {
	engine := NewEngine(NewContrastModel(0, 0, 0))
	img := fixtures.Document(400, 200)

	first, err := engine.Detect(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Detect(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Error("repeated detection differs")
	}
}

type blockingModel struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	m.mu.Lock()
	m.active++
	m.peak = max(m.peak, m.active)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	select {
	case <-m.release:
		return Prediction{}, nil
	case <-ctx.Done():
		return Prediction{}, ctx.Err()
	}
}

func TestEngineMaxConcurrent(t *testing.T) {
	model := &blockingModel{release: make(chan struct{})}
	engine := NewEngine(model, WithMaxConcurrent(1))
	img := fixtures.Document(16, 16)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Detect(context.Background(), img); err != nil {
				t.Errorf("Detect: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(model.release)
	wg.Wait()

	if model.peak != 1 {
		t.Errorf("peak concurrent inference = %d, want 1", model.peak)
	}
}

func TestEngineTimeout(t *testing.T) {
	model := &blockingModel{release: make(chan struct{})}
	engine := NewEngine(model, WithTimeout(20*time.Millisecond))

	_, err := engine.Detect(context.Background(), fixtures.Document(16, 16))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEngineHealth(t *testing.T) {
	engine := NewEngine(&fakeModel{})
	if err := engine.CheckHealth(context.Background()); err != nil {
		t.Errorf("model without health endpoint reported %v", err)
	}
	if engine.ModelName() != "fake" {
		t.Errorf("ModelName = %s", engine.ModelName())
	}
}
