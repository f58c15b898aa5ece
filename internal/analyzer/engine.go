package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ivlev/stampdetect/internal/apperr"
	"github.com/ivlev/stampdetect/internal/source"
)

const dataURIPrefix = "data:image/jpeg;base64,"

// Engine runs a Model over page images and shapes its output into
// PageResults.
type Engine struct {
	model   Model
	labels  LabelTable
	sem     *semaphore.Weighted
	timeout time.Duration
	quality int
	logger  *slog.Logger
}

type Option func(*Engine)

// WithTimeout bounds a single inference call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxConcurrent caps in-flight inference calls. Use 1 for models that
// are not safe for concurrent use.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithJPEGQuality(q int) Option {
	return func(e *Engine) {
		if q > 0 && q <= 100 {
			e.quality = q
		}
	}
}

func WithLabels(t LabelTable) Option {
	return func(e *Engine) {
		if len(t) > 0 {
			e.labels = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(model Model, opts ...Option) *Engine {
	e := &Engine{
		model:   model,
		labels:  DefaultLabels(),
		sem:     semaphore.NewWeighted(1),
		quality: 95,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ModelName() string {
	return e.model.Name()
}

// CheckHealth probes the model backend. Models without a health endpoint
// are always healthy.
func (e *Engine) CheckHealth(ctx context.Context) error {
	if hc, ok := e.model.(HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// DetectFile loads the image at path and runs detection on it.
func (e *Engine) DetectFile(ctx context.Context, path string) (PageResult, error) {
	img, err := source.LoadImage(path)
	if err != nil {
		return PageResult{}, apperr.Wrap(apperr.KindDetection, "detect "+filepath.Base(path), "Error processing image", err)
	}
	return e.Detect(ctx, img)
}

// Detect runs the model once over img. The returned image is the input
// re-encoded as a JPEG data URI.
func (e *Engine) Detect(ctx context.Context, img image.Image) (PageResult, error) {
	regions, err := e.regions(ctx, img)
	if err != nil {
		return PageResult{}, apperr.Wrap(apperr.KindDetection, "detect", "Error processing image", err)
	}

	uri, err := EncodeDataURI(img, e.quality)
	if err != nil {
		return PageResult{}, apperr.Wrap(apperr.KindDetection, "encode jpeg", "Error processing image", err)
	}

	return PageResult{Detections: regions, ImageWithAnnotations: uri}, nil
}

// CountFile runs detection on the image at path and tallies the regions.
func (e *Engine) CountFile(ctx context.Context, path string) (Counts, error) {
	img, err := source.LoadImage(path)
	if err != nil {
		return Counts{}, err
	}
	regions, err := e.regions(ctx, img)
	if err != nil {
		return Counts{}, apperr.Wrap(apperr.KindDetection, "count "+filepath.Base(path), "Error processing image", err)
	}
	return SummarizeCounts(regions), nil
}

func (e *Engine) regions(ctx context.Context, img image.Image) ([]Region, error) {
	pred, err := e.predict(ctx, img)
	if err != nil {
		return nil, err
	}
	return e.toRegions(pred)
}

func (e *Engine) predict(ctx context.Context, img image.Image) (Prediction, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Prediction{}, err
	}
	defer e.sem.Release(1)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	pred, err := e.model.Predict(ctx, img)
	if err != nil {
		e.logger.Warn("inference failed", "model", e.model.Name(), "error", err, "elapsed", time.Since(start))
		return Prediction{}, err
	}
	e.logger.Debug("inference done", "model", e.model.Name(), "boxes", len(pred.Boxes), "elapsed", time.Since(start))
	return pred, nil
}

func (e *Engine) toRegions(p Prediction) ([]Region, error) {
	n := len(p.Boxes)
	if len(p.Confidences) != n || len(p.Classes) != n {
		return nil, fmt.Errorf("model output misaligned: %d boxes, %d confidences, %d classes",
			n, len(p.Confidences), len(p.Classes))
	}

	regions := make([]Region, 0, n)
	for i, box := range p.Boxes {
		label, ok := e.labels.Resolve(p.Classes[i], p.Names)
		if !ok {
			return nil, fmt.Errorf("model returned unknown class %d", p.Classes[i])
		}
		regions = append(regions, Region{
			BBox:       BoxToBBox(box),
			Label:      label,
			Confidence: p.Confidences[i],
		})
	}
	return regions, nil
}

// BoxToBBox converts corner coordinates to [x, y, width, height]. Corners
// are truncated to integers before the width and height are taken.
func BoxToBBox(box [4]float64) [4]int {
	x1, y1, x2, y2 := int(box[0]), int(box[1]), int(box[2]), int(box[3])
	return [4]int{x1, y1, x2 - x1, y2 - y1}
}

// EncodeDataURI encodes img as a base64 JPEG data URI.
func EncodeDataURI(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
