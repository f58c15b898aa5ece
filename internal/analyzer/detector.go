package analyzer

import (
	"context"
	"image"
)

// Region is one detected signature or stamp. BBox is [x, y, width, height]
// in page pixels.
type Region struct {
	BBox       [4]int  `json:"bbox" yaml:"bbox,flow"`
	Label      string  `json:"label" yaml:"label"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// PageResult is the detection output for a single page.
type PageResult struct {
	Detections           []Region `json:"detections" yaml:"detections"`
	ImageWithAnnotations string   `json:"image_with_annotations" yaml:"image_with_annotations"`
}

// Prediction is raw model output. Boxes are corner coordinates
// (x1, y1, x2, y2); the slices are index-aligned.
type Prediction struct {
	Boxes       [][4]float64
	Confidences []float64
	Classes     []int
	// Names optionally maps class index to label as reported by the model.
	Names map[int]string
}

// Model is a signature and stamp detector.
type Model interface {
	Predict(ctx context.Context, img image.Image) (Prediction, error)
	Name() string
}

// HealthChecker is implemented by models backed by an external service.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
