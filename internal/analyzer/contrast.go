package analyzer

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

const (
	classSignature = 0
	classStamp     = 1
	classMix       = 2
)

// ContrastModel finds ink regions with a Sobel edge map and labels each one
// by the colour of its ink: dark strokes are signatures, saturated ink is a
// stamp, a region holding both is a mix. It needs no weights and gives the
// same answer for the same image.
type ContrastModel struct {
	MinBlockArea  int     // minimum region area in working pixels
	EdgeThreshold float64 // gradient magnitude threshold
	MaxSide       int     // longer side is scaled down to this before analysis; 0 = never
	MinInk        int     // ink pixels required to keep a region
}

func NewContrastModel(minBlockArea int, edgeThreshold float64, maxSide int) *ContrastModel {
	m := &ContrastModel{
		MinBlockArea:  500,
		EdgeThreshold: 30.0,
		MaxSide:       maxSide,
		MinInk:        20,
	}
	if minBlockArea > 0 {
		m.MinBlockArea = minBlockArea
	}
	if edgeThreshold > 0 {
		m.EdgeThreshold = edgeThreshold
	}
	return m
}

func (m *ContrastModel) Name() string {
	return "contrast"
}

func (m *ContrastModel) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	work, scale := m.workingCopy(img)
	gray := toGrayscale(work)
	edges := sobelEdgeDetection(gray, m.EdgeThreshold)
	dilated := dilate(edges, 5, 2)

	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	p := Prediction{
		Boxes:       [][4]float64{},
		Confidences: []float64{},
		Classes:     []int{},
		Names:       map[int]string{classSignature: LabelSignature, classStamp: LabelStamp, classMix: LabelMix},
	}

	origin := img.Bounds().Min
	for _, rect := range findContours(dilated) {
		if rect.Dx()*rect.Dy() < m.MinBlockArea {
			continue
		}
		class, conf, ok := m.classify(work, rect)
		if !ok {
			continue
		}
		p.Boxes = append(p.Boxes, [4]float64{
			float64(origin.X) + float64(rect.Min.X)/scale,
			float64(origin.Y) + float64(rect.Min.Y)/scale,
			float64(origin.X) + float64(rect.Max.X)/scale,
			float64(origin.Y) + float64(rect.Max.Y)/scale,
		})
		p.Confidences = append(p.Confidences, conf)
		p.Classes = append(p.Classes, class)
	}
	return p, nil
}

// workingCopy returns img as RGBA anchored at the origin, scaled down when
// its longer side exceeds MaxSide, together with the applied scale factor.
func (m *ContrastModel) workingCopy(img image.Image) (*image.RGBA, float64) {
	b := img.Bounds()
	scale := 1.0
	if long := max(b.Dx(), b.Dy()); m.MaxSide > 0 && long > m.MaxSide {
		scale = float64(m.MaxSide) / float64(long)
	}

	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		scale = float64(w) / float64(b.Dx())
	}
	return dst, scale
}

// classify counts dark and saturated pixels inside rect.
func (m *ContrastModel) classify(img *image.RGBA, rect image.Rectangle) (int, float64, bool) {
	var dark, colored int
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := img.RGBAAt(x, y)
			hi := max(c.R, c.G, c.B)
			lo := min(c.R, c.G, c.B)
			chroma := int(hi) - int(lo)
			switch {
			case chroma >= 60 && hi >= 90:
				colored++
			case hi < 110 && chroma < 50:
				dark++
			}
		}
	}

	ink := dark + colored
	if ink < m.MinInk {
		return 0, 0, false
	}

	darkShare := float64(dark) / float64(ink)
	colorShare := float64(colored) / float64(ink)
	switch {
	case darkShare >= 0.25 && colorShare >= 0.25:
		return classMix, 0.5, true
	case colored > dark:
		return classStamp, round2(0.5 + 0.45*colorShare), true
	default:
		return classSignature, round2(0.5 + 0.45*darkShare), true
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toGrayscale(img *image.RGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x, y, color.GrayModel.Convert(img.RGBAAt(x, y)).(color.Gray))
		}
	}
	return gray
}

var (
	sobelX = [3][3]int{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]int{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// sobelEdgeDetection marks pixels whose gradient magnitude exceeds threshold.
func sobelEdgeDetection(gray *image.Gray, threshold float64) *image.Gray {
	bounds := gray.Bounds()
	edges := image.NewGray(bounds)

	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			var sumX, sumY float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					pixel := float64(gray.GrayAt(x+kx, y+ky).Y)
					sumX += pixel * float64(sobelX[ky+1][kx+1])
					sumY += pixel * float64(sobelY[ky+1][kx+1])
				}
			}
			if math.Hypot(sumX, sumY) > threshold {
				edges.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return edges
}

// dilate grows marked pixels by a square kernel so nearby strokes merge.
func dilate(img *image.Gray, kernelSize, iterations int) *image.Gray {
	bounds := img.Bounds()
	result := image.NewGray(bounds)
	copy(result.Pix, img.Pix)

	half := kernelSize / 2
	for iter := 0; iter < iterations; iter++ {
		temp := image.NewGray(bounds)
		for y := bounds.Min.Y + half; y < bounds.Max.Y-half; y++ {
			for x := bounds.Min.X + half; x < bounds.Max.X-half; x++ {
				var maxVal uint8
				for ky := -half; ky <= half && maxVal < 255; ky++ {
					for kx := -half; kx <= half; kx++ {
						if v := result.GrayAt(x+kx, y+ky).Y; v > maxVal {
							maxVal = v
						}
					}
				}
				temp.SetGray(x, y, color.Gray{Y: maxVal})
			}
		}
		result = temp
	}
	return result
}

// findContours returns bounding rectangles of connected marked regions in
// row-major order of their first pixel.
func findContours(img *image.Gray) []image.Rectangle {
	bounds := img.Bounds()
	visited := make([]bool, bounds.Dx()*bounds.Dy())
	idx := func(x, y int) int { return (y-bounds.Min.Y)*bounds.Dx() + (x - bounds.Min.X) }

	var contours []image.Rectangle
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y > 128 && !visited[idx(x, y)] {
				contours = append(contours, floodFill(img, visited, idx, x, y))
			}
		}
	}
	return contours
}

func floodFill(img *image.Gray, visited []bool, idx func(x, y int) int, startX, startY int) image.Rectangle {
	bounds := img.Bounds()
	r := image.Rect(startX, startY, startX+1, startY+1)

	stack := []image.Point{{X: startX, Y: startY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !p.In(bounds) {
			continue
		}
		i := idx(p.X, p.Y)
		if visited[i] || img.GrayAt(p.X, p.Y).Y <= 128 {
			continue
		}
		visited[i] = true
		r = r.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))

		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return r
}
