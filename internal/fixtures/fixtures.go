// Package fixtures builds synthetic documents for tests and local smoke runs.
package fixtures

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// PDF returns a valid PDF with the given number of 200x100pt pages. Page i
// carries a filled black square whose x offset depends on i, so rendered
// pages differ.
func PDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] /Resources << >> /Contents %d 0 R >>", 4+2*i))
		stream := fmt.Sprintf("0 0 0 rg %d 30 20 20 re f", 10+(i%8)*20)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

// QR returns a QR code image of size x size pixels encoding content.
func QR(content string, size int) (image.Image, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.Image(size), nil
}

// Document returns a white page with a dark scribble on the left (a
// signature-like stroke) and a saturated blue ring on the right (a
// stamp-like mark).
func Document(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	ink := color.RGBA{R: 20, G: 20, B: 25, A: 255}
	prevY := -1
	for x := width / 10; x < width*4/10; x++ {
		// triangle wave, period 24px, amplitude 6px
		phase := x % 24
		if phase > 12 {
			phase = 24 - phase
		}
		y := height/2 + phase - 6
		if prevY < 0 {
			prevY = y
		}
		lo, hi := min(prevY, y), max(prevY, y)
		for yy := lo - 1; yy <= hi+1; yy++ {
			img.Set(x, yy, ink)
		}
		prevY = y
	}

	blue := color.RGBA{R: 30, G: 60, B: 220, A: 255}
	cx, cy := width*7/10, height/2
	r := height / 4
	for y := cy - r - 3; y <= cy+r+3; y++ {
		for x := cx - r - 3; x <= cx+r+3; x++ {
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			if d >= (r-3)*(r-3) && d <= r*r {
				img.Set(x, y, blue)
			}
		}
	}
	return img
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG bytes.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
