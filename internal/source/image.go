package source

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/stampdetect/internal/apperr"
	"github.com/ivlev/stampdetect/internal/system"
)

// LoadImage decodes the raster file at path. Any registered format is
// accepted: png, jpeg, gif, bmp, tiff, webp.
func LoadImage(path string) (image.Image, error) {
	img, _, err := decodeFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageLoad, "load image", fmt.Sprintf("Failed to load image from %s", filepath.Base(path)), err)
	}
	return img, nil
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	return image.Decode(f)
}

// PNGPath is where ConvertToPNG writes its output for path.
func PNGPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}

// ConvertToPNG re-encodes the image at path as an RGBA PNG next to it and
// returns the new path. A .png input is overwritten in place.
func ConvertToPNG(path string) (string, error) {
	src, format, err := decodeFile(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConversion, "decode image", "cannot decode image", err)
	}

	bounds := src.Bounds()
	rgba := system.GetImage(bounds)
	defer system.PutImage(rgba)
	draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)

	out := PNGPath(path)
	if err := writePNG(out, rgba); err != nil {
		return "", apperr.Wrap(apperr.KindConversion, "encode png", fmt.Sprintf("cannot write %s as png", format), err)
	}
	return out, nil
}

// PNGConverter adapts ConvertToPNG to an interface value.
type PNGConverter struct{}

func (PNGConverter) ConvertToPNG(path string) (string, error) {
	return ConvertToPNG(path)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
