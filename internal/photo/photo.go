// Package photo normalizes employee photos before upload: square crop,
// fixed size, PNG output.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"net/http"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

const (
	Size     = 512
	MaxBytes = 10 << 20
)

var ErrUnsupportedType = errors.New("la foto debe ser PNG, JPG o WEBP")

// Crop selects a square region in source pixels. A zero Size means a centered
// crop of the largest square that fits.
type Crop struct {
	X, Y, Size int
}

// Normalize decodes raw, crops it to a square and scales it to Size x Size.
// The result is PNG encoded.
func Normalize(raw []byte, crop Crop) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("la foto está vacía")
	}
	if len(raw) > MaxBytes {
		return nil, fmt.Errorf("la foto supera %d MB", MaxBytes>>20)
	}
	switch http.DetectContentType(raw) {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, ErrUnsupportedType
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		webpImg, webpErr := webp.Decode(bytes.NewReader(raw))
		if webpErr != nil {
			return nil, fmt.Errorf("decode photo: %w", err)
		}
		src = webpImg
	}

	bounds := src.Bounds()
	rect := cropRect(bounds, crop)

	square := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	stddraw.Draw(square, square.Bounds(), src, rect.Min, stddraw.Src)

	dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), square, square.Bounds(), xdraw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return out.Bytes(), nil
}

func cropRect(bounds image.Rectangle, crop Crop) image.Rectangle {
	width, height := bounds.Dx(), bounds.Dy()
	side := min(width, height)
	if crop.Size <= 0 {
		x := bounds.Min.X + (width-side)/2
		y := bounds.Min.Y + (height-side)/2
		return image.Rect(x, y, x+side, y+side)
	}

	side = min(crop.Size, side)
	x := clamp(crop.X, 0, width-side)
	y := clamp(crop.Y, 0, height-side)
	return image.Rect(bounds.Min.X+x, bounds.Min.Y+y, bounds.Min.X+x+side, bounds.Min.Y+y+side)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
