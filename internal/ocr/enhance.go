package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

// EnhanceImage preprocesses a rendered page for a second OCR pass: 2x
// upscale with Catmull-Rom resampling, grayscale contrast stretch, and a
// light unsharp mask. Scanned legal filings are frequently low-DPI faxes
// where this recovers enough glyph detail to move a page past the
// confidence threshold.
func EnhanceImage(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding page image: %w", err)
	}

	gray := toGray(src)
	stretched := stretchContrast(gray)

	bounds := stretched.Bounds()
	scaled := image.NewGray(image.Rect(0, 0, bounds.Dx()*2, bounds.Dy()*2))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), stretched, bounds, draw.Over, nil)

	sharpened := sharpen(scaled)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sharpened); err != nil {
		return nil, fmt.Errorf("encoding enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, src, bounds.Min, draw.Src)
	return gray
}

// stretchContrast remaps pixel intensities so the darkest 1% become black
// and the lightest 1% become white.
func stretchContrast(src *image.Gray) *image.Gray {
	var hist [256]int
	bounds := src.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return src
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[src.GrayAt(x, y).Y]++
		}
	}

	clip := total / 100
	lo, hi := 0, 255
	for sum := 0; lo < 255; lo++ {
		sum += hist[lo]
		if sum > clip {
			break
		}
	}
	for sum := 0; hi > 0; hi-- {
		sum += hist[hi]
		if sum > clip {
			break
		}
	}
	if hi <= lo {
		return src
	}

	out := image.NewGray(bounds)
	scale := 255.0 / float64(hi-lo)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(src.GrayAt(x, y).Y)
			v = (v - float64(lo)) * scale
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

// sharpen applies a mild 3x3 unsharp kernel. Interior pixels only; the
// one-pixel border is copied through.
func sharpen(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	copy(out.Pix, src.Pix)

	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := int(src.GrayAt(x, y).Y)
			neighbors := int(src.GrayAt(x-1, y).Y) + int(src.GrayAt(x+1, y).Y) +
				int(src.GrayAt(x, y-1).Y) + int(src.GrayAt(x, y+1).Y)
			v := center + (4*center-neighbors)/4
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}
