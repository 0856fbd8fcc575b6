package main

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/chewxy/math32"
	"golang.org/x/image/draw"
)

// decodeHeights converts little-endian f32 samples.
func decodeHeights(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// heightImage maps heights to grey levels normalized to their range.
// A flat tile renders mid grey.
func heightImage(heights []float32, w, h int) (*image.Gray, error) {
	if len(heights) < w*h {
		return nil, fmt.Errorf("preview: have %d samples, need %d", len(heights), w*h)
	}
	lo, hi := math32.Inf(1), math32.Inf(-1)
	for _, v := range heights[:w*h] {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := float32(0.5)
			if span > 0 {
				g = (heights[y*w+x] - lo) / span
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math32.Round(g * 255))})
		}
	}
	return img, nil
}

// scalePreview resamples img to size x size.
func scalePreview(img image.Image, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// writePreview renders a tile result to a PNG file.
func writePreview(path string, data []byte, resolution uint32, size int) error {
	src, err := heightImage(decodeHeights(data), int(resolution), int(resolution))
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, scalePreview(src, size)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
