package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// Normalisation constants per model: pixel' = (pixel - mean) / std.
const (
	detMean, detStd = 127.5, 128.0
	embMean, embStd = 127.5, 127.5
)

// toCHW resizes img to w x h and lays it out as normalised planar RGB.
func toCHW(img image.Image, w, h int, mean, std float32) []float32 {
	resized := imaging.Resize(img, w, h, imaging.Linear)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			data[idx] = (float32(px[0]) - mean) / std
			data[plane+idx] = (float32(px[1]) - mean) / std
			data[2*plane+idx] = (float32(px[2]) - mean) / std
		}
	}
	return data
}
