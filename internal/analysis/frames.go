// Package analysis derives coarse content signals from sampled frames and rasters.
package analysis

import "math"

const (
	// edgeThreshold is the Sobel magnitude (|gx|+|gy| on 0..255 luma) counted as an edge.
	edgeThreshold = 160
	// motionGain scales mean absolute luma difference (0..1) into a 0..1 motion score.
	motionGain = 4.0
)

// FrameSample is one decoded frame in packed RGB24.
type FrameSample struct {
	Width  int
	Height int
	Pix    []byte
}

// Valid reports whether Pix holds exactly Width*Height RGB pixels.
func (f FrameSample) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

func (f FrameSample) luma() []float64 {
	out := make([]float64, f.Width*f.Height)
	for i := range out {
		r, g, b := float64(f.Pix[i*3]), float64(f.Pix[i*3+1]), float64(f.Pix[i*3+2])
		out[i] = 0.299*r + 0.587*g + 0.114*b
	}
	return out
}

// EdgeDensity returns the fraction of interior pixels whose Sobel gradient exceeds edgeThreshold.
func EdgeDensity(f FrameSample) float64 {
	if !f.Valid() || f.Width < 3 || f.Height < 3 {
		return 0
	}
	y := f.luma()
	w, h := f.Width, f.Height
	at := func(x, yy int) float64 { return y[yy*w+x] }
	edges := 0
	for yy := 1; yy < h-1; yy++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, yy-1) + 2*at(x+1, yy) + at(x+1, yy+1) - at(x-1, yy-1) - 2*at(x-1, yy) - at(x-1, yy+1)
			gy := at(x-1, yy+1) + 2*at(x, yy+1) + at(x+1, yy+1) - at(x-1, yy-1) - 2*at(x, yy-1) - at(x+1, yy-1)
			if math.Abs(gx)+math.Abs(gy) > edgeThreshold {
				edges++
			}
		}
	}
	return float64(edges) / float64((w-2)*(h-2))
}

// Brightness returns mean luma scaled to 0..1.
func Brightness(f FrameSample) float64 {
	if !f.Valid() {
		return 0
	}
	sum := 0.0
	for _, v := range f.luma() {
		sum += v
	}
	return sum / float64(f.Width*f.Height) / 255
}

// Contrast returns the standard deviation of luma divided by 128.
func Contrast(f FrameSample) float64 {
	if !f.Valid() {
		return 0
	}
	y := f.luma()
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	variance := 0.0
	for _, v := range y {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance/float64(len(y))) / 128
}

// Colorfulness returns (mean|R-G| + mean|(R+G)/2-B|) / 255.
func Colorfulness(f FrameSample) float64 {
	if !f.Valid() {
		return 0
	}
	var rg, yb float64
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		r, g, b := float64(f.Pix[i*3]), float64(f.Pix[i*3+1]), float64(f.Pix[i*3+2])
		rg += math.Abs(r - g)
		yb += math.Abs(0.5*(r+g) - b)
	}
	return (rg/float64(n) + yb/float64(n)) / 255
}

// Motion estimates movement between two frames of equal size as a 0..1 score.
func Motion(prev, next FrameSample) float64 {
	if !prev.Valid() || !next.Valid() || prev.Width != next.Width || prev.Height != next.Height {
		return 0
	}
	a, b := prev.luma(), next.luma()
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return clamp01(sum / float64(len(a)) / 255 * motionGain)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
