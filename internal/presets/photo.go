package presets

import (
	"fmt"
	"math"
	"strings"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
)

// Format is an output container for photos.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
)

// ParseFormat resolves an optional output format override. Empty selects JPEG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", apperr.New(apperr.KindInvalidRequest, fmt.Sprintf("unsupported output format %q (use jpg, png or webp)", s))
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// Label returns the upper-case name reported to clients.
func (f Format) Label() string {
	if f == FormatJPEG {
		return "JPEG"
	}
	return strings.ToUpper(string(f))
}

type photoCap struct {
	MaxDimension int
	Subsampling  string
	Enhance      float64 // contrast and saturation factor
	GIFDimension int
	GIFColors    int
}

var photoCaps = map[PhotoAlgorithm]photoCap{
	ClarityMax:  {MaxDimension: 1280, Subsampling: "444", Enhance: 1.05, GIFDimension: 480, GIFColors: 256},
	BalancedPro: {MaxDimension: 1080, Subsampling: "422", Enhance: 1.02, GIFDimension: 360, GIFColors: 192},
	QuickShare:  {MaxDimension: 800, Subsampling: "420", Enhance: 1.0, GIFDimension: 280, GIFColors: 128},
}

// PhotoParams is the resolved configuration for one photo encode.
type PhotoParams struct {
	Algorithm    PhotoAlgorithm
	Format       Format
	MaxDimension int
	Width        int
	Height       int
	Quality      int    // percent, 0 for lossless outputs
	Subsampling  string // "444", "422" or "420"; JPEG only
	Sharpen      float64
	Contrast     float64
	Saturation   float64
	Colors       int // palette size for GIF outputs
	ImageType    analysis.ImageType
}

// SharpenAmount converts Sharpen strength into an unsharp luma amount (0.5..1.5).
func (p PhotoParams) SharpenAmount() float64 {
	if p.Sharpen <= 0 {
		return 0
	}
	return math.Round((0.5+p.Sharpen)*100) / 100
}

// SelectPhoto resolves parameters for a photo. Animated inputs always produce GIF output
// with the algorithm's animation caps; format applies to still images only, and quick_share
// always writes JPEG.
func SelectPhoto(alg PhotoAlgorithm, a analysis.PhotoAnalysis, format Format) PhotoParams {
	c, ok := photoCaps[alg]
	if !ok {
		panic(fmt.Sprintf("presets: unhandled photo algorithm %d", alg))
	}
	if format == "" || alg == QuickShare {
		format = FormatJPEG
	}

	if a.Animated {
		w, h := FitWithin(a.Width, a.Height, c.GIFDimension)
		return PhotoParams{
			Algorithm:    alg,
			Format:       FormatGIF,
			MaxDimension: c.GIFDimension,
			Width:        w,
			Height:       h,
			Colors:       c.GIFColors,
			ImageType:    a.ImageType,
		}
	}

	w, h := FitWithin(a.Width, a.Height, c.MaxDimension)
	p := PhotoParams{
		Algorithm:    alg,
		Format:       format,
		MaxDimension: c.MaxDimension,
		Width:        w,
		Height:       h,
		Subsampling:  c.Subsampling,
		Contrast:     c.Enhance,
		Saturation:   c.Enhance,
		ImageType:    a.ImageType,
	}
	switch alg {
	case ClarityMax:
		p.Quality = 92
		p.Sharpen = 0.2
		if a.ImageType == analysis.ImagePhoto {
			p.Sharpen = 0.4
		}
	case BalancedPro:
		p.Sharpen = 0.25
		switch a.ImageType {
		case analysis.ImageScreenshot:
			p.Quality = 88
		case analysis.ImageGraphic:
			p.Quality = 85
		default:
			p.Quality = 82
		}
	case QuickShare:
		p.Quality = 78
		p.Sharpen = 0.15
	}
	if format == FormatPNG {
		p.Quality = 0
	}
	return p
}

// GIFCaps bounds video-to-GIF conversions.
type GIFCaps struct {
	MaxDuration float64
	MaxFPS      int
	DefaultFPS  int
	MaxWidth    int
}

// DefaultGIFCaps mirrors the limits WhatsApp applies to animated GIFs.
var DefaultGIFCaps = GIFCaps{MaxDuration: 6, MaxFPS: 15, DefaultFPS: 12, MaxWidth: 360}

// GIFParams is the resolved configuration for a video-to-GIF conversion.
type GIFParams struct {
	Duration float64
	FPS      int
	Width    int
	Height   int
	Colors   int
}

// SelectGIF clamps a requested duration and frame rate to caps. Zero requests use the
// caps' maximum duration and default frame rate.
func SelectGIF(info models.MediaInfo, duration float64, fps int, caps GIFCaps) GIFParams {
	if caps.MaxDuration <= 0 {
		caps = DefaultGIFCaps
	}
	if duration <= 0 || duration > caps.MaxDuration {
		duration = caps.MaxDuration
	}
	if info.Duration > 0 && duration > info.Duration {
		duration = info.Duration
	}
	if fps <= 0 {
		fps = caps.DefaultFPS
	}
	if fps > caps.MaxFPS {
		fps = caps.MaxFPS
	}
	w, h := FitWithin(info.Width, info.Height, caps.MaxWidth)
	return GIFParams{Duration: duration, FPS: fps, Width: w, Height: h, Colors: 256}
}
