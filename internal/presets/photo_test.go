package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
)

func still(t analysis.ImageType) analysis.PhotoAnalysis {
	return analysis.PhotoAnalysis{ImageType: t, Width: 4000, Height: 3000, Format: "jpeg"}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJPEG, "jpeg": FormatJPEG, "JPG": FormatJPEG, "png": FormatPNG, "webp": FormatWebP} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("heic")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
	assert.Equal(t, "JPEG", FormatJPEG.Label())
	assert.Equal(t, ".webp", FormatWebP.Extension())
}

func TestSelectPhotoClarityMax(t *testing.T) {
	p := SelectPhoto(ClarityMax, still(analysis.ImagePhoto), FormatJPEG)
	assert.Equal(t, 1280, p.Width)
	assert.Equal(t, 960, p.Height)
	assert.Equal(t, 92, p.Quality)
	assert.Equal(t, "444", p.Subsampling)
	assert.InDelta(t, 0.4, p.Sharpen, 1e-9)
	assert.InDelta(t, 0.9, p.SharpenAmount(), 1e-9)

	p = SelectPhoto(ClarityMax, still(analysis.ImageText), FormatJPEG)
	assert.InDelta(t, 0.2, p.Sharpen, 1e-9)
}

func TestSelectPhotoBalancedQualityByType(t *testing.T) {
	cases := map[analysis.ImageType]int{
		analysis.ImageScreenshot: 88,
		analysis.ImageGraphic:    85,
		analysis.ImagePhoto:      82,
		analysis.ImageText:       82,
	}
	for typ, q := range cases {
		p := SelectPhoto(BalancedPro, still(typ), FormatJPEG)
		assert.Equal(t, q, p.Quality, string(typ))
		assert.Equal(t, 1080, p.MaxDimension)
		assert.Equal(t, "422", p.Subsampling)
	}
}

func TestSelectPhotoQuickShareIsJPEG(t *testing.T) {
	p := SelectPhoto(QuickShare, still(analysis.ImagePhoto), FormatPNG)
	assert.Equal(t, FormatJPEG, p.Format)
	assert.Equal(t, 800, p.Width)
	assert.Equal(t, 600, p.Height)
	assert.Equal(t, 78, p.Quality)
	assert.Equal(t, "420", p.Subsampling)
	assert.InDelta(t, 1.0, p.Contrast, 1e-9)
}

func TestSelectPhotoPNGIsLossless(t *testing.T) {
	p := SelectPhoto(BalancedPro, still(analysis.ImageGraphic), FormatPNG)
	assert.Equal(t, FormatPNG, p.Format)
	assert.Zero(t, p.Quality)
}

func TestSelectPhotoAnimatedGIF(t *testing.T) {
	a := analysis.PhotoAnalysis{ImageType: analysis.ImageGraphic, Width: 800, Height: 600, Format: "gif", Animated: true, Frames: 24}
	want := map[PhotoAlgorithm][3]int{
		ClarityMax:  {480, 360, 256},
		BalancedPro: {360, 270, 192},
		QuickShare:  {280, 210, 128},
	}
	for alg, w := range want {
		p := SelectPhoto(alg, a, FormatWebP)
		assert.Equal(t, FormatGIF, p.Format, alg.String())
		assert.Equal(t, w[0], p.Width, alg.String())
		assert.Equal(t, w[1], p.Height, alg.String())
		assert.Equal(t, w[2], p.Colors, alg.String())
	}
}

func TestSelectGIF(t *testing.T) {
	info := models.MediaInfo{Width: 1280, Height: 720, Duration: 42}
	p := SelectGIF(info, 0, 0, DefaultGIFCaps)
	assert.InDelta(t, 6.0, p.Duration, 1e-9)
	assert.Equal(t, 12, p.FPS)
	assert.Equal(t, 360, p.Width)
	assert.Equal(t, 202, p.Height)

	p = SelectGIF(info, 20, 30, DefaultGIFCaps)
	assert.InDelta(t, 6.0, p.Duration, 1e-9)
	assert.Equal(t, 15, p.FPS)

	short := models.MediaInfo{Width: 320, Height: 240, Duration: 2.5}
	p = SelectGIF(short, 4, 10, GIFCaps{})
	assert.InDelta(t, 2.5, p.Duration, 1e-9)
	assert.Equal(t, 10, p.FPS)
	assert.Equal(t, 320, p.Width)
}
