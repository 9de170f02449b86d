package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
)

func TestParseVideoAlgorithm(t *testing.T) {
	alg, err := ParseVideoAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, NeuralPreserve, alg)

	alg, err = ParseVideoAlgorithm(" Bitrate_Sculptor ")
	require.NoError(t, err)
	assert.Equal(t, BitrateSculptor, alg)

	_, err = ParseVideoAlgorithm("turbo")
	assert.True(t, apperr.Is(err, apperr.KindInvalidAlgorithm))
}

func TestParsePhotoAlgorithm(t *testing.T) {
	alg, err := ParsePhotoAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, BalancedPro, alg)

	_, err = ParsePhotoAlgorithm("neural_preserve")
	assert.True(t, apperr.Is(err, apperr.KindInvalidAlgorithm))
}

func TestAlgorithmNamesRoundTrip(t *testing.T) {
	for _, a := range VideoAlgorithms {
		got, err := ParseVideoAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	for _, a := range PhotoAlgorithms {
		got, err := ParsePhotoAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	assert.Equal(t, "unknown", VideoAlgorithm(0).String())
}

func TestCatalogCoversEveryAlgorithm(t *testing.T) {
	cat := Catalog()
	require.Len(t, cat, len(VideoAlgorithms)+len(PhotoAlgorithms))
	byID := map[string]AlgorithmInfo{}
	for _, info := range cat {
		byID[info.ID] = info
	}
	assert.Equal(t, 1080, byID["neural_preserve"].MaxResolution)
	assert.Equal(t, 640, byID["quantum_compress"].MaxResolution)
	assert.Equal(t, 800, byID["quick_share"].MaxResolution)
	assert.Equal(t, "photo", byID["clarity_max"].Kind)
}

func TestFitWithin(t *testing.T) {
	cases := []struct {
		w, h, max  int
		wantW, wantH int
	}{
		{1920, 1080, 1080, 1080, 606},
		{1080, 1920, 720, 404, 720},
		{640, 360, 1080, 640, 360},
		{641, 361, 1080, 640, 360},
		{1, 1, 1080, 2, 2},
		{0, 100, 1080, 0, 0},
	}
	for _, c := range cases {
		w, h := FitWithin(c.w, c.h, c.max)
		assert.Equal(t, c.wantW, w, "%dx%d@%d", c.w, c.h, c.max)
		assert.Equal(t, c.wantH, h, "%dx%d@%d", c.w, c.h, c.max)
	}
}
