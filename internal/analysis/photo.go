package analysis

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/videopress/backend/internal/apperr"
)

// ImageType is the detected content class of a photo.
type ImageType string

const (
	ImagePhoto      ImageType = "photo"
	ImageGraphic    ImageType = "graphic"
	ImageText       ImageType = "text"
	ImageScreenshot ImageType = "screenshot"
)

// PhotoAnalysis describes a decoded image.
type PhotoAnalysis struct {
	ImageType  ImageType `json:"image_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Animated   bool      `json:"is_animated"`
	Frames     int       `json:"frames"`
	ColorRatio float64   `json:"color_ratio"`
	Edges      float64   `json:"edges"`
	HasAlpha   bool      `json:"has_alpha"`
}

// ClassifyImage maps colour variety and edge strength to an ImageType.
func ClassifyImage(colorRatio, edges float64) ImageType {
	switch {
	case colorRatio < 0.01 && edges > 20:
		return ImageScreenshot
	case colorRatio < 0.05:
		return ImageGraphic
	case edges > 30:
		return ImageText
	default:
		return ImagePhoto
	}
}

// AnalyzePhoto decodes the image at path and measures it. Undecodable files are
// reported as invalid uploads.
func AnalyzePhoto(path string) (PhotoAnalysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return PhotoAnalysis{}, fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()
	return AnalyzeImage(f)
}

// MaxImagePixels caps width*height of analyzed images. Larger images are refused before
// their pixels are decoded.
const MaxImagePixels = 50_000_000

// statsBudget is the most pixels imageStats reads from one image.
const statsBudget = 1 << 22

// AnalyzeImage is AnalyzePhoto over an already opened reader.
func AnalyzeImage(r io.ReadSeeker) (PhotoAnalysis, error) {
	return analyzeImage(r, MaxImagePixels)
}

func analyzeImage(r io.ReadSeeker, maxPixels int) (PhotoAnalysis, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return PhotoAnalysis{}, apperr.Wrap(apperr.KindInvalidUpload, err, "could not analyze photo")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return PhotoAnalysis{}, apperr.New(apperr.KindInvalidUpload,
			fmt.Sprintf("image is %dx%d, the limit is %d megapixels", cfg.Width, cfg.Height, maxPixels/1_000_000))
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return PhotoAnalysis{}, fmt.Errorf("rewind photo: %w", err)
	}

	img, format, err := image.Decode(r)
	if err != nil {
		return PhotoAnalysis{}, apperr.Wrap(apperr.KindInvalidUpload, err, "could not analyze photo")
	}
	b := img.Bounds()
	out := PhotoAnalysis{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Format:   strings.ToUpper(format),
		Frames:   1,
		HasAlpha: hasAlpha(img),
	}
	if format == "gif" {
		if _, err := r.Seek(0, io.SeekStart); err == nil {
			if n, err := countGIFFrames(r); err == nil && n > 0 {
				out.Frames = n
				out.Animated = n > 1
			}
		}
	}
	out.ColorRatio, out.Edges = imageStats(img, statsBudget)
	out.ImageType = ClassifyImage(out.ColorRatio, out.Edges)
	return out, nil
}

// countGIFFrames walks the GIF block structure and counts image descriptors without
// decompressing any frame.
func countGIFFrames(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	var header [13]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return 0, err
	}
	if header[10]&0x80 != 0 {
		if err := skip(br, 3<<((header[10]&7)+1)); err != nil {
			return 0, err
		}
	}
	frames := 0
	for {
		block, err := br.ReadByte()
		if err != nil {
			return frames, err
		}
		switch block {
		case 0x21:
			if _, err := br.ReadByte(); err != nil {
				return frames, err
			}
			if err := skipSubBlocks(br); err != nil {
				return frames, err
			}
		case 0x2C:
			var desc [9]byte
			if _, err := io.ReadFull(br, desc[:]); err != nil {
				return frames, err
			}
			if desc[8]&0x80 != 0 {
				if err := skip(br, 3<<((desc[8]&7)+1)); err != nil {
					return frames, err
				}
			}
			if _, err := br.ReadByte(); err != nil {
				return frames, err
			}
			if err := skipSubBlocks(br); err != nil {
				return frames, err
			}
			frames++
		case 0x3B:
			return frames, nil
		default:
			return frames, fmt.Errorf("gif: unknown block 0x%02x", block)
		}
	}
}

func skipSubBlocks(br *bufio.Reader) error {
	for {
		n, err := br.ReadByte()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := skip(br, int(n)); err != nil {
			return err
		}
	}
}

func skip(br *bufio.Reader, n int) error {
	_, err := br.Discard(n)
	return err
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// imageStats returns the unique-colour ratio and the mean absolute vertical plus
// horizontal difference of channel-averaged grey. Images above budget pixels are read on
// a square grid; each grid pixel is still compared with its direct neighbours.
func imageStats(img image.Image, budget int) (colorRatio, edges float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0, 0
	}
	step := 1
	if budget > 0 && w*h > budget {
		step = int(math.Ceil(math.Sqrt(float64(w) * float64(h) / float64(budget))))
	}
	at := func(x, y int) (uint32, float64) {
		r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
		r8, g8, b8 := r>>8, g>>8, bl>>8
		return r8<<16 | g8<<8 | b8, float64(r8+g8+b8) / 3
	}

	seen := make([]uint64, (1<<24)/64)
	var (
		sampled, unique int
		dv, dh          float64
		nv, nh          int
	)
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			key, grey := at(x, y)
			sampled++
			if seen[key/64]&(1<<(key%64)) == 0 {
				seen[key/64] |= 1 << (key % 64)
				unique++
			}
			if y > 0 {
				_, up := at(x, y-1)
				dv += math.Abs(grey - up)
				nv++
			}
			if x > 0 {
				_, left := at(x-1, y)
				dh += math.Abs(grey - left)
				nh++
			}
		}
	}
	colorRatio = float64(unique) / float64(sampled)
	if nv > 0 {
		edges += dv / float64(nv)
	}
	if nh > 0 {
		edges += dh / float64(nh)
	}
	return colorRatio, edges
}
