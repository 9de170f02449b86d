package encoder

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/videopress/backend/internal/presets"
)

func inputArgs(job Job) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if job.Clipped && job.Start > 0 {
		args = append(args, "-ss", seconds(job.Start))
	}
	args = append(args, "-i", job.Input)
	if job.Clipped && job.Duration > 0 {
		args = append(args, "-t", seconds(job.Duration))
	}
	return args
}

func x264Args(p presets.VideoParams) []string {
	args := []string{"-c:v", "libx264", "-preset", p.Preset}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	if p.Profile != "" {
		args = append(args, "-profile:v", p.Profile)
	}
	if p.Level != "" {
		args = append(args, "-level", p.Level)
	}
	if g := p.FilterGraph(); g != "" {
		args = append(args, "-vf", g)
	}
	return append(args, "-pix_fmt", "yuv420p")
}

func audioArgs(job Job) []string {
	p := job.Video
	if !job.HasAudio || p.AudioCodec == "" {
		return []string{"-an"}
	}
	args := []string{"-c:a", p.AudioCodec, "-b:a", p.AudioBitrate}
	if p.AudioRate > 0 {
		args = append(args, "-ar", strconv.Itoa(p.AudioRate))
	}
	if p.AudioChannels > 0 {
		args = append(args, "-ac", strconv.Itoa(p.AudioChannels))
	}
	return args
}

// VideoArgs builds a single-pass CRF encode.
func VideoArgs(job Job) []string {
	p := job.Video
	args := append(inputArgs(job), x264Args(p)...)
	args = append(args, "-crf", strconv.Itoa(p.CRF))
	if p.MaxRate > 0 {
		args = append(args, "-maxrate", bitrate(p.MaxRate), "-bufsize", bitrate(p.BufSize))
	}
	if len(p.X264Params) > 0 {
		args = append(args, "-x264-params", strings.Join(p.X264Params, ":"))
	}
	args = append(args, audioArgs(job)...)
	return append(args, "-movflags", "+faststart", "-map_metadata", "-1", job.Output)
}

// TwoPassArgs builds the analysis pass (to the null muxer) and the output pass.
// Both share passlog as -passlogfile prefix.
func TwoPassArgs(job Job, passlog string) (pass1, pass2 []string) {
	p := job.Video
	rate := []string{"-b:v", bitrate(p.VideoBitrate)}

	pass1 = append(inputArgs(job), x264Args(p)...)
	pass1 = append(pass1, rate...)
	pass1 = append(pass1, "-pass", "1", "-passlogfile", passlog)
	if len(p.Pass1Params) > 0 {
		pass1 = append(pass1, "-x264-params", strings.Join(p.Pass1Params, ":"))
	}
	pass1 = append(pass1, "-an", "-f", "null", os.DevNull)

	pass2 = append(inputArgs(job), x264Args(p)...)
	pass2 = append(pass2, rate...)
	pass2 = append(pass2, "-pass", "2", "-passlogfile", passlog)
	if len(p.X264Params) > 0 {
		pass2 = append(pass2, "-x264-params", strings.Join(p.X264Params, ":"))
	}
	pass2 = append(pass2, audioArgs(job)...)
	pass2 = append(pass2, "-movflags", "+faststart", "-map_metadata", "-1", job.Output)
	return pass1, pass2
}

// PhotoArgs builds a still-image or animated-GIF encode.
func PhotoArgs(job Job) []string {
	p := job.Photo
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", job.Input}

	var filters []string
	if p.Width > 0 && p.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d:flags=lanczos", p.Width, p.Height))
	}
	if p.Format == presets.FormatGIF {
		filters = append(filters, palette(p.Colors))
		return append(args, "-vf", strings.Join(filters, ","), "-loop", "0", "-map_metadata", "-1", job.Output)
	}
	if amount := p.SharpenAmount(); amount > 0 {
		filters = append(filters, fmt.Sprintf("unsharp=5:5:%s:5:5:0", strconv.FormatFloat(amount, 'f', -1, 64)))
	}
	if (p.Contrast != 0 && p.Contrast != 1) || (p.Saturation != 0 && p.Saturation != 1) {
		filters = append(filters, fmt.Sprintf("eq=contrast=%s:saturation=%s",
			strconv.FormatFloat(nonZero(p.Contrast), 'f', -1, 64),
			strconv.FormatFloat(nonZero(p.Saturation), 'f', -1, 64)))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args, "-frames:v", "1", "-map_metadata", "-1")

	switch p.Format {
	case presets.FormatPNG:
		args = append(args, "-c:v", "png", "-compression_level", "9")
	case presets.FormatWebP:
		args = append(args, "-c:v", "libwebp", "-quality", strconv.Itoa(p.Quality))
	default:
		args = append(args, "-c:v", "mjpeg", "-q:v", strconv.Itoa(JPEGQScale(p.Quality)),
			"-pix_fmt", jpegPixFmt(p.Subsampling))
	}
	return append(args, job.Output)
}

// GIFArgs converts the head of a video into a palette-optimised looping GIF.
func GIFArgs(job Job) []string {
	g := job.GIF
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if job.Start > 0 {
		args = append(args, "-ss", seconds(job.Start))
	}
	args = append(args, "-t", seconds(g.Duration), "-i", job.Input)
	graph := fmt.Sprintf("fps=%d,scale=%d:%d:flags=lanczos,%s", g.FPS, g.Width, g.Height, palette(g.Colors))
	return append(args, "-vf", graph, "-loop", "0", "-an", job.Output)
}

func palette(colors int) string {
	if colors <= 0 || colors > 256 {
		colors = 256
	}
	return fmt.Sprintf("split[a][b];[a]palettegen=max_colors=%d[p];[b][p]paletteuse=dither=bayer:bayer_scale=5", colors)
}

// JPEGQScale maps a 0-100 quality percentage onto the mjpeg -q:v scale (2 best, 31 worst).
func JPEGQScale(quality int) int {
	q := int(math.Round(31 - float64(quality)*29/100))
	return max(2, min(31, q))
}

func jpegPixFmt(subsampling string) string {
	switch subsampling {
	case "444":
		return "yuvj444p"
	case "422":
		return "yuvj422p"
	default:
		return "yuvj420p"
	}
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func bitrate(bps int64) string { return strconv.FormatInt(bps/1000, 10) + "k" }

func seconds(s float64) string { return strconv.FormatFloat(s, 'f', 3, 64) }
