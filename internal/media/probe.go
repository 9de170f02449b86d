package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
)

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		BitRate    string `json:"bit_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Prober reads media metadata with ffprobe.
type Prober struct {
	runner Runner
	bin    string
}

// NewProber creates a Prober. Empty bin defaults to "ffprobe".
func NewProber(runner Runner, bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{runner: runner, bin: bin}
}

// ProbeVideo returns the metadata of the first video stream and the container.
// Inputs without a video stream are reported as invalid uploads.
func (p *Prober) ProbeVideo(ctx context.Context, path string) (models.MediaInfo, error) {
	var out bytes.Buffer
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path}
	stderr, err := p.runner.Run(ctx, p.bin, args, &out)
	if err != nil {
		return models.MediaInfo{}, apperr.Wrap(apperr.KindInvalidUpload,
			fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(stderr))), "could not analyze video")
	}
	return ParseProbe(out.Bytes())
}

// ParseProbe converts ffprobe JSON output into MediaInfo.
func ParseProbe(raw []byte) (models.MediaInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return models.MediaInfo{}, apperr.Wrap(apperr.KindInvalidUpload, err, "could not analyze video")
	}

	info := models.MediaInfo{
		Duration: parseFloat(probe.Format.Duration),
		Bitrate:  parseInt(probe.Format.BitRate),
		Format:   probe.Format.FormatName,
	}
	foundVideo := false
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			info.FPS = parseFrameRate(s.RFrameRate)
			info.Frames = int(parseInt(s.NbFrames))
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioBitrate = parseInt(s.BitRate)
			}
		}
	}
	if !foundVideo {
		return models.MediaInfo{}, apperr.New(apperr.KindInvalidUpload, "no video stream found")
	}
	return info, nil
}

// parseFrameRate handles fractional rates such as "30000/1001".
func parseFrameRate(s string) float64 {
	if s == "" {
		return 30
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 30
		}
		return n / d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return 30
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
