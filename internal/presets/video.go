package presets

import (
	"fmt"
	"math"
	"strings"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/models"
)

const (
	// DefaultBudgetMB is the per-part size budget used when none is configured.
	DefaultBudgetMB = 15.5
	// MinVideoBitrate is the floor applied to budget-derived bitrates (bits/s).
	MinVideoBitrate = 500_000
	maxFPS          = 30
)

var videoCaps = map[VideoAlgorithm]int{
	NeuralPreserve:  1080,
	BitrateSculptor: 720,
	QuantumCompress: 640,
}

// VideoParams is the fully resolved encoder configuration for one run.
type VideoParams struct {
	Algorithm     VideoAlgorithm
	TwoPass       bool
	CRF           int   // 0 when rate-controlled by bitrate
	VideoBitrate  int64 // target (two-pass) or reference bitrate in bits/s
	MaxRate       int64
	BufSize       int64
	Width         int
	Height        int
	Preset        string
	Profile       string
	Level         string
	Tune          string
	Filters       []string
	X264Params    []string
	Pass1Params   []string
	AudioCodec    string
	AudioBitrate  string
	AudioRate     int
	AudioChannels int
	ContentType   analysis.ContentType
}

// FilterGraph joins Filters into an ffmpeg -vf argument.
func (p VideoParams) FilterGraph() string { return strings.Join(p.Filters, ",") }

// TargetVideoBitrate returns floor((budget bits - audio bits) / duration), floored at
// MinVideoBitrate. audioKbps is the audio bitrate in kbit/s.
func TargetVideoBitrate(duration, budgetMB float64, audioKbps int) int64 {
	if duration <= 0 {
		return MinVideoBitrate
	}
	targetBits := budgetMB * 8 * 1024 * 1024
	audioBits := float64(audioKbps) * 1000 * duration
	v := int64(math.Floor((targetBits - audioBits) / duration))
	if v < MinVideoBitrate {
		return MinVideoBitrate
	}
	return v
}

// SelectVideo resolves the parameters for alg. spanDuration is the length of the
// longest part that will be encoded (the full duration when not splitting) and drives
// budget-derived bitrates. Only NeuralPreserve consults the analysis.
func SelectVideo(alg VideoAlgorithm, info models.MediaInfo, spanDuration float64, a analysis.VideoAnalysis, budgetMB float64) VideoParams {
	if budgetMB <= 0 {
		budgetMB = DefaultBudgetMB
	}
	if spanDuration <= 0 {
		spanDuration = info.Duration
	}
	w, h := FitWithin(info.Width, info.Height, videoCaps[alg])

	switch alg {
	case NeuralPreserve:
		return neuralPreserve(info, spanDuration, a, budgetMB, w, h)
	case BitrateSculptor:
		return bitrateSculptor(info, spanDuration, budgetMB, w, h)
	case QuantumCompress:
		return quantumCompress(info, w, h)
	}
	panic(fmt.Sprintf("presets: unhandled video algorithm %d", alg))
}

type contentTuning struct {
	psyRD   string
	aq      string
	deblock string
	preset  string
	denoise int
}

var neuralTuning = map[analysis.ContentType]contentTuning{
	analysis.ContentTalkingHead: {"1.5:0.3", "1.0", "0:0", "veryslow", 1},
	analysis.ContentAction:      {"1.0:0.15", "0.8", "-1:-1", "slower", 3},
	analysis.ContentNature:      {"1.3:0.25", "0.9", "-1:-1", "veryslow", 2},
	analysis.ContentScreen:      {"0.8:0.1", "0.6", "0:0", "veryslow", 0},
}

var generalTuning = contentTuning{"1.2:0.25", "0.9", "-1:-1", "veryslow", 2}

func neuralPreserve(info models.MediaInfo, duration float64, a analysis.VideoAnalysis, budgetMB float64, w, h int) VideoParams {
	var crf int
	mult := 1.0
	content := analysis.ContentGeneral
	if a.Confidence > 0.3 {
		content = a.ContentType
		crf = a.RecommendedCRF
		mult = a.BitrateMultiplier
		if info.Duration < 15 {
			crf = max(17, crf-1)
		} else if info.Duration > 60 {
			crf = min(22, crf+1)
		}
	} else {
		switch {
		case info.Duration < 15:
			crf = 18
		case info.Duration < 30:
			crf = 19
		case info.Duration < 60:
			crf = 20
		default:
			crf = 21
		}
	}

	tuning, ok := neuralTuning[content]
	if !ok {
		tuning = generalTuning
	}
	target := int64(float64(TargetVideoBitrate(duration, budgetMB, 128)) * mult)

	filters := []string{
		fmt.Sprintf("scale=%d:%d:flags=lanczos", w, h),
		"pad=ceil(iw/2)*2:ceil(ih/2)*2",
	}
	if d := tuning.denoise; d > 0 {
		filters = append(filters, fmt.Sprintf("hqdn3d=%d:%d:%d:%d", d, d, d+1, d+1))
	}
	switch content {
	case analysis.ContentTalkingHead:
		filters = append(filters, "unsharp=3:3:0.2:3:3:0.05")
	case analysis.ContentAction:
	default:
		filters = append(filters, "unsharp=3:3:0.3:3:3:0.1")
	}
	filters = appendFPSCap(filters, info.FPS)

	x264 := []string{
		"aq-mode=3", "aq-strength=" + tuning.aq,
		"psy-rd=" + tuning.psyRD,
		"me=umh", "subme=10", "ref=6", "merange=24",
		"bframes=5", "b-adapt=2", "b-pyramid=normal",
		"rc-lookahead=60", "mbtree=1", "qcomp=0.7",
		"deblock=" + tuning.deblock,
		"analyse=all", "direct=auto", "trellis=2",
		"no-fast-pskip=1", "no-dct-decimate=1", "weightp=2", "weightb=1",
	}
	tune := ""
	if a.AvgFaces > 0 && a.FaceCoverage > 0.05 {
		tune = "film"
	}

	return VideoParams{
		Algorithm:     NeuralPreserve,
		CRF:           crf,
		VideoBitrate:  target,
		MaxRate:       target * 3 / 2,
		BufSize:       target * 3,
		Width:         w,
		Height:        h,
		Preset:        tuning.preset,
		Profile:       "high",
		Level:         "4.2",
		Tune:          tune,
		Filters:       filters,
		X264Params:    x264,
		AudioCodec:    "aac",
		AudioBitrate:  "160k",
		AudioRate:     48000,
		AudioChannels: 2,
		ContentType:   content,
	}
}

func bitrateSculptor(info models.MediaInfo, duration, budgetMB float64, w, h int) VideoParams {
	gop := []string{"keyint=60", "min-keyint=30", "scenecut=40", "b-adapt=2", "bframes=3", "ref=3"}
	pass2 := append(append([]string{}, gop...), "direct=auto", "me=hex", "subme=7", "trellis=1")
	filters := appendFPSCap([]string{
		fmt.Sprintf("scale=%d:%d", w, h),
		"hqdn3d=2:2:3:3",
	}, info.FPS)
	return VideoParams{
		Algorithm:    BitrateSculptor,
		TwoPass:      true,
		VideoBitrate: TargetVideoBitrate(duration, budgetMB, 128),
		Width:        w,
		Height:       h,
		Preset:       "medium",
		Profile:      "main",
		Level:        "4.0",
		Filters:      filters,
		X264Params:   pass2,
		Pass1Params:  gop,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		AudioRate:    44100,
		ContentType:  analysis.ContentGeneral,
	}
}

func quantumCompress(info models.MediaInfo, w, h int) VideoParams {
	filters := appendFPSCap([]string{
		"hqdn3d=4:4:6:6",
		fmt.Sprintf("scale=%d:%d", w, h),
	}, info.FPS)
	return VideoParams{
		Algorithm: QuantumCompress,
		CRF:       28,
		Width:     w,
		Height:    h,
		Preset:    "faster",
		Profile:   "baseline",
		Level:     "3.1",
		Tune:      "fastdecode",
		Filters:   filters,
		X264Params: []string{
			"keyint=120", "min-keyint=60", "bframes=0", "ref=1",
			"me=dia", "subme=4", "aq-mode=0", "no-mbtree=1",
		},
		AudioCodec:    "aac",
		AudioBitrate:  "96k",
		AudioRate:     44100,
		AudioChannels: 1,
		ContentType:   analysis.ContentGeneral,
	}
}

func appendFPSCap(filters []string, fps float64) []string {
	if fps > maxFPS {
		return append(filters, fmt.Sprintf("fps=%d", maxFPS))
	}
	return filters
}
