package analysis

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/media"
	"github.com/videopress/backend/internal/models"
)

// ContentType is the classification bucket of a video.
type ContentType string

const (
	ContentTalkingHead ContentType = "talking_head"
	ContentGroupPeople ContentType = "group_people"
	ContentAction      ContentType = "action"
	ContentNature      ContentType = "nature"
	ContentScreen      ContentType = "screen"
	ContentGeneral     ContentType = "general"
)

const (
	sampleWidth  = 160
	sampleHeight = 120
	// minConfidentFrames is the sample count at which confidence reaches 1.
	minConfidentFrames = 10
	analysisTimeout    = 90 * time.Second
)

// VideoAnalysis summarises the sampled frames of a video.
type VideoAnalysis struct {
	ContentType       ContentType `json:"content_type"`
	Complexity        float64     `json:"complexity"`
	Motion            float64     `json:"motion"`
	EdgeDensity       float64     `json:"edge_density"`
	Brightness        float64     `json:"brightness"`
	Contrast          float64     `json:"contrast"`
	Colorfulness      float64     `json:"colorfulness"`
	AvgFaces          float64     `json:"avg_faces"`
	MaxFaces          int         `json:"max_faces"`
	FaceCoverage      float64     `json:"face_coverage"`
	RecommendedCRF    int         `json:"recommended_crf"`
	BitrateMultiplier float64     `json:"bitrate_multiplier"`
	Confidence        float64     `json:"confidence"`
	Frames            int         `json:"frames"`
}

// DefaultVideoAnalysis is the neutral result used when nothing could be sampled.
func DefaultVideoAnalysis() VideoAnalysis {
	return VideoAnalysis{
		ContentType:       ContentGeneral,
		Complexity:        0.5,
		Motion:            0.3,
		Brightness:        0.5,
		RecommendedCRF:    20,
		BitrateMultiplier: 1.0,
	}
}

// Classify picks the content bucket from aggregate signals.
func Classify(avgFaces float64, maxFaces int, faceCoverage, motion, edge, brightness float64) ContentType {
	switch {
	case avgFaces >= 0.8 && faceCoverage > 0.05 && motion < 0.3:
		return ContentTalkingHead
	case maxFaces >= 2 && avgFaces >= 1.5:
		return ContentGroupPeople
	case motion > 0.5:
		return ContentAction
	case edge > 0.15 && brightness > 0.6:
		return ContentScreen
	case edge > 0.05 && motion < 0.4:
		return ContentNature
	default:
		return ContentGeneral
	}
}

// Complexity combines detail, colour and stillness into a 0..1 score.
func Complexity(edge, colorfulness, motion float64) float64 {
	return clamp01(edge*0.4 + colorfulness*0.3 + (1-motion)*0.3)
}

var baseCRF = map[ContentType]int{
	ContentTalkingHead: 18,
	ContentGroupPeople: 19,
	ContentAction:      21,
	ContentNature:      19,
	ContentScreen:      20,
	ContentGeneral:     20,
}

// Recommend returns the CRF (17..23) and bitrate multiplier (1.0..1.5) for a bucket.
func Recommend(ct ContentType, complexity, faceCoverage, motion float64) (int, float64) {
	crf, ok := baseCRF[ct]
	if !ok {
		crf = 20
	}
	crf += int((0.5 - complexity) * 4)
	if crf < 17 {
		crf = 17
	}
	if crf > 23 {
		crf = 23
	}

	mult := 1.0
	if faceCoverage > 0.1 {
		mult += 0.2
	}
	if ct == ContentTalkingHead {
		mult += 0.1
	}
	if motion > 0.5 {
		mult += 0.15
	}
	return crf, math.Min(mult, 1.5)
}

// Summarize aggregates per-frame signals. It never fails: an empty sample yields
// DefaultVideoAnalysis, and detector errors count as "no faces" for that frame.
func Summarize(frames []FrameSample, detector FaceDetector) VideoAnalysis {
	if detector == nil {
		detector = NopFaceDetector{}
	}
	var valid []FrameSample
	for _, f := range frames {
		if f.Valid() {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return DefaultVideoAnalysis()
	}

	var edge, bright, contrast, color, faces, coverage float64
	maxFaces := 0
	for _, f := range valid {
		edge += EdgeDensity(f)
		bright += Brightness(f)
		contrast += Contrast(f)
		color += Colorfulness(f)

		rects, err := detector.Detect(f)
		if err != nil {
			continue
		}
		faces += float64(len(rects))
		if len(rects) > maxFaces {
			maxFaces = len(rects)
		}
		area := 0
		for _, r := range rects {
			area += r.W * r.H
		}
		coverage += math.Min(1, float64(area)/float64(f.Width*f.Height))
	}
	n := float64(len(valid))

	motion := DefaultVideoAnalysis().Motion
	if len(valid) > 1 {
		sum := 0.0
		for i := 1; i < len(valid); i++ {
			sum += Motion(valid[i-1], valid[i])
		}
		motion = sum / float64(len(valid)-1)
	}

	a := VideoAnalysis{
		Motion:       motion,
		EdgeDensity:  edge / n,
		Brightness:   bright / n,
		Contrast:     contrast / n,
		Colorfulness: color / n,
		AvgFaces:     faces / n,
		MaxFaces:     maxFaces,
		FaceCoverage: coverage / n,
		Confidence:   math.Min(n/minConfidentFrames, 1),
		Frames:       len(valid),
	}
	a.Complexity = Complexity(a.EdgeDensity, a.Colorfulness, a.Motion)
	a.ContentType = Classify(a.AvgFaces, a.MaxFaces, a.FaceCoverage, a.Motion, a.EdgeDensity, a.Brightness)
	a.RecommendedCRF, a.BitrateMultiplier = Recommend(a.ContentType, a.Complexity, a.FaceCoverage, a.Motion)
	return a
}

// VideoAnalyzer samples frames with ffmpeg and summarises them.
type VideoAnalyzer struct {
	runner    media.Runner
	ffmpeg    string
	detector  FaceDetector
	maxFrames int
	logger    *zap.Logger
}

// NewVideoAnalyzer creates an analyzer. A nil detector disables face detection.
func NewVideoAnalyzer(runner media.Runner, ffmpegBin string, detector FaceDetector, maxFrames int, logger *zap.Logger) *VideoAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NopFaceDetector{}
	}
	if maxFrames <= 0 {
		maxFrames = 30
	}
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &VideoAnalyzer{runner: runner, ffmpeg: ffmpegBin, detector: detector, maxFrames: maxFrames, logger: logger}
}

// Analyze returns the content analysis of the video at path. Sampling failures are
// logged and degrade to the default analysis.
func (a *VideoAnalyzer) Analyze(ctx context.Context, path string, info models.MediaInfo) VideoAnalysis {
	frames, err := a.sample(ctx, path, info.Duration)
	if err != nil {
		a.logger.Warn("frame sampling failed, using default analysis", zap.String("path", path), zap.Error(err))
		return DefaultVideoAnalysis()
	}
	result := Summarize(frames, a.detector)
	a.logger.Debug("video analysed",
		zap.String("content_type", string(result.ContentType)),
		zap.Float64("complexity", result.Complexity),
		zap.Float64("motion", result.Motion),
		zap.Int("frames", result.Frames),
	)
	return result
}

func (a *VideoAnalyzer) sample(ctx context.Context, path string, duration float64) ([]FrameSample, error) {
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	args := SampleArgs(path, duration, a.maxFrames)
	var out bytes.Buffer
	stderr, err := a.runner.Run(ctx, a.ffmpeg, args, &out)
	if err != nil {
		return nil, fmt.Errorf("sample frames: %w: %s", err, bytes.TrimSpace(stderr))
	}
	return SplitFrames(out.Bytes(), sampleWidth, sampleHeight), nil
}

// SampleArgs builds the ffmpeg arguments that emit up to maxFrames evenly spaced
// RGB24 frames of sampleWidth x sampleHeight on stdout.
func SampleArgs(path string, duration float64, maxFrames int) []string {
	rate := 1.0
	if duration > 0 {
		rate = float64(maxFrames) / duration
	}
	return []string{
		"-v", "error",
		"-i", path,
		"-an",
		"-vf", fmt.Sprintf("fps=%.4f,scale=%d:%d", rate, sampleWidth, sampleHeight),
		"-frames:v", fmt.Sprintf("%d", maxFrames),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	}
}

// SplitFrames cuts a rawvideo RGB24 stream into frames, dropping a trailing partial frame.
func SplitFrames(raw []byte, width, height int) []FrameSample {
	size := width * height * 3
	if size == 0 {
		return nil
	}
	var frames []FrameSample
	for off := 0; off+size <= len(raw); off += size {
		frames = append(frames, FrameSample{Width: width, Height: height, Pix: raw[off : off+size]})
	}
	return frames
}
