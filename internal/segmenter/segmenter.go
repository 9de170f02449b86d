// Package segmenter cuts a video into fixed-length spans and encodes each one.
package segmenter

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/videopress/backend/internal/encoder"
)

// Span is a half-open [Start, End) interval of the source, numbered from 1.
type Span struct {
	Part  int     `json:"part"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (s Span) Duration() float64 { return s.End - s.Start }

// Plan divides total seconds into ceil(total/seg) contiguous spans. A non-positive
// seg, or one covering the whole input, yields a single span.
func Plan(total, seg float64) []Span {
	if total <= 0 {
		return nil
	}
	if seg <= 0 || seg >= total {
		return []Span{{Part: 1, Start: 0, End: total}}
	}
	n := int(math.Ceil(total / seg))
	spans := make([]Span, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * seg
		end := math.Min(start+seg, total)
		spans = append(spans, Span{Part: i + 1, Start: start, End: end})
	}
	return spans
}

// Longest returns the duration of the longest span.
func Longest(spans []Span) float64 {
	var d float64
	for _, s := range spans {
		d = math.Max(d, s.Duration())
	}
	return d
}

// Naming places part files in Dir as {FileID}_partNN{Ext}, or {FileID}_compressed{Ext}
// when there is only one part.
type Naming struct {
	Dir    string
	FileID string
	Ext    string
}

// Name returns the file name of part out of parts.
func (n Naming) Name(part, parts int) string {
	if parts <= 1 {
		return fmt.Sprintf("%s_compressed%s", n.FileID, n.Ext)
	}
	return fmt.Sprintf("%s_part%02d%s", n.FileID, part, n.Ext)
}

// Path joins Dir and Name.
func (n Naming) Path(part, parts int) string {
	return filepath.Join(n.Dir, n.Name(part, parts))
}

// Encoder is the subset of encoder.Encoder the segmenter drives.
type Encoder interface {
	Run(ctx context.Context, job encoder.Job) encoder.Result
}

// PartResult pairs a span with its encode outcome.
type PartResult struct {
	Span
	Name   string
	Path   string
	Result encoder.Result
}

// Hooks observe progress; either field may be nil.
type Hooks struct {
	Started  func(span Span, parts int)
	Finished func(r PartResult, parts int)
}

// Split encodes every span in order with base as the template job. A failed part
// never stops the remaining ones.
func Split(ctx context.Context, enc Encoder, base encoder.Job, spans []Span, naming Naming, hooks Hooks) []PartResult {
	parts := len(spans)
	results := make([]PartResult, 0, parts)
	for _, span := range spans {
		if hooks.Started != nil {
			hooks.Started(span, parts)
		}
		job := base
		job.Output = naming.Path(span.Part, parts)
		job.Clipped = parts > 1
		job.Start = span.Start
		job.Duration = span.Duration()

		r := PartResult{
			Span:   span,
			Name:   naming.Name(span.Part, parts),
			Path:   job.Output,
			Result: enc.Run(ctx, job),
		}
		results = append(results, r)
		if hooks.Finished != nil {
			hooks.Finished(r, parts)
		}
	}
	return results
}

// AllSucceeded reports whether every part encoded successfully. Empty input is false.
func AllSucceeded(results []PartResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Result.Success {
			return false
		}
	}
	return true
}
