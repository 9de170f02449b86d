package models

import "time"

// OutputStatus is the outcome of encoding one part.
type OutputStatus string

const (
	OutputStatusReady  OutputStatus = "ready"
	OutputStatusFailed OutputStatus = "failed"
)

// Output is one encoded part produced from an Upload.
type Output struct {
	ID               string       `json:"id"`
	UploadID         string       `json:"file_id"`
	Part             int          `json:"part"`
	Path             string       `json:"-"`
	Name             string       `json:"name"`
	Size             int64        `json:"size_bytes"`
	Algorithm        string       `json:"algorithm"`
	Format           string       `json:"format"`
	Start            float64      `json:"start"`
	End              float64      `json:"end"`
	CompressionRatio float64      `json:"compression_ratio"`
	Status           OutputStatus `json:"status"`
	Error            string       `json:"error,omitempty"`
	CreatedAt        time.Time    `json:"timestamp"`
}

// Ready reports whether the part was encoded successfully.
func (o Output) Ready() bool { return o.Status == OutputStatusReady }

// CompressionRatio returns 1 - out/in, or 0 when the input size is unknown.
func CompressionRatio(inputSize, outputSize int64) float64 {
	if inputSize <= 0 {
		return 0
	}
	return 1 - float64(outputSize)/float64(inputSize)
}
