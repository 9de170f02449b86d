package analysis

// Rect is a detected face bounding box in frame pixels.
type Rect struct {
	X, Y, W, H int
}

// FaceDetector finds faces in a frame. Implementations are optional; use
// NopFaceDetector when no detection capability is available.
type FaceDetector interface {
	Detect(frame FrameSample) ([]Rect, error)
}

// NopFaceDetector never reports faces.
type NopFaceDetector struct{}

// Detect implements FaceDetector.
func (NopFaceDetector) Detect(FrameSample) ([]Rect, error) { return nil, nil }
