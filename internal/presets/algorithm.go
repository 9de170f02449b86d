// Package presets maps algorithm identities and content signals to encoder parameters.
package presets

import (
	"strings"

	"github.com/videopress/backend/internal/apperr"
)

// VideoAlgorithm is a closed set of video compression presets. The zero value is invalid.
type VideoAlgorithm uint8

const (
	NeuralPreserve VideoAlgorithm = iota + 1
	BitrateSculptor
	QuantumCompress
)

// VideoAlgorithms lists every video algorithm in catalog order.
var VideoAlgorithms = []VideoAlgorithm{NeuralPreserve, BitrateSculptor, QuantumCompress}

func (a VideoAlgorithm) String() string {
	switch a {
	case NeuralPreserve:
		return "neural_preserve"
	case BitrateSculptor:
		return "bitrate_sculptor"
	case QuantumCompress:
		return "quantum_compress"
	default:
		return "unknown"
	}
}

// ParseVideoAlgorithm resolves a client-supplied identifier. Empty selects NeuralPreserve.
func ParseVideoAlgorithm(s string) (VideoAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "neural_preserve":
		return NeuralPreserve, nil
	case "bitrate_sculptor":
		return BitrateSculptor, nil
	case "quantum_compress":
		return QuantumCompress, nil
	}
	return 0, apperr.New(apperr.KindInvalidAlgorithm, "unknown video algorithm: "+s)
}

// PhotoAlgorithm is a closed set of photo compression presets. The zero value is invalid.
type PhotoAlgorithm uint8

const (
	ClarityMax PhotoAlgorithm = iota + 1
	BalancedPro
	QuickShare
)

// PhotoAlgorithms lists every photo algorithm in catalog order.
var PhotoAlgorithms = []PhotoAlgorithm{ClarityMax, BalancedPro, QuickShare}

func (a PhotoAlgorithm) String() string {
	switch a {
	case ClarityMax:
		return "clarity_max"
	case BalancedPro:
		return "balanced_pro"
	case QuickShare:
		return "quick_share"
	default:
		return "unknown"
	}
}

// ParsePhotoAlgorithm resolves a client-supplied identifier. Empty selects BalancedPro.
func ParsePhotoAlgorithm(s string) (PhotoAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "balanced_pro":
		return BalancedPro, nil
	case "clarity_max":
		return ClarityMax, nil
	case "quick_share":
		return QuickShare, nil
	}
	return 0, apperr.New(apperr.KindInvalidAlgorithm, "unknown photo algorithm: "+s)
}

// AlgorithmInfo describes a preset for catalog listings.
type AlgorithmInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	Description   string   `json:"description"`
	MaxResolution int      `json:"max_resolution"`
	Quality       string   `json:"quality"`
	Speed         string   `json:"speed"`
	BestFor       []string `json:"best_for"`
	Recommended   bool     `json:"recommended,omitempty"`
}

// Catalog returns descriptions of every video and photo algorithm.
func Catalog() []AlgorithmInfo {
	return []AlgorithmInfo{
		{
			ID: NeuralPreserve.String(), Name: "Neural Preserve", Kind: "video",
			Description:   "Content-adaptive single-pass encode; CRF and filters follow detected content type.",
			MaxResolution: videoCaps[NeuralPreserve], Quality: "highest", Speed: "slow",
			BestFor: []string{"faces", "detailed scenes", "short clips"}, Recommended: true,
		},
		{
			ID: BitrateSculptor.String(), Name: "Bitrate Sculptor", Kind: "video",
			Description:   "Two-pass encode targeting a size budget per part.",
			MaxResolution: videoCaps[BitrateSculptor], Quality: "high", Speed: "medium",
			BestFor: []string{"vlogs", "mixed content", "predictable file size"},
		},
		{
			ID: QuantumCompress.String(), Name: "Quantum Compress", Kind: "video",
			Description:   "Aggressive fast encode for the smallest files.",
			MaxResolution: videoCaps[QuantumCompress], Quality: "good", Speed: "fast",
			BestFor: []string{"long videos", "slow connections", "bulk sharing"},
		},
		{
			ID: ClarityMax.String(), Name: "Clarity Max", Kind: "photo",
			Description:   "High quality JPEG with full chroma and content-aware sharpening.",
			MaxResolution: photoCaps[ClarityMax].MaxDimension, Quality: "92%", Speed: "medium",
			BestFor: []string{"portraits", "detailed photos"},
		},
		{
			ID: BalancedPro.String(), Name: "Balanced Pro", Kind: "photo",
			Description:   "Quality adapts to detected image type.",
			MaxResolution: photoCaps[BalancedPro].MaxDimension, Quality: "82-88%", Speed: "fast",
			BestFor: []string{"everyday photos", "screenshots"}, Recommended: true,
		},
		{
			ID: QuickShare.String(), Name: "Quick Share", Kind: "photo",
			Description:   "Smallest files for fast sharing.",
			MaxResolution: photoCaps[QuickShare].MaxDimension, Quality: "78%", Speed: "fastest",
			BestFor: []string{"status updates", "bulk sharing"},
		},
	}
}
