package models

import "time"

// MediaKind distinguishes video from photo uploads.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindPhoto MediaKind = "photo"
)

// MediaInfo is the probed metadata of an uploaded file.
type MediaInfo struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Duration     float64 `json:"duration,omitempty"`
	FPS          float64 `json:"fps,omitempty"`
	Codec        string  `json:"codec,omitempty"`
	Bitrate      int64   `json:"bitrate,omitempty"`
	HasAudio     bool    `json:"has_audio,omitempty"`
	AudioBitrate int64   `json:"audio_bitrate,omitempty"`
	Format       string  `json:"format,omitempty"`
	Animated     bool    `json:"is_animated,omitempty"`
	Frames       int     `json:"frames,omitempty"`
	ImageType    string  `json:"image_type,omitempty"`
}

// Upload is a validated file stored in the uploads directory. Immutable once recorded.
type Upload struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"-"`
	OriginalName string    `json:"original_name"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	Kind         MediaKind `json:"type"`
	Media        MediaInfo `json:"media"`
	CreatedAt    time.Time `json:"timestamp"`
}
