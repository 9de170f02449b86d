package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchivedOutput is an output part copied to object storage.
type ArchivedOutput struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"-"`
	FileID    string    `json:"file_id"`
	Part      int       `json:"part"`
	S3Key     string    `json:"-"`
	Size      int64     `json:"size_bytes"`
	Algorithm string    `json:"algorithm"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
