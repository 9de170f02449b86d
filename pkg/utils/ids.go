package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PhotoPrefix marks file ids of photo uploads.
const PhotoPrefix = "photo_"

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// NewSessionID returns "{unix}_{12 hex}".
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%d_%s", now.Unix(), randomHex(12))
}

// NewFileID returns "{unix}_{8 hex}" for videos and "photo_{unix}_{8 hex}" for photos.
func NewFileID(now time.Time, photo bool) string {
	id := fmt.Sprintf("%d_%s", now.Unix(), randomHex(8))
	if photo {
		return PhotoPrefix + id
	}
	return id
}

// ValidID reports whether id is safe to embed in a file name: non-empty, at most 64
// characters of [A-Za-z0-9_-].
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
