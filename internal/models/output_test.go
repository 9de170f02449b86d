package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompressionRatio(t *testing.T) {
	assert.InDelta(t, 0.75, CompressionRatio(1000, 250), 1e-9)
	assert.InDelta(t, 0.0, CompressionRatio(1000, 1000), 1e-9)
	assert.InDelta(t, -0.5, CompressionRatio(1000, 1500), 1e-9)
	assert.Equal(t, 0.0, CompressionRatio(0, 10))
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now.Add(59*time.Minute)))
	assert.True(t, s.Expired(now.Add(time.Hour)))
}
