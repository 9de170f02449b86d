package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "outputs/s1/f1/f1_part02.mp4", OutputKey("s1", "f1", "f1_part02.mp4"))
	assert.Equal(t, "outputs/s1/f1/evil.mp4", OutputKey("s1", "f1", "../../evil.mp4"))
	assert.Equal(t, "outputs/s1/f1/", OutputPrefix("s1", "f1"))
}

func TestContentTypeForFilename(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeForFilename("a_compressed.mp4"))
	assert.Equal(t, "image/webp", ContentTypeForFilename("photo.WEBP"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFilename("x.bin"))
}
