// Package uploads validates, stores and probes incoming media files.
package uploads

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/utils"
)

// Validator checks upload names and sizes before anything is written.
type Validator struct {
	MaxSize   int64
	videoExts map[string]bool
	imageExts map[string]bool
}

// NewValidator builds a Validator from extension lists with or without leading dots.
func NewValidator(maxSize int64, videoExts, imageExts []string) *Validator {
	return &Validator{MaxSize: maxSize, videoExts: extSet(videoExts), imageExts: extSet(imageExts)}
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			m[e] = true
		}
	}
	return m
}

// Extensions returns the sorted allowed extensions for kind.
func (v *Validator) Extensions(kind models.MediaKind) []string {
	set := v.videoExts
	if kind == models.MediaKindPhoto {
		set = v.imageExts
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Validate returns the lower-case extension (with dot) of filename. size < 0 means unknown.
func (v *Validator) Validate(filename string, size int64, kind models.MediaKind) (string, error) {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", apperr.New(apperr.KindInvalidUpload, "no file selected")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	allowed := v.videoExts
	if kind == models.MediaKindPhoto {
		allowed = v.imageExts
	}
	if ext == "" || !allowed[ext] {
		return "", apperr.New(apperr.KindInvalidUpload,
			fmt.Sprintf("invalid file type; allowed: %s", strings.Join(v.Extensions(kind), ", ")))
	}
	if size > v.MaxSize {
		return "", tooLarge(v.MaxSize)
	}
	return "." + ext, nil
}

func tooLarge(max int64) error {
	return apperr.New(apperr.KindFileTooLarge, fmt.Sprintf("file too large (max %s)", utils.FormatSize(max)))
}
