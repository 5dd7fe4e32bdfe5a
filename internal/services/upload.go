package services

import (
	"fmt"
	"strings"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// UploadValidator enforces the size ceiling and the extension allow-list. It
// never looks at file contents.
type UploadValidator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

func NewUploadValidator(maxBytes int64, extensions []string) *UploadValidator {
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return &UploadValidator{maxBytes: maxBytes, allowed: allowed}
}

// Validate checks size first, then extension.
func (v *UploadValidator) Validate(fileName string, size int64) error {
	if size > v.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", model.ErrTooLarge, size, v.maxBytes)
	}
	ext := Extension(fileName)
	if _, ok := v.allowed[ext]; !ok {
		return fmt.Errorf("%w: %q", model.ErrDisallowedType, ext)
	}
	return nil
}

// MaxBytes returns the configured ceiling.
func (v *UploadValidator) MaxBytes() int64 { return v.maxBytes }

// Extension returns the lower-cased suffix after the last dot, or "".
func Extension(fileName string) string {
	i := strings.LastIndex(fileName, ".")
	if i < 0 || i == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[i+1:])
}
