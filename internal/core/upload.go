package core

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Upload limit defaults.
const (
	DefaultMaxUploadSize = 10 << 20
	DefaultMinImageSize  = 10000
	DefaultMaxNameLength = 255
	DefaultMaxBatchFiles = 20
)

// allowedTypes maps accepted content types to whether they are images.
// image/jpg is a non-standard alias some clients send.
var allowedTypes = map[string]bool{
	"application/pdf": false,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"text/plain":      false,
}

// UploadLimits are the acceptance rules for one uploaded file.
type UploadLimits struct {
	MaxSize       int64
	MinImageSize  int64
	MaxNameLength int
}

// DefaultUploadLimits returns 10MB max, a 10000-byte minimum for images and
// 255-char names.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxSize:       DefaultMaxUploadSize,
		MinImageSize:  DefaultMinImageSize,
		MaxNameLength: DefaultMaxNameLength,
	}
}

// FileMeta describes an uploaded file.
type FileMeta struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"type"`
}

// IsImage reports whether the content type is an accepted image type.
func (m FileMeta) IsImage() bool { return allowedTypes[m.ContentType] }

// ValidateUpload checks a file against the limits. Every rejection is a
// *ValidationError whose message is shown to the user.
func ValidateUpload(m FileMeta, limits UploadLimits) error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "file", Message: "no file provided"}
	}
	if limits.MaxNameLength > 0 && utf8.RuneCountInString(m.Name) > limits.MaxNameLength {
		return &ValidationError{Field: "file", Value: m.Name,
			Message: fmt.Sprintf("file name too long: at most %d characters", limits.MaxNameLength)}
	}
	if m.Size <= 0 {
		return &ValidationError{Field: "file", Value: m.Name, Message: "empty file"}
	}
	if limits.MaxSize > 0 && m.Size > limits.MaxSize {
		return &ValidationError{Field: "file", Value: m.Name,
			Message: fmt.Sprintf("file too large: maximum is %s", humanSize(limits.MaxSize))}
	}
	isImage, ok := allowedTypes[m.ContentType]
	if !ok {
		return &ValidationError{Field: "file", Value: m.ContentType,
			Message: "unsupported file type: only PDF, JPEG, PNG and plain text are accepted"}
	}
	if isImage && m.Size < limits.MinImageSize {
		return &ValidationError{Field: "file", Value: m.Name,
			Message: fmt.Sprintf("image too small: images must be at least %s", humanSize(limits.MinImageSize))}
	}
	return nil
}

// ResolveContentType normalizes the declared content type, sniffing head
// when the client sent none or a generic one.
func ResolveContentType(declared string, head []byte) string {
	ct := normalizeMediaType(declared)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeMediaType(http.DetectContentType(head))
	}
	return ct
}

func normalizeMediaType(s string) string {
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return mt
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	case n >= 1000 && n%1000 == 0:
		return fmt.Sprintf("%dKB", n/1000)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
