// Package image validates incoming meme payloads and applies the foil
// stamp overlay to finished cards.
package image

import (
	"bytes"
	"fmt"
	stdimage "image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"rizo-card-bot/internal/platform/logging"
)

// Limits bounds what the validator accepts. Zero values fall back to the
// defaults below.
type Limits struct {
	MaxFileSize int64
	MaxWidth    int
	MaxHeight   int
	MaxPixels   int64
}

const (
	defaultMaxFileSize = 10 << 20 // Telegram caps photo downloads at 10 MB
	defaultMaxWidth    = 8192
	defaultMaxHeight   = 8192
	defaultMaxPixels   = 40_000_000
)

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// Validator performs layered checks on meme payloads before they reach
// the upstream image model.
type Validator struct {
	limits Limits
	logger *logging.Logger
}

// ValidationResult reports what the validator decoded.
type ValidationResult struct {
	Format   string
	Width    int
	Height   int
	FileSize int64
}

// NewValidator constructs a validator; zero limits use the defaults.
func NewValidator(limits Limits, logger *logging.Logger) *Validator {
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = defaultMaxFileSize
	}
	if limits.MaxWidth <= 0 {
		limits.MaxWidth = defaultMaxWidth
	}
	if limits.MaxHeight <= 0 {
		limits.MaxHeight = defaultMaxHeight
	}
	if limits.MaxPixels <= 0 {
		limits.MaxPixels = defaultMaxPixels
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Validator{limits: limits, logger: logger}
}

// ValidateBytes checks size, decodability, dimensions, and signature
// consistency of a raw image payload.
func (v *Validator) ValidateBytes(raw []byte) (*ValidationResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	if int64(len(raw)) > v.limits.MaxFileSize {
		v.logger.WarnTag("pipeline", "rejecting oversized image: size=%d max=%d",
			len(raw), v.limits.MaxFileSize)
		return nil, fmt.Errorf("file size exceeds limit: %d bytes (max %d bytes)",
			len(raw), v.limits.MaxFileSize)
	}

	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	if cfg.Width > v.limits.MaxWidth || cfg.Height > v.limits.MaxHeight {
		return nil, fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
			cfg.Width, cfg.Height, v.limits.MaxWidth, v.limits.MaxHeight)
	}
	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if totalPixels > v.limits.MaxPixels {
		return nil, fmt.Errorf("pixel count exceeds limit: %d (max %d)",
			totalPixels, v.limits.MaxPixels)
	}

	if !matchesSignature(raw, format) {
		header := fmt.Sprintf("%x", raw[:min(len(raw), 16)])
		v.logger.WarnTag("pipeline", "file signature mismatch: format=%s header=%s",
			format, header)
		return nil, fmt.Errorf("file signature does not match %s", format)
	}

	v.logger.DebugTag("pipeline", "image validated: format=%s width=%d height=%d size=%d",
		format, cfg.Width, cfg.Height, len(raw))

	return &ValidationResult{
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FileSize: int64(len(raw)),
	}, nil
}

func matchesSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok || len(signature) == 0 {
		return true
	}
	if len(raw) < len(signature) {
		return false
	}
	return bytes.Equal(signature, raw[:len(signature)])
}
