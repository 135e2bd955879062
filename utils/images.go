// quotebook/utils/images.go
package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Import gif decoder
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("image is empty")

var allowedImageTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
}

// ImageLimits bounds an uploaded image before it is re-encoded.
type ImageLimits struct {
	MaxBytes  int
	MaxWidth  int
	MaxHeight int
	// FitWidth and FitHeight shrink larger images, preserving aspect ratio. Zero disables.
	FitWidth  int
	FitHeight int
}

// ProcessedImage is an image re-encoded for storage.
type ProcessedImage struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Key returns a unique storage key under prefix.
func (p *ProcessedImage) Key(prefix string) string {
	return fmt.Sprintf("%s/%s.%s", strings.Trim(prefix, "/"), uuid.New().String(), p.Ext)
}

// DecodeInlineImage accepts a data URL ("data:image/png;base64,....") or bare base64
// and returns the raw bytes.
func DecodeInlineImage(payload string, maxBytes int) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyImage
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, errors.New("image data URL must be base64 encoded")
		}
		payload = payload[comma+1:]
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return nil, fmt.Errorf("image is larger than the %dMB limit", maxBytes/1024/1024)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > maxBytes {
		return nil, fmt.Errorf("image is larger than the %dMB limit", maxBytes/1024/1024)
	}
	return data, nil
}

// NormalizeImage validates image bytes by magic number and dimensions, corrects
// orientation, shrinks it to the fit box and re-encodes it. PNG input stays PNG so
// transparent signature strokes survive; everything else becomes JPEG.
func NormalizeImage(data []byte, limits ImageLimits) (*ProcessedImage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, fmt.Errorf("image is larger than the %dMB limit", limits.MaxBytes/1024/1024)
	}

	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		return nil, fmt.Errorf("unsupported file type: %s. Only JPG, PNG, GIF, and WebP are allowed", contentType)
	}

	reader := bytes.NewReader(data)
	cfg, format, err := image.DecodeConfig(reader)
	if err != nil {
		return nil, fmt.Errorf("invalid image format, could not decode config: %w", err)
	}
	if cfg.Width > limits.MaxWidth || cfg.Height > limits.MaxHeight {
		return nil, fmt.Errorf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, limits.MaxWidth, limits.MaxHeight)
	}
	if _, err := reader.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("could not reset reader position: %w", err)
	}

	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image with orientation correction: %w", err)
	}
	if limits.FitWidth > 0 && limits.FitHeight > 0 {
		b := img.Bounds()
		if b.Dx() > limits.FitWidth || b.Dy() > limits.FitHeight {
			img = imaging.Fit(img, limits.FitWidth, limits.FitHeight, imaging.Lanczos)
		}
	}

	out := &ProcessedImage{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	buf := new(bytes.Buffer)
	if format == "png" {
		err = imaging.Encode(buf, img, imaging.PNG)
		out.ContentType, out.Ext = "image/png", "png"
	} else {
		err = imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90))
		out.ContentType, out.Ext = "image/jpeg", "jpeg"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	out.Data = buf.Bytes()
	return out, nil
}
