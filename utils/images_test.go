package utils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{A: 255})
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeInlineImage(t *testing.T) {
	raw := testPNG(t, 10, 10)
	encoded := base64.StdEncoding.EncodeToString(raw)

	testCases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"Data URL", "data:image/png;base64," + encoded, false},
		{"Bare Base64", encoded, false},
		{"Empty", "   ", true},
		{"Not Base64 Data URL", "data:image/png," + encoded, true},
		{"Garbage", "data:image/png;base64,***", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := DecodeInlineImage(tc.payload, 1024*1024)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !bytes.Equal(data, raw) {
				t.Error("Decoded bytes do not match the original")
			}
		})
	}

	t.Run("Too Large", func(t *testing.T) {
		if _, err := DecodeInlineImage(encoded, 16); err == nil {
			t.Error("Expected size limit to be enforced")
		}
	})
}

func TestNormalizeImage(t *testing.T) {
	limits := ImageLimits{MaxBytes: 1024 * 1024, MaxWidth: 500, MaxHeight: 500, FitWidth: 100, FitHeight: 50}

	t.Run("PNG Is Shrunk And Stays PNG", func(t *testing.T) {
		img, err := NormalizeImage(testPNG(t, 400, 100), limits)
		if err != nil {
			t.Fatalf("NormalizeImage failed: %v", err)
		}
		if img.ContentType != "image/png" || img.Ext != "png" {
			t.Errorf("Expected PNG output, got %s", img.ContentType)
		}
		if img.Width != 100 || img.Height != 25 {
			t.Errorf("Expected 100x25 after fit, got %dx%d", img.Width, img.Height)
		}
		if !strings.HasPrefix(img.Key("signatures"), "signatures/") || !strings.HasSuffix(img.Key("signatures"), ".png") {
			t.Errorf("Unexpected key %s", img.Key("signatures"))
		}
	})

	t.Run("Rejects Oversized Dimensions", func(t *testing.T) {
		if _, err := NormalizeImage(testPNG(t, 600, 10), limits); err == nil {
			t.Error("Expected dimension limit to be enforced")
		}
	})

	t.Run("Rejects Non-Image", func(t *testing.T) {
		if _, err := NormalizeImage([]byte("plain text, not an image"), limits); err == nil {
			t.Error("Expected non-image bytes to be rejected")
		}
	})

	t.Run("Rejects Empty", func(t *testing.T) {
		if _, err := NormalizeImage(nil, limits); err != ErrEmptyImage {
			t.Errorf("Expected ErrEmptyImage, got %v", err)
		}
	})
}
