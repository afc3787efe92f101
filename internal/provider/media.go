package provider

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

const (
	// maxImageBytes is the inbound safety limit before decode (10MB).
	maxImageBytes = 10 * 1024 * 1024
	// maxImageEdge matches the vision models' useful resolution; larger
	// images only cost tokens.
	maxImageEdge = 1568
	jpegQuality  = 85
)

// NormalizeImage decodes an inbound image block, downscales anything wider
// or taller than the provider-useful limit, and re-encodes as JPEG. Images
// already within limits pass through untouched.
func NormalizeImage(mimeType, dataB64 string) (ImageContent, error) {
	raw, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return ImageContent{}, fmt.Errorf("image: decode base64: %w", err)
	}
	if len(raw) > maxImageBytes {
		return ImageContent{}, fmt.Errorf("image: %d bytes exceeds %d limit", len(raw), maxImageBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return ImageContent{}, fmt.Errorf("image: decode %s: %w", mimeType, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxImageEdge && bounds.Dy() <= maxImageEdge {
		return ImageContent{MimeType: mimeType, Data: dataB64}, nil
	}

	if bounds.Dx() >= bounds.Dy() {
		img = imaging.Resize(img, maxImageEdge, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxImageEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return ImageContent{}, fmt.Errorf("image: re-encode: %w", err)
	}
	return ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

