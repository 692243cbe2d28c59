// Package imageprep normalizes uploaded photos before they reach a model
// backend: oversized images are downscaled and everything is re-encoded as
// JPEG, which both backends accept and which keeps request bodies small.
package imageprep

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/mbdelacruz/invoice-extract/internal/gateway"
)

// maxDimension caps the longer image side. Invoice text stays legible well
// below this; anything larger only slows the model down.
const maxDimension = 1600

const jpegQuality = 90

type Preparer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{logger: logger}
}

// Prepare decodes, downscales, and re-encodes an uploaded image. Decode
// failures are real errors; an unreadable image cannot be extracted from.
func (p *Preparer) Prepare(data []byte) (*gateway.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxDimension || h > maxDimension {
		if w >= h {
			img = imaging.Resize(img, maxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDimension, imaging.Lanczos)
		}
		p.logger.Debug("imageprep.resized", "from_w", w, "from_h", h, "to_w", img.Bounds().Dx(), "to_h", img.Bounds().Dy())
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return &gateway.Image{Data: buf.Bytes(), MIMEType: "image/jpeg"}, nil
}
