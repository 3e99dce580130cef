package imagecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // registers decoders for the supported raster formats
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"feedsmith/internal/domain"
)

const (
	maxEdgePixels        = 1024
	jpegQuality          = 80
	maxProcessedBytes    = 1024 * 1024
	minAreaTrackingPixel = 10
)

var errTrackingPixel = errors.New(domain.TrackingPixelReason)

type processedImage struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// processImageData decodes, shrinks and re-encodes an image for mirroring.
// GIFs are passed through unmodified: re-encoding animated images is
// unreliable and often produces a larger file than the source.
func processImageData(data []byte) (*processedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}

	switch format {
	case "jpeg", "png", "gif":
	default:
		return nil, fmt.Errorf("unsupported format %s", strings.ToUpper(format))
	}

	if cfg.Width*cfg.Height < minAreaTrackingPixel {
		return nil, errTrackingPixel
	}

	if format == "gif" {
		if len(data) > maxProcessedBytes {
			return nil, fmt.Errorf("resulting file too big: %d bytes", len(data))
		}

		return &processedImage{
			Data:   data,
			Format: "GIF",
			Width:  cfg.Width,
			Height: cfg.Height,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}

	img = shrinkToFit(img)
	bounds := img.Bounds()

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		err = encoder.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	if buf.Len() > maxProcessedBytes {
		return nil, fmt.Errorf("resulting file too big: %d bytes", buf.Len())
	}

	return &processedImage{
		Data:   buf.Bytes(),
		Format: strings.ToUpper(format),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// shrinkToFit downscales the image so that neither edge exceeds
// maxEdgePixels, preserving aspect ratio. Images already small enough are
// returned untouched; nothing is ever upscaled.
func shrinkToFit(img image.Image) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	longest := max(width, height)
	if longest <= maxEdgePixels {
		return img
	}

	newWidth := width * maxEdgePixels / longest
	newHeight := height * maxEdgePixels / longest
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}
