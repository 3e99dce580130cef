package imagecache

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsmith/internal/domain"
)

func pngBytes(t *testing.T, width int, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func TestProcessImageDataPNG(t *testing.T) {
	processed, err := processImageData(pngBytes(t, 100, 50))
	require.NoError(t, err)

	assert.Equal(t, "PNG", processed.Format)
	assert.Equal(t, 100, processed.Width)
	assert.Equal(t, 50, processed.Height)
	assert.NotEmpty(t, processed.Data)
}

func TestProcessImageDataJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	processed, err := processImageData(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "JPEG", processed.Format)
}

func TestProcessImageDataShrinksLargeImages(t *testing.T) {
	processed, err := processImageData(pngBytes(t, 2048, 1024))
	require.NoError(t, err)

	assert.Equal(t, 1024, processed.Width)
	assert.Equal(t, 512, processed.Height)
}

func TestProcessImageDataTrackingPixel(t *testing.T) {
	_, err := processImageData(pngBytes(t, 1, 1))
	require.Error(t, err)
	assert.Equal(t, domain.TrackingPixelReason, err.Error())

	_, err = processImageData(pngBytes(t, 3, 3))
	require.Error(t, err)
	assert.Equal(t, domain.TrackingPixelReason, err.Error())
}

func TestProcessImageDataGIFPassthrough(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{
		color.RGBA{A: 255},
		color.RGBA{R: 255, A: 255},
	})

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	original := buf.Bytes()

	processed, err := processImageData(original)
	require.NoError(t, err)

	assert.Equal(t, "GIF", processed.Format)
	assert.Equal(t, original, processed.Data)
	assert.Equal(t, 8, processed.Width)
	assert.Equal(t, 8, processed.Height)
}

func TestProcessImageDataRejectsGarbage(t *testing.T) {
	_, err := processImageData([]byte("definitely not an image"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open image")
}
