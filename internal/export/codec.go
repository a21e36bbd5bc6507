package export

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/bobarin/framecast/internal/models"
)

const (
	jpegQuality = 92
	webpQuality = 90
)

// FrameEncoder compresses a rendered surface into a still.
type FrameEncoder interface {
	Encode(img image.Image) ([]byte, error)
	Ext() string
	ContentType() string
}

func NewFrameEncoder(format models.FrameFormat) (FrameEncoder, error) {
	switch format {
	case models.FrameFormatJPEG, "":
		return jpegEncoder{}, nil
	case models.FrameFormatPNG:
		return pngEncoder{enc: &png.Encoder{CompressionLevel: png.BestSpeed}}, nil
	case models.FrameFormatWebP:
		return webpEncoder{}, nil
	}
	return nil, fmt.Errorf("unsupported frame format %q", format)
}

type jpegEncoder struct{}

func (jpegEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (jpegEncoder) Ext() string         { return "jpg" }
func (jpegEncoder) ContentType() string { return "image/jpeg" }

type pngEncoder struct {
	enc *png.Encoder
}

func (e pngEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (pngEncoder) Ext() string         { return "png" }
func (pngEncoder) ContentType() string { return "image/png" }

type webpEncoder struct{}

func (webpEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode webp frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (webpEncoder) Ext() string         { return "webp" }
func (webpEncoder) ContentType() string { return "image/webp" }
