package capture

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for an image format other than png or jpg.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	// ErrShortPixelBuffer is returned when a frame carries fewer bytes than
	// width*height*4.
	ErrShortPixelBuffer = errors.New("pixel buffer shorter than frame size")
)

// Frame is one RGBA8 readback from the renderer, row-major.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

func (f Frame) validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) < f.Width*f.Height*4 {
		return fmt.Errorf("%w: have %d, need %d", ErrShortPixelBuffer, len(f.Pixels), f.Width*f.Height*4)
	}
	return nil
}

// toImage copies the frame into an RGBA image. Renderers read back bottom-up,
// so flip reverses the row order.
func (f Frame) toImage(flip bool) *image.RGBA {
	stride := f.Width * 4
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y
		if flip {
			src = f.Height - 1 - y
		}
		copy(img.Pix[y*stride:(y+1)*stride], f.Pixels[src*stride:(src+1)*stride])
	}
	return img
}

type encoder interface {
	Encode(w io.Writer, img image.Image) error
	Ext() string
}

type pngEncoder struct {
	enc png.Encoder
}

func (p *pngEncoder) Encode(w io.Writer, img image.Image) error { return p.enc.Encode(w, img) }
func (p *pngEncoder) Ext() string                                { return "png" }

type jpegEncoder struct {
	quality int
}

func (j *jpegEncoder) Encode(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: j.quality})
}
func (j *jpegEncoder) Ext() string { return "jpg" }

func pngCompression(level string) png.CompressionLevel {
	switch strings.ToLower(level) {
	case "none":
		return png.NoCompression
	case "speed":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// newEncoder picks the encoder for format. Quality is clamped to jpeg's 1..100.
func newEncoder(format string, jpegQuality int, pngLevel string) (encoder, error) {
	switch strings.ToLower(format) {
	case "png":
		return &pngEncoder{enc: png.Encoder{CompressionLevel: pngCompression(pngLevel)}}, nil
	case "jpg", "jpeg":
		q := jpegQuality
		if q < 1 {
			q = 1
		}
		if q > 100 {
			q = 100
		}
		return &jpegEncoder{quality: q}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
