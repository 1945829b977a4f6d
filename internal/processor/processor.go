package processor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/i474232898/wind-field-cache/internal/field"
)

// ScaleDivisor is the factor both dimensions are reduced by before blurring.
const ScaleDivisor = 4

// MaxPixels bounds the declared width*height of an input image, checked
// before any pixel buffer is allocated.
const MaxPixels = 1 << 26

// Processor downscales, blurs and re-encodes wind field images. It holds no
// state and is safe for concurrent use.
type Processor struct {
	encoder png.Encoder
}

// New creates a Processor that encodes its output as PNG.
func New() *Processor {
	return &Processor{
		encoder: png.Encoder{CompressionLevel: png.BestCompression},
	}
}

// Process decodes raw, downscales it to a quarter of its size with bilinear
// filtering, applies the separable blur and encodes the result. Nothing is
// retained after it returns.
func (p *Processor) Process(raw []byte) (field.ProcessedImage, error) {
	src, err := Decode(raw)
	if err != nil {
		return field.ProcessedImage{}, err
	}

	w, h := src.Bounds().Dx()/ScaleDivisor, src.Bounds().Dy()/ScaleDivisor
	if w == 0 || h == 0 {
		return field.ProcessedImage{}, fmt.Errorf("%w: image %dx%d too small to downscale by %d",
			field.ErrDecode, src.Bounds().Dx(), src.Bounds().Dy(), ScaleDivisor)
	}

	out := Blur(Downscale(src, w, h))

	encoded, err := p.Encode(out)
	if err != nil {
		return field.ProcessedImage{}, err
	}
	return field.ProcessedImage{Encoded: encoded, Raster: out}, nil
}

// Encode serializes img losslessly.
func (p *Processor) Encode(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png: %v", field.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Decode decodes any registered still-image format into an RGBA raster with
// its origin at (0, 0). Images with transparent pixels are rejected: wind
// components live in the color channels and must not be premultiplied.
func Decode(raw []byte) (*image.RGBA, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", field.ErrDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", field.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", field.ErrDecode, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %s image %dx%d exceeds %d pixels",
			field.ErrDecode, format, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", field.ErrDecode, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", field.ErrDecode, format)
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return nil, fmt.Errorf("%w: %s image has transparent pixels", field.ErrDecode, format)
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba, nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// Downscale resizes src to exactly w x h using bilinear interpolation.
func Downscale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
