package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/IotchulindraRai/photofilter/internal/domain"
)

const (
	Saturation = 1.4
	Contrast   = 1.2
	Brightness = 1.1

	TintR     = 131
	TintG     = 58
	TintB     = 180
	TintAlpha = 0.2

	jpegQuality = 92
)

type Output struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

type ImageProcessor struct {
	log       *zap.Logger
	maxPixels int
}

// NewImageProcessor returns a processor that refuses images larger than
// maxPixels. A non-positive maxPixels disables the check.
func NewImageProcessor(log *zap.Logger, maxPixels int) *ImageProcessor {
	return &ImageProcessor{log: log, maxPixels: maxPixels}
}

// Transform applies the fixed filter chain to an encoded image and returns the
// re-encoded result. It is CPU bound; callers run it off the request path.
func (p *ImageProcessor) Transform(ctx context.Context, payload []byte) (*Output, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.TransformError{Kind: domain.ErrDecode, Err: err}
	}
	if p.maxPixels > 0 && cfg.Width*cfg.Height > p.maxPixels {
		return nil, &domain.TransformError{
			Kind: domain.ErrDecode,
			Err:  fmt.Errorf("image is %dx%d, exceeds %d pixels", cfg.Width, cfg.Height, p.maxPixels),
		}
	}

	src, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.TransformError{Kind: domain.ErrDecode, Err: err}
	}

	dst, err := applyFilter(ctx, src)
	if err != nil {
		return nil, &domain.TransformError{Kind: domain.ErrTimeout, Err: err}
	}

	out, err := encode(dst, format)
	if err != nil {
		return nil, &domain.TransformError{Kind: domain.ErrEncode, Err: err}
	}

	p.log.Debug("Image transformed",
		zap.String("input_format", format),
		zap.String("output_format", out.Format),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Int("size", len(out.Data)))

	return out, nil
}

func applyFilter(ctx context.Context, src image.Image) (*image.NRGBA, error) {
	b := src.Bounds()
	base := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), src, b.Min, draw.Src)

	for y := 0; y < base.Rect.Dy(); y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := base.Pix[y*base.Stride : y*base.Stride+base.Rect.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			r, g, bl, a := filterPixel(row[i], row[i+1], row[i+2], row[i+3])
			row[i], row[i+1], row[i+2], row[i+3] = r, g, bl, a
		}
	}

	return base, nil
}

func encode(img *image.NRGBA, format string) (*Output, error) {
	var buf bytes.Buffer
	out := &Output{Width: img.Rect.Dx(), Height: img.Rect.Dy()}

	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
		out.Format, out.ContentType = "jpeg", "image/jpeg"
	default:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		out.Format, out.ContentType = "png", "image/png"
	}

	if buf.Len() == 0 {
		return nil, errors.New("encoder produced no data")
	}
	out.Data = buf.Bytes()
	return out, nil
}
