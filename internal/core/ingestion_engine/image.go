package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/markdave123-py/knosi/internal/core"
)

func (e *DocumentExtractor) extractImage(ctx context.Context, data []byte, filename, mediaType string) (string, error) {
	if e.vision == nil {
		return "", core.ConfigurationError("no vision model configured for images")
	}
	if limit := e.cfg.ImageMaxBytes; limit > 0 && len(data) > limit {
		shrunk, err := shrinkImage(data, limit)
		if err != nil {
			return "", err
		}
		e.log.Info("image recompressed to fit the upload limit", "file", filename, "from", len(data), "to", len(shrunk))
		data, mediaType = shrunk, "image/jpeg"
	}

	e.log.Info("extracting text from image", "file", filename)
	text, err := e.transcribe(ctx, data, mediaType, imageInstruction)
	if err != nil {
		return "", classifyExtraction(err, fmt.Sprintf("image %s", filename))
	}
	return text, nil
}

// shrinkImage re-encodes data as JPEG, lowering quality first and then dimensions, until it fits in limit bytes.
func shrinkImage(data []byte, limit int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.ValidationError("image is larger than %d bytes and could not be decoded: %v", limit, err)
	}
	flat := flatten(src)

	for quality := 85; quality > 20; quality -= 10 {
		out, err := encodeJPEG(flat, quality)
		if err != nil {
			return nil, err
		}
		if len(out) <= limit {
			return out, nil
		}
	}

	b := flat.Bounds()
	for tenths := 8; tenths > 3; tenths-- {
		w, h := b.Dx()*tenths/10, b.Dy()*tenths/10
		if w == 0 || h == 0 {
			break
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), flat, b, draw.Src, nil)
		out, err := encodeJPEG(dst, 85)
		if err != nil {
			return nil, err
		}
		if len(out) <= limit {
			return out, nil
		}
	}
	return nil, core.ValidationError("image too large even after resizing, maximum is %d bytes", limit)
}

// flatten composites src over a white background, dropping transparency.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, core.InternalError(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}
