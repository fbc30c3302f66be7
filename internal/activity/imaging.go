package activity

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

func freshName(prefix string) string {
	return fmt.Sprintf("%s/%s.png", prefix, uuid.NewString())
}

func downloadBytes(ctx context.Context, store objectstore.Store, ref domain.BlobRef) ([]byte, error) {
	body, _, err := store.Get(ctx, ref.Container, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", ref.Container, ref.Name, err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ref.Container, ref.Name, err)
	}
	return raw, nil
}

func uploadBytes(ctx context.Context, store objectstore.Store, bucket, key string, raw []byte, contentType string) (domain.BlobRef, error) {
	err := store.Put(ctx, bucket, key, bytes.NewReader(raw), int64(len(raw)), contentType)
	if err != nil {
		return domain.BlobRef{}, fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return domain.BlobRef{Container: bucket, Name: key}, nil
}

func downloadImage(ctx context.Context, store objectstore.Store, ref domain.BlobRef) (image.Image, error) {
	raw, err := downloadBytes(ctx, store, ref)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image %s/%s: %w", ref.Container, ref.Name, err)
	}
	return img, nil
}

func uploadPNG(ctx context.Context, store objectstore.Store, bucket, key string, img image.Image) (domain.BlobRef, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.BlobRef{}, fmt.Errorf("encode png: %w", err)
	}
	return uploadBytes(ctx, store, bucket, key, buf.Bytes(), "image/png")
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	xdraw.Draw(dst, bounds, img, bounds.Min, xdraw.Src)
	return dst
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	dst := image.NewGray(bounds)
	xdraw.Draw(dst, bounds, img, bounds.Min, xdraw.Src)
	return dst
}

// drawRectOutline draws a rect outline of the given thickness, clipped to
// the image bounds.
func drawRectOutline(img *image.RGBA, r domain.Rect, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		x0, y0 := r.X-t, r.Y-t
		x1, y1 := r.X+r.W+t, r.Y+r.H+t
		for x := x0; x <= x1; x++ {
			setIfInside(img, bounds, x, y0, c)
			setIfInside(img, bounds, x, y1, c)
		}
		for y := y0; y <= y1; y++ {
			setIfInside(img, bounds, x0, y, c)
			setIfInside(img, bounds, x1, y, c)
		}
	}
}

func setIfInside(img *image.RGBA, bounds image.Rectangle, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(bounds) {
		img.SetRGBA(x, y, c)
	}
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
