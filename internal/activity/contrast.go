package activity

import (
	"context"
	"image"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// ContrastAdjuster stretches the luminance range of the photo so print
// on dull or overexposed packaging becomes readable for the later
// barcode and OCR stages.
type ContrastAdjuster struct {
	Store      objectstore.Store
	WorkBucket string
}

func (c *ContrastAdjuster) Transform(ctx context.Context, in domain.BlobRef) (domain.BlobRef, error) {
	img, err := downloadImage(ctx, c.Store, in)
	if err != nil {
		return domain.BlobRef{}, err
	}
	stretched := stretchContrast(toRGBA(img))
	return uploadPNG(ctx, c.Store, c.WorkBucket, freshName("contrast"), stretched)
}

// stretchContrast maps the 2nd..98th luminance percentiles onto the full
// 0..255 range. Clipping the extremes keeps a few hot pixels from
// defeating the stretch.
func stretchContrast(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	var hist [256]int
	total := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			hist[luminance(img.Pix[i], img.Pix[i+1], img.Pix[i+2])]++
			total++
		}
	}
	lo, hi := percentileBounds(hist, total, 0.02, 0.98)
	if hi <= lo {
		return img
	}
	scale := 255.0 / float64(hi-lo)
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			for ch := 0; ch < 3; ch++ {
				out.Pix[i+ch] = clampU8((float64(img.Pix[i+ch]) - float64(lo)) * scale)
			}
			out.Pix[i+3] = img.Pix[i+3]
		}
	}
	return out
}

func luminance(r, g, b uint8) uint8 {
	return clampU8(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

func percentileBounds(hist [256]int, total int, low, high float64) (int, int) {
	if total == 0 {
		return 0, 255
	}
	loTarget := int(low * float64(total))
	hiTarget := int(high * float64(total))
	lo, hi := 0, 255
	cum := 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if cum >= loTarget {
			lo = v
			break
		}
	}
	cum = 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if cum >= hiTarget {
			hi = v
			break
		}
	}
	return lo, hi
}
