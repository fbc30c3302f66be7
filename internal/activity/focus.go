package activity

import (
	"context"
	"image"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// FocusEnhancer sharpens the source photo with an unsharp mask whose
// strength is chosen from a blur metric, so already-crisp photos are
// barely touched while badly blurred ones get aggressive sharpening.
type FocusEnhancer struct {
	Store      objectstore.Store
	WorkBucket string
}

func (f *FocusEnhancer) Transform(ctx context.Context, in domain.BlobRef) (domain.BlobRef, error) {
	img, err := downloadImage(ctx, f.Store, in)
	if err != nil {
		return domain.BlobRef{}, err
	}
	gray := toGray(img)
	amount := sharpenAmount(laplacianVariance(gray))
	sharpened := unsharpMask(toRGBA(img), amount)
	return uploadPNG(ctx, f.Store, f.WorkBucket, freshName("focus"), sharpened)
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// image interior. Low values mean few edges, i.e. a blurry photo.
func laplacianVariance(gray *image.Gray) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			c := float64(gray.GrayAt(x, y).Y)
			lap := float64(gray.GrayAt(x-1, y).Y) +
				float64(gray.GrayAt(x+1, y).Y) +
				float64(gray.GrayAt(x, y-1).Y) +
				float64(gray.GrayAt(x, y+1).Y) - 4*c
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func sharpenAmount(variance float64) float64 {
	switch {
	case variance < 20:
		return 1.8
	case variance < 60:
		return 1.5
	case variance < 120:
		return 1.2
	default:
		return 0.8
	}
}

// unsharpMask sharpens by adding amount times the difference between the
// original and a 3x3 box blur of it.
func unsharpMask(img *image.RGBA, amount float64) *image.RGBA {
	b := img.Bounds()
	blurred := boxBlur3(img)
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			oi := img.PixOffset(x, y)
			bi := blurred.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				orig := float64(img.Pix[oi+c])
				blur := float64(blurred.Pix[bi+c])
				out.Pix[oi+c] = clampU8(orig + amount*(orig-blur))
			}
			out.Pix[oi+3] = img.Pix[oi+3]
		}
	}
	return out
}

func boxBlur3(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var acc [3]float64
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := x+dx, y+dy
					if !image.Pt(px, py).In(b) {
						continue
					}
					i := img.PixOffset(px, py)
					acc[0] += float64(img.Pix[i])
					acc[1] += float64(img.Pix[i+1])
					acc[2] += float64(img.Pix[i+2])
					n++
				}
			}
			oi := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				out.Pix[oi+c] = clampU8(acc[c] / float64(n))
			}
			out.Pix[oi+3] = img.Pix[img.PixOffset(x, y)+3]
		}
	}
	return out
}
