package activity

import (
	"context"
	"image"
	"image/color"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// BarcodeAnalyzer decodes the first barcode it finds on the grayscale
// frame. A photo without a readable barcode is a normal outcome, not an
// error: the analyzer reports detected/legible flags and lets validation
// reconcile them against expectations.
type BarcodeAnalyzer struct {
	Store        objectstore.Store
	OutputBucket string
	Logger       *slog.Logger
}

func (b *BarcodeAnalyzer) Decode(ctx context.Context, in domain.BlobRef) (domain.BarcodeStageOutput, error) {
	img, err := downloadImage(ctx, b.Store, in)
	if err != nil {
		return domain.BarcodeStageOutput{}, err
	}

	result := decodeBarcode(img)
	out := domain.BarcodeStageOutput{Data: result}
	if !result.Detected || result.Box == nil {
		b.Logger.Debug("no barcode decoded", "container", in.Container, "blob", in.Name)
		return out, nil
	}

	bounds := img.Bounds()
	box := result.Box.Clamp(bounds.Dx(), bounds.Dy())
	out.Data.Box = &box

	overlay := toRGBA(img)
	drawRectOutline(overlay, box, color.RGBA{R: 255, A: 255}, 3)
	overlayRef, err := uploadPNG(ctx, b.Store, b.OutputBucket, freshName("final/barcode/overlay"), overlay)
	if err != nil {
		return domain.BarcodeStageOutput{}, err
	}
	out.OverlayRef = &overlayRef

	roi := cropRect(toRGBA(img), box)
	roiRef, err := uploadPNG(ctx, b.Store, b.OutputBucket, freshName("final/barcode/roi"), roi)
	if err != nil {
		return domain.BarcodeStageOutput{}, err
	}
	out.ROIRef = &roiRef
	return out, nil
}

func decodeBarcode(img image.Image) domain.BarcodeResult {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return domain.BarcodeResult{}
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	readers := []gozxing.Reader{
		oned.NewMultiFormatOneDReader(hints),
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
	}
	for _, reader := range readers {
		res, err := reader.Decode(bmp, hints)
		if err != nil {
			continue
		}
		box := pointsBox(res.GetResultPoints())
		return domain.BarcodeResult{
			Detected:     true,
			Legible:      res.GetText() != "",
			DecodedValue: res.GetText(),
			Symbology:    res.GetBarcodeFormat().String(),
			Box:          box,
		}
	}
	return domain.BarcodeResult{}
}

func pointsBox(points []gozxing.ResultPoint) *domain.Rect {
	if len(points) == 0 {
		return nil
	}
	pts := make([]domain.Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, domain.Point{X: p.GetX(), Y: p.GetY()})
	}
	r := domain.BoundingRect(pts)
	return &r
}

func cropRect(img *image.RGBA, r domain.Rect) *image.RGBA {
	sub := img.SubImage(image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H))
	return toRGBA(sub)
}
