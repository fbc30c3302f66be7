package activity

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// TesseractExtractor runs OCR over the grayscale frame and publishes the
// processed copy plus an overlay with the recognised line boxes. A photo
// where nothing legible is found yields an empty payload, not an error.
type TesseractExtractor struct {
	Store        objectstore.Store
	OutputBucket string
	Languages    []string
	Logger       *slog.Logger
}

func (t *TesseractExtractor) Extract(ctx context.Context, in domain.BlobRef) (domain.OCRStageOutput, error) {
	raw, err := downloadBytes(ctx, t.Store, in)
	if err != nil {
		return domain.OCRStageOutput{}, err
	}

	payload, err := t.recognize(raw)
	if err != nil {
		return domain.OCRStageOutput{}, err
	}

	processedRef, err := uploadBytes(ctx, t.Store, t.OutputBucket, freshName("final/ocr/processed"), raw, "image/png")
	if err != nil {
		return domain.OCRStageOutput{}, err
	}
	out := domain.OCRStageOutput{Result: payload, OutputRef: processedRef}

	lines := collectLines(payload)
	if len(lines) == 0 {
		t.Logger.Debug("no text recognised", "container", in.Container, "blob", in.Name)
		return out, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.OCRStageOutput{}, err
	}
	overlay := toRGBA(img)
	bounds := overlay.Bounds()
	for _, line := range lines {
		box := domain.BoundingRect(line.BoundingPolygon).Clamp(bounds.Dx(), bounds.Dy())
		drawRectOutline(overlay, box, color.RGBA{G: 200, A: 255}, 2)
	}
	overlayRef, err := uploadPNG(ctx, t.Store, t.OutputBucket, freshName("final/ocr/overlay"), overlay)
	if err != nil {
		return domain.OCRStageOutput{}, err
	}
	out.OverlayRef = &overlayRef
	return out, nil
}

func (t *TesseractExtractor) recognize(raw []byte) (domain.OCRPayload, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if len(t.Languages) > 0 {
		if err := client.SetLanguage(t.Languages...); err != nil {
			return domain.OCRPayload{}, err
		}
	}
	if err := client.SetImageFromBytes(raw); err != nil {
		return domain.OCRPayload{}, err
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return domain.OCRPayload{}, err
	}

	block := domain.TextBlock{}
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		block.Lines = append(block.Lines, domain.TextLine{
			Text:            text,
			BoundingPolygon: rectPolygon(b.Box),
		})
	}
	if len(block.Lines) == 0 {
		return domain.OCRPayload{}, nil
	}
	return domain.OCRPayload{Blocks: []domain.TextBlock{block}}, nil
}

func rectPolygon(r image.Rectangle) []domain.Point {
	return []domain.Point{
		{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		{X: float64(r.Min.X), Y: float64(r.Max.Y)},
	}
}

func collectLines(p domain.OCRPayload) []domain.TextLine {
	var lines []domain.TextLine
	for _, block := range p.Blocks {
		lines = append(lines, block.Lines...)
	}
	return lines
}
