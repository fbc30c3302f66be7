// Package activity implements the pipeline stage activities. Every activity
// follows the same contract: it reads an immutable input artifact, writes
// any output under a freshly generated name, and never mutates its input.
// Repeated invocation under retry is therefore always safe; the cost is that
// abandoned attempts may leave orphaned artifacts behind.
//
// An activity signals fatal failure by returning an error (wrapped into a
// Failure at the orchestration boundary). "Nothing found" is not a failure:
// the barcode stage returns a valid empty result when no symbol is present.
package activity

import (
	"context"
	"fmt"

	"github.com/packlens-labs/packlens-go/internal/domain"
)

// Failure marks a run-fatal stage error.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ImageTransformer is an image-to-image stage: it consumes one artifact and
// produces a new one.
type ImageTransformer interface {
	Transform(ctx context.Context, in domain.BlobRef) (domain.BlobRef, error)
}

// BarcodeDecoder locates and decodes a barcode in the frame. A frame with
// no symbol yields a result with Detected=false, not an error.
type BarcodeDecoder interface {
	Decode(ctx context.Context, in domain.BlobRef) (domain.BarcodeStageOutput, error)
}

// TextExtractor runs text recognition over the frame.
type TextExtractor interface {
	Extract(ctx context.Context, in domain.BlobRef) (domain.OCRStageOutput, error)
}
