package domain

import "strings"

// BarcodeResult is the decoded payload of the barcode stage. Detected and
// Legible are independent diagnostics: a symbol can be located in the frame
// yet decode to nothing.
type BarcodeResult struct {
	Detected     bool   `json:"detected"`
	Legible      bool   `json:"legible"`
	DecodedValue string `json:"decodedValue,omitempty"`
	Symbology    string `json:"symbology,omitempty"`
	Box          *Rect  `json:"box,omitempty"`
}

// HasValue reports whether a non-empty value was decoded.
func (b BarcodeResult) HasValue() bool {
	return strings.TrimSpace(b.DecodedValue) != ""
}

// BarcodeStageOutput is the barcode stage result plus its optional artifact
// references. OverlayRef and ROIRef are absent when nothing was detected.
type BarcodeStageOutput struct {
	Data       BarcodeResult `json:"barcodeData"`
	OverlayRef *BlobRef      `json:"overlayBlob,omitempty"`
	ROIRef     *BlobRef      `json:"roiBlob,omitempty"`
}
