package domain

// ValidationResult is the reconciliation outcome for one run. Every flag is
// a successfully computed value: a false flag is a normal result, not an
// error. SummaryOK holds iff lot, expiry, pack date and barcode all hold;
// the detected/legible flags are diagnostics already folded into BarcodeOK.
type ValidationResult struct {
	LotOK             bool `json:"lotOk"`
	ExpiryOK          bool `json:"expiryOk"`
	PackDateOK        bool `json:"packDateOk"`
	BarcodeDetectedOK bool `json:"barcodeDetectedOk"`
	BarcodeLegibleOK  bool `json:"barcodeLegibleOk"`
	BarcodeOK         bool `json:"barcodeOk"`
	SummaryOK         bool `json:"summaryOk"`
}
