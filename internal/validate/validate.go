// Package validate reconciles extracted OCR text and barcode payloads
// against the expected package record. It is pure: no I/O, no clock, no
// randomness, so identical inputs always produce the identical result.
package validate

import (
	"strings"

	"github.com/packlens-labs/packlens-go/internal/domain"
)

// Checker carries the configured sentinel token. An expected value equal to
// the sentinel (case-insensitive) marks the field as not applicable and the
// field validates vacuously true.
type Checker struct {
	sentinel string
}

func New(sentinel string) Checker {
	if strings.TrimSpace(sentinel) == "" {
		sentinel = "N/A"
	}
	return Checker{sentinel: strings.ToUpper(strings.TrimSpace(sentinel))}
}

// Run reconciles the OCR line texts and barcode result against expected.
func (c Checker) Run(ocrLines []string, barcode domain.BarcodeResult, expected domain.ExpectedFields) domain.ValidationResult {
	full, fullNS := surfaces(ocrLines)

	lotOK := c.containsRobust(full, fullNS, expected.Lot)
	expiryOK := c.containsRobust(full, fullNS, expected.ExpiryDate)
	packDateOK := c.containsRobust(full, fullNS, expected.PackDate)

	barcodeOK := barcode.Detected && barcode.Legible && barcode.HasValue()

	return domain.ValidationResult{
		LotOK:             lotOK,
		ExpiryOK:          expiryOK,
		PackDateOK:        packDateOK,
		BarcodeDetectedOK: barcode.Detected,
		BarcodeLegibleOK:  barcode.Legible,
		BarcodeOK:         barcodeOK,
		SummaryOK:         lotOK && expiryOK && packDateOK && barcodeOK,
	}
}

// surfaces builds the two matching surfaces from the OCR lines: full is the
// uppercased space-joined text, fullNS the same with all whitespace removed.
// Both are kept because line segmentation may split a token across lines or
// insert spurious whitespace.
func surfaces(lines []string) (full string, fullNS string) {
	full = strings.ToUpper(strings.TrimSpace(strings.Join(lines, " ")))
	fullNS = stripSpaces(full)
	return full, fullNS
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// containsRobust reports whether needle appears in the OCR surfaces:
//  1. the sentinel always matches (field explicitly not applicable),
//  2. the uppercase-trimmed needle as a verbatim substring of full, or its
//     whitespace-stripped form as a substring of fullNS,
//  3. for needles with interior whitespace, every token must independently
//     satisfy rule 2; this tolerates reordering and line splits while still
//     requiring every component to appear somewhere in the frame.
func (c Checker) containsRobust(full, fullNS, needle string) bool {
	if needle == "" {
		return false
	}
	if c.isSentinel(needle) {
		return true
	}

	ndl := strings.ToUpper(strings.TrimSpace(needle))
	if ndl != "" && strings.Contains(full, ndl) {
		return true
	}
	if stripped := stripSpaces(ndl); stripped != "" && strings.Contains(fullNS, stripped) {
		return true
	}

	tokens := strings.Fields(ndl)
	if len(tokens) > 1 {
		for _, tok := range tokens {
			if !strings.Contains(full, tok) && !strings.Contains(fullNS, tok) {
				return false
			}
		}
		return true
	}

	return false
}

func (c Checker) isSentinel(value string) bool {
	if value == "" {
		return false
	}
	return strings.ToUpper(strings.TrimSpace(value)) == c.sentinel
}
