package main

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// reportTemplate renders the verification outcome as markdown before the
// HTML conversion. Flags render as PASS/FAIL so the report reads without
// knowledge of the flag names.
const reportTemplate = `# Package Verification Report

**Run:** {{.Record.Identity}}
**Requested by:** {{.Record.Request.User.Name}} ({{.Record.Request.User.ID}})
**Started:** {{.Record.CreatedAt.Format "2006-01-02 15:04:05 MST"}}
**Finished:** {{.Record.FinishedAt.Format "2006-01-02 15:04:05 MST"}}

## Verdict

{{if .Record.Validation.SummaryOK}}**PASSED**: every checked field was confirmed on the package.{{else}}**FAILED**: one or more checked fields could not be confirmed.{{end}}

## Field checks

| Field | Expected | Result |
|-------|----------|--------|
| Lot | {{.Record.Expected.Lot}} | {{flag .Record.Validation.LotOK}} |
| Expiry date | {{.Record.Expected.ExpiryDate}} | {{flag .Record.Validation.ExpiryOK}} |
| Pack date | {{.Record.Expected.PackDate}} | {{flag .Record.Validation.PackDateOK}} |
| Barcode | readable code required | {{flag .Record.Validation.BarcodeOK}} |

Barcode diagnostics: detected {{flag .Record.Validation.BarcodeDetectedOK}}, legible {{flag .Record.Validation.BarcodeLegibleOK}}{{with .Record.Stages.Barcode.Data.DecodedValue}}, decoded value ` + "`{{.}}`" + `{{end}}.

{{if .Comment}}## Reviewer comment

{{.Comment}}
{{end}}
## Artifacts

- Source photo: {{ref .Record.Input}}
- Processed image: {{ref .Record.Stages.OCR.OutputRef}}
{{with .Record.Stages.OCR.OverlayRef}}- Text overlay: {{ref .}}
{{end}}{{with .Record.Stages.Barcode.OverlayRef}}- Barcode overlay: {{ref .}}
{{end}}{{with .Record.Stages.Barcode.ROIRef}}- Barcode crop: {{ref .}}
{{end}}
Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}.
`

type reportData struct {
	Record      domain.RunRecord
	Comment     string
	GeneratedAt time.Time
}

type renderer struct {
	store        objectstore.Store
	outputBucket string
	tmpl         *template.Template
}

func newRenderer(store objectstore.Store, outputBucket string) (*renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"flag": func(ok bool) string {
			if ok {
				return "PASS"
			}
			return "FAIL"
		},
		"ref": func(ref domain.BlobRef) string {
			return fmt.Sprintf("`%s/%s`", ref.Container, ref.Name)
		},
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &renderer{store: store, outputBucket: outputBucket, tmpl: tmpl}, nil
}

func (r *renderer) markdown(data reportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// Render produces the HTML report for a persisted run and stores it in
// the output bucket under a fresh name. The rendered bytes come back too
// so callers can hand them to a downstream converter.
func (r *renderer) Render(ctx context.Context, record domain.RunRecord, comment string, generatedAt time.Time) (domain.BlobRef, []byte, error) {
	md, err := r.markdown(reportData{Record: record, Comment: comment, GeneratedAt: generatedAt})
	if err != nil {
		return domain.BlobRef{}, nil, err
	}
	var html bytes.Buffer
	if err := goldmark.Convert(md, &html); err != nil {
		return domain.BlobRef{}, nil, fmt.Errorf("convert report: %w", err)
	}

	key := fmt.Sprintf("reports/%s.html", uuid.NewString())
	if err := r.store.Put(ctx, r.outputBucket, key, bytes.NewReader(html.Bytes()), int64(html.Len()), "text/html; charset=utf-8"); err != nil {
		return domain.BlobRef{}, nil, fmt.Errorf("store report: %w", err)
	}
	return domain.BlobRef{Container: r.outputBucket, Name: key}, html.Bytes(), nil
}

// StorePDF writes a converted report document next to its HTML source.
func (r *renderer) StorePDF(ctx context.Context, pdf []byte) (domain.BlobRef, error) {
	key := fmt.Sprintf("reports/%s.pdf", uuid.NewString())
	if err := r.store.Put(ctx, r.outputBucket, key, bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"); err != nil {
		return domain.BlobRef{}, fmt.Errorf("store report pdf: %w", err)
	}
	return domain.BlobRef{Container: r.outputBucket, Name: key}, nil
}
