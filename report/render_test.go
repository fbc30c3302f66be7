package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/repo"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+key] = raw
	return nil
}

func (s *memStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	raw, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, objectstore.ObjectInfo{}, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), objectstore.ObjectInfo{Key: key}, nil
}

func (s *memStore) Stat(_ context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	if _, ok := s.objects[bucket+"/"+key]; !ok {
		return objectstore.ObjectInfo{}, errors.New("object not found")
	}
	return objectstore.ObjectInfo{Key: key}, nil
}

func (s *memStore) PresignPut(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://presigned/put/" + bucket + "/" + key, nil
}

func (s *memStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://presigned/get/" + bucket + "/" + key, nil
}

type memRunLog struct {
	records map[string]domain.RunRecord
}

func (r *memRunLog) Upsert(_ context.Context, record domain.RunRecord) error {
	r.records[record.Identity] = record
	return nil
}

func (r *memRunLog) Get(_ context.Context, identity string) (domain.RunRecord, error) {
	rec, ok := r.records[identity]
	if !ok {
		return domain.RunRecord{}, repo.ErrNotFound
	}
	return rec, nil
}

type memReportLog struct {
	entries []repo.ReportLogEntry
}

func (r *memReportLog) Append(_ context.Context, entry repo.ReportLogEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func sampleRecord() domain.RunRecord {
	overlay := domain.BlobRef{Container: "output", Name: "final/ocr/overlay/x.png"}
	return domain.RunRecord{
		Identity:   "run-1",
		CreatedAt:  time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 1, 9, 0, 42, 0, time.UTC),
		Input:      domain.BlobRef{Container: "input", Name: "upload.png"},
		Expected:   domain.ExpectedFields{Lot: "L97907", ExpiryDate: "JUN/2028", PackDate: "N/A"},
		Request:    domain.RequestContext{User: domain.RequestUser{ID: "op-1", Name: "Operator"}},
		Stages: domain.StageOutputs{
			OCR: domain.OCRStageOutput{
				OutputRef:  domain.BlobRef{Container: "output", Name: "final/ocr/processed/y.png"},
				OverlayRef: &overlay,
			},
			Barcode: domain.BarcodeStageOutput{
				Data: domain.BarcodeResult{Detected: true, Legible: true, DecodedValue: "X"},
			},
		},
		Validation: domain.ValidationResult{
			LotOK: true, ExpiryOK: true, PackDateOK: true,
			BarcodeDetectedOK: true, BarcodeLegibleOK: true, BarcodeOK: true,
			SummaryOK: true,
		},
	}
}

func TestMarkdownRendersVerdictAndFlags(t *testing.T) {
	rend, err := newRenderer(newMemStore(), "output")
	if err != nil {
		t.Fatalf("newRenderer: %v", err)
	}

	md, err := rend.markdown(reportData{Record: sampleRecord(), GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	text := string(md)
	if !strings.Contains(text, "**PASSED**") {
		t.Fatal("passing run should render PASSED verdict")
	}
	if !strings.Contains(text, "| Lot | L97907 | PASS |") {
		t.Fatalf("markdown missing lot row:\n%s", text)
	}
	if strings.Contains(text, "Reviewer comment") {
		t.Fatal("comment section rendered without a comment")
	}

	record := sampleRecord()
	record.Validation.LotOK = false
	record.Validation.SummaryOK = false
	md, err = rend.markdown(reportData{Record: record, Comment: "blurry label", GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	text = string(md)
	if !strings.Contains(text, "**FAILED**") || !strings.Contains(text, "| Lot | L97907 | FAIL |") {
		t.Fatalf("failing run not rendered as failed:\n%s", text)
	}
	if !strings.Contains(text, "blurry label") {
		t.Fatal("comment missing from markdown")
	}
}

func TestRenderStoresHTML(t *testing.T) {
	store := newMemStore()
	rend, err := newRenderer(store, "output")
	if err != nil {
		t.Fatalf("newRenderer: %v", err)
	}

	ref, html, err := rend.Render(context.Background(), sampleRecord(), "", time.Now())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if ref.Container != "output" || !strings.HasPrefix(ref.Name, "reports/") || !strings.HasSuffix(ref.Name, ".html") {
		t.Fatalf("report ref = %+v", ref)
	}
	raw, ok := store.objects[ref.Container+"/"+ref.Name]
	if !ok {
		t.Fatal("report not stored")
	}
	if !strings.Contains(string(raw), "<h1") {
		t.Fatalf("stored report is not HTML:\n%s", raw)
	}
	if !bytes.Equal(raw, html) {
		t.Fatal("returned html differs from stored object")
	}
}

func newTestReportAPI(runLog *memRunLog, reports *memReportLog, store *memStore, converter *pdfConverter) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rend, err := newRenderer(store, "output")
	if err != nil {
		panic(err)
	}
	api := newReportAPI(logger, runLog, reports, rend, converter, time.Hour)
	mux := http.NewServeMux()
	api.register(mux)
	return mux
}

func TestGenerateReport(t *testing.T) {
	runLog := &memRunLog{records: map[string]domain.RunRecord{"run-1": sampleRecord()}}
	reports := &memReportLog{}
	mux := newTestReportAPI(runLog, reports, newMemStore(), nil)

	body, _ := json.Marshal(map[string]any{"instanceId": "run-1", "accepted": true, "comment": "looks good"})
	req := httptest.NewRequest(http.MethodPost, "/reports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["url"] == "" {
		t.Fatal("response missing report url")
	}
	if len(reports.entries) != 1 {
		t.Fatalf("report log entries = %d, want 1", len(reports.entries))
	}
	entry := reports.entries[0]
	if entry.InstanceID != "run-1" || !entry.Accepted || entry.Comment != "looks good" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.GeneratedBy != "op-1" {
		t.Fatalf("generatedBy = %q, want requester fallback", entry.GeneratedBy)
	}
}

func TestGenerateReportWithPDFConverter(t *testing.T) {
	converterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer converterSrv.Close()

	store := newMemStore()
	converter := &pdfConverter{baseURL: converterSrv.URL, http: converterSrv.Client()}
	runLog := &memRunLog{records: map[string]domain.RunRecord{"run-1": sampleRecord()}}
	mux := newTestReportAPI(runLog, &memReportLog{}, store, converter)

	body, _ := json.Marshal(map[string]any{"instanceId": "run-1", "accepted": true})
	req := httptest.NewRequest(http.MethodPost, "/reports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	pdfRef, ok := resp["pdf"].(map[string]any)
	if !ok {
		t.Fatalf("response missing pdf ref: %v", resp)
	}
	key, _ := pdfRef["blobName"].(string)
	if !strings.HasPrefix(key, "reports/") || !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("pdf blob name = %q", key)
	}
	if string(store.objects["output/"+key]) != "%PDF-1.7 fake" {
		t.Fatal("converted pdf not stored")
	}
	if resp["pdfUrl"] == "" {
		t.Fatal("response missing pdf url")
	}
}

func TestGenerateReportConverterOutageIsNonFatal(t *testing.T) {
	converterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer converterSrv.Close()

	converter := &pdfConverter{baseURL: converterSrv.URL, http: converterSrv.Client()}
	runLog := &memRunLog{records: map[string]domain.RunRecord{"run-1": sampleRecord()}}
	mux := newTestReportAPI(runLog, &memReportLog{}, newMemStore(), converter)

	body, _ := json.Marshal(map[string]any{"instanceId": "run-1"})
	req := httptest.NewRequest(http.MethodPost, "/reports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["pdf"]; ok {
		t.Fatal("failed conversion must not report a pdf ref")
	}
	if resp["url"] == "" {
		t.Fatal("html report url must still be returned")
	}
}

func TestGenerateReportUnknownRun(t *testing.T) {
	mux := newTestReportAPI(&memRunLog{records: map[string]domain.RunRecord{}}, &memReportLog{}, newMemStore(), nil)

	body, _ := json.Marshal(map[string]any{"instanceId": "absent"})
	req := httptest.NewRequest(http.MethodPost, "/reports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
