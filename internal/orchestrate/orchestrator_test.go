package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/packlens-labs/packlens-go/internal/activity"
	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/settings"
	"github.com/packlens-labs/packlens-go/internal/validate"
)

type memHistory struct {
	mu      sync.Mutex
	entries map[string]map[string]json.RawMessage
}

func newMemHistory() *memHistory {
	return &memHistory{entries: map[string]map[string]json.RawMessage{}}
}

func (h *memHistory) Record(_ context.Context, instanceID, stage string, result json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	byStage, ok := h.entries[instanceID]
	if !ok {
		byStage = map[string]json.RawMessage{}
		h.entries[instanceID] = byStage
	}
	if _, exists := byStage[stage]; exists {
		return nil
	}
	byStage[stage] = result
	return nil
}

func (h *memHistory) List(_ context.Context, instanceID string) (map[string]json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]json.RawMessage{}
	for stage, raw := range h.entries[instanceID] {
		out[stage] = raw
	}
	return out, nil
}

type memRunLog struct {
	mu       sync.Mutex
	rows     map[string]domain.RunRecord
	created  map[string]time.Time
	failures int
	calls    int
}

func newMemRunLog() *memRunLog {
	return &memRunLog{rows: map[string]domain.RunRecord{}, created: map[string]time.Time{}}
}

func (r *memRunLog) Upsert(_ context.Context, record domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("database unavailable")
	}
	if created, ok := r.created[record.Identity]; ok {
		record.CreatedAt = created
	} else {
		r.created[record.Identity] = record.CreatedAt
	}
	r.rows[record.Identity] = record
	return nil
}

func (r *memRunLog) Get(_ context.Context, identity string) (domain.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[identity]
	if !ok {
		return domain.RunRecord{}, errors.New("not found")
	}
	return rec, nil
}

type fakeTransformer struct {
	out   domain.BlobRef
	err   error
	calls int

	// Optional hooks for tests that need to observe or hold an in-flight
	// stage call.
	started chan struct{}
	release chan struct{}
}

func (f *fakeTransformer) Transform(context.Context, domain.BlobRef) (domain.BlobRef, error) {
	f.calls++
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.out, f.err
}

type fakeDecoder struct {
	out   domain.BarcodeStageOutput
	calls int
}

func (f *fakeDecoder) Decode(context.Context, domain.BlobRef) (domain.BarcodeStageOutput, error) {
	f.calls++
	return f.out, nil
}

type fakeExtractor struct {
	out   domain.OCRStageOutput
	calls int
}

func (f *fakeExtractor) Extract(context.Context, domain.BlobRef) (domain.OCRStageOutput, error) {
	f.calls++
	return f.out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workRef(name string) domain.BlobRef {
	return domain.BlobRef{Container: "work", Name: name}
}

func testInput() domain.RunInput {
	return domain.RunInput{
		Input:    domain.BlobRef{Container: "input", Name: "upload.png"},
		Expected: domain.ExpectedFields{Lot: "L97907", ExpiryDate: "JUN/2028", PackDate: "N/A"},
		Request:  domain.RequestContext{User: domain.RequestUser{ID: "op-1"}},
	}
}

type fixture struct {
	orch    *Orchestrator
	runLog  *memRunLog
	history *memHistory
	focus   *fakeTransformer
	cont    *fakeTransformer
	gray    *fakeTransformer
	barcode *fakeDecoder
	ocr     *fakeExtractor
	slept   []time.Duration
}

func newFixture() *fixture {
	f := &fixture{
		runLog:  newMemRunLog(),
		history: newMemHistory(),
		focus:   &fakeTransformer{out: workRef("focus/a.png")},
		cont:    &fakeTransformer{out: workRef("contrast/b.png")},
		gray:    &fakeTransformer{out: workRef("bw/c.png")},
		barcode: &fakeDecoder{out: domain.BarcodeStageOutput{
			Data: domain.BarcodeResult{Detected: true, Legible: true, DecodedValue: "X", Symbology: "CODE_128"},
		}},
		ocr: &fakeExtractor{out: domain.OCRStageOutput{
			Result: domain.OCRPayload{Blocks: []domain.TextBlock{{Lines: []domain.TextLine{
				{Text: "LOT L97907"},
				{Text: "EXP JUN/2028"},
			}}}},
			OutputRef: domain.BlobRef{Container: "output", Name: "final/ocr/processed/d.png"},
		}},
	}
	acts := Activities{
		FocusEnhance:   f.focus,
		ContrastAdjust: f.cont,
		Grayscale:      f.gray,
		Barcode:        f.barcode,
		OCR:            f.ocr,
	}
	cfg := settings.Defaults()
	f.orch = New(acts, f.runLog, f.history, validate.New("N/A"), cfg, quietLogger())
	f.orch.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture()
	var markers []string
	record, err := f.orch.Execute(context.Background(), "run-1", testInput(), func(m string) {
		markers = append(markers, m)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !record.Validation.SummaryOK {
		t.Fatalf("validation = %+v, want all true", record.Validation)
	}
	if !record.Validation.PackDateOK {
		t.Fatal("sentinel pack date should validate vacuously true")
	}
	if record.Stages.Grayscale != workRef("bw/c.png") {
		t.Fatalf("grayscale ref = %+v", record.Stages.Grayscale)
	}
	stored, err := f.runLog.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.Validation != record.Validation {
		t.Fatal("stored validation differs from returned record")
	}
	want := []string{
		"enhance_focus_done", "adjust_contrast_done", "grayscale_done",
		"decode_barcode_done", "extract_text_done", "validate_done", "persist_done",
	}
	if len(markers) != len(want) {
		t.Fatalf("markers = %v", markers)
	}
	for i := range want {
		if markers[i] != want[i] {
			t.Fatalf("marker[%d] = %q, want %q", i, markers[i], want[i])
		}
	}
}

func TestExecuteReplayInvokesNothingTwice(t *testing.T) {
	f := newFixture()
	first, err := f.orch.Execute(context.Background(), "run-1", testInput(), nil)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	second, err := f.orch.Execute(context.Background(), "run-1", testInput(), nil)
	if err != nil {
		t.Fatalf("replay Execute: %v", err)
	}

	for name, calls := range map[string]int{
		"focus":    f.focus.calls,
		"contrast": f.cont.calls,
		"gray":     f.gray.calls,
		"barcode":  f.barcode.calls,
		"ocr":      f.ocr.calls,
	} {
		if calls != 1 {
			t.Errorf("stage %s invoked %d times, want 1", name, calls)
		}
	}

	if second.CreatedAt != first.CreatedAt {
		t.Fatalf("createdAt changed on replay: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !reflect.DeepEqual(second.Stages, first.Stages) {
		t.Fatal("stage outputs differ between replays")
	}
	if second.Validation != first.Validation {
		t.Fatal("validation differs between replays")
	}
	if f.runLog.calls != 2 {
		t.Fatalf("upsert ran %d times, want 2 (persist repeats on replay)", f.runLog.calls)
	}
}

func TestExecuteResumesAfterPartialHistory(t *testing.T) {
	f := newFixture()
	// Pretend a prior execution died after grayscale.
	ctx := context.Background()
	_, err := f.orch.Execute(ctx, "seed", testInput(), nil)
	if err != nil {
		t.Fatalf("seed Execute: %v", err)
	}
	f.history.mu.Lock()
	seed := f.history.entries["seed"]
	f.history.entries["run-2"] = map[string]json.RawMessage{
		StageInit:           seed[StageInit],
		StageFocusEnhance:   seed[StageFocusEnhance],
		StageContrastAdjust: seed[StageContrastAdjust],
		StageGrayscale:      seed[StageGrayscale],
	}
	f.history.mu.Unlock()

	before := f.gray.calls
	if _, err := f.orch.Execute(ctx, "run-2", testInput(), nil); err != nil {
		t.Fatalf("resume Execute: %v", err)
	}
	if f.gray.calls != before {
		t.Fatal("completed grayscale stage re-invoked on resume")
	}
	if f.barcode.calls != 2 || f.ocr.calls != 2 {
		t.Fatalf("pending stages not re-executed: barcode=%d ocr=%d", f.barcode.calls, f.ocr.calls)
	}
}

func TestExecuteStageFailureAbortsWithoutRecord(t *testing.T) {
	f := newFixture()
	f.cont.err = errors.New("unreadable image")

	_, err := f.orch.Execute(context.Background(), "run-1", testInput(), nil)
	var failure *activity.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *activity.Failure", err)
	}
	if failure.Stage != StageContrastAdjust {
		t.Fatalf("failed stage = %q", failure.Stage)
	}
	if f.runLog.calls != 0 {
		t.Fatal("run record must not be written for a failed run")
	}
	if f.barcode.calls != 0 || f.ocr.calls != 0 {
		t.Fatal("downstream stages must not run after a failure")
	}
}

func TestPersistRetriesWithBackoff(t *testing.T) {
	f := newFixture()
	f.orch.retry = settings.PersistRetry{
		InitialInterval:    settings.Duration(time.Second),
		MaxAttempts:        5,
		BackoffCoefficient: 2.0,
	}
	f.runLog.failures = 2

	if _, err := f.orch.Execute(context.Background(), "run-1", testInput(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.runLog.calls != 3 {
		t.Fatalf("upsert attempts = %d, want 3", f.runLog.calls)
	}
	wantSleeps := []time.Duration{time.Second, 2 * time.Second}
	if len(f.slept) != len(wantSleeps) {
		t.Fatalf("sleeps = %v", f.slept)
	}
	for i, d := range wantSleeps {
		if f.slept[i] != d {
			t.Fatalf("sleep[%d] = %v, want %v", i, f.slept[i], d)
		}
	}
}

func TestPersistExhaustedIsFatal(t *testing.T) {
	f := newFixture()
	f.orch.retry = settings.PersistRetry{
		InitialInterval:    settings.Duration(time.Millisecond),
		MaxAttempts:        3,
		BackoffCoefficient: 1.0,
	}
	f.runLog.failures = 100

	_, err := f.orch.Execute(context.Background(), "run-1", testInput(), nil)
	var exhausted *PersistExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *PersistExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", exhausted.Attempts)
	}
	if f.runLog.calls != 3 {
		t.Fatalf("upsert attempts = %d, want 3", f.runLog.calls)
	}
}

func TestExecuteRejectsInvalidInput(t *testing.T) {
	f := newFixture()
	input := testInput()
	input.Request.User.ID = ""
	if _, err := f.orch.Execute(context.Background(), "run-1", input, nil); err == nil {
		t.Fatal("expected validation error for missing user id")
	}
	if f.focus.calls != 0 {
		t.Fatal("no stage may run for rejected input")
	}
}
