// Package orchestrate drives a verification run through its fixed stage
// order and persists the outcome. The engine is replay-safe: every
// completed stage result is recorded durably before the run advances, so
// a restarted host re-executes only the stages that never finished.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/packlens-labs/packlens-go/internal/activity"
	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/repo"
	"github.com/packlens-labs/packlens-go/internal/settings"
	"github.com/packlens-labs/packlens-go/internal/validate"
)

// Stage names double as history keys, so renaming one invalidates
// recorded runs.
const (
	StageInit           = "init"
	StageFocusEnhance   = "enhance_focus"
	StageContrastAdjust = "adjust_contrast"
	StageGrayscale      = "grayscale"
	StageBarcodeDecode  = "decode_barcode"
	StageOCRExtract     = "extract_text"
	StageValidate       = "validate"
)

// PersistExhaustedError reports that the run completed in memory but the
// retry budget on the persistence step ran out, so no durable record
// exists for it.
type PersistExhaustedError struct {
	Attempts int
	Err      error
}

func (e *PersistExhaustedError) Error() string {
	return fmt.Sprintf("persist failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PersistExhaustedError) Unwrap() error { return e.Err }

// Activities are the pipeline stage implementations the engine invokes.
type Activities struct {
	FocusEnhance   activity.ImageTransformer
	ContrastAdjust activity.ImageTransformer
	Grayscale      activity.ImageTransformer
	Barcode        activity.BarcodeDecoder
	OCR            activity.TextExtractor
}

// Orchestrator executes runs. It keeps no per-run state of its own; all
// decisions derive from the caller's input and the recorded history, so
// re-running Execute for an identity reproduces the same record.
type Orchestrator struct {
	activities Activities
	runLog     repo.RunLogRepository
	history    repo.StageHistoryRepository
	checker    validate.Checker
	timeouts   settings.StageTimeouts
	retry      settings.PersistRetry
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(acts Activities, runLog repo.RunLogRepository, history repo.StageHistoryRepository, checker validate.Checker, cfg settings.Settings, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		activities: acts,
		runLog:     runLog,
		history:    history,
		checker:    checker,
		timeouts:   cfg.StageTimeouts,
		retry:      cfg.PersistRetry,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// initMarker freezes the logical start time of a run. It is stored as the
// first history entry so replays reuse the original timestamp instead of
// reading the clock again.
type initMarker struct {
	CreatedAt time.Time `json:"createdAt"`
}

// Execute drives one run to a terminal state. The progress callback, when
// non-nil, receives a coarse marker after each completed stage; it is
// observational only. On success the returned record is the one durably
// upserted into the run log.
func (o *Orchestrator) Execute(ctx context.Context, instanceID string, input domain.RunInput, progress func(marker string)) (domain.RunRecord, error) {
	if err := input.Validate(); err != nil {
		return domain.RunRecord{}, err
	}

	recorded, err := o.history.List(ctx, instanceID)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("load stage history: %w", err)
	}

	createdAt, err := o.frozenStart(ctx, instanceID, recorded)
	if err != nil {
		return domain.RunRecord{}, err
	}

	notify := func(stage string) {
		if progress != nil {
			progress(stage + "_done")
		}
	}

	var stages domain.StageOutputs

	stages.Focus, err = runStage(ctx, o, instanceID, StageFocusEnhance, recorded, o.timeouts.FocusEnhance.Std(), func(ctx context.Context) (domain.BlobRef, error) {
		return o.activities.FocusEnhance.Transform(ctx, input.Input)
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageFocusEnhance)

	stages.Contrast, err = runStage(ctx, o, instanceID, StageContrastAdjust, recorded, o.timeouts.ContrastAdjust.Std(), func(ctx context.Context) (domain.BlobRef, error) {
		return o.activities.ContrastAdjust.Transform(ctx, stages.Focus)
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageContrastAdjust)

	stages.Grayscale, err = runStage(ctx, o, instanceID, StageGrayscale, recorded, o.timeouts.Grayscale.Std(), func(ctx context.Context) (domain.BlobRef, error) {
		return o.activities.Grayscale.Transform(ctx, stages.Contrast)
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageGrayscale)

	// Fan-out pair: both stages read the grayscale frame.
	stages.Barcode, err = runStage(ctx, o, instanceID, StageBarcodeDecode, recorded, o.timeouts.BarcodeDecode.Std(), func(ctx context.Context) (domain.BarcodeStageOutput, error) {
		return o.activities.Barcode.Decode(ctx, stages.Grayscale)
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageBarcodeDecode)

	stages.OCR, err = runStage(ctx, o, instanceID, StageOCRExtract, recorded, o.timeouts.OCRExtract.Std(), func(ctx context.Context) (domain.OCRStageOutput, error) {
		return o.activities.OCR.Extract(ctx, stages.Grayscale)
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageOCRExtract)

	validation, err := runStage(ctx, o, instanceID, StageValidate, recorded, 0, func(context.Context) (domain.ValidationResult, error) {
		return o.checker.Run(stages.OCR.Result.LineTexts(), stages.Barcode.Data, input.Expected), nil
	})
	if err != nil {
		return domain.RunRecord{}, err
	}
	notify(StageValidate)

	record := domain.RunRecord{
		Identity:   instanceID,
		CreatedAt:  createdAt,
		FinishedAt: o.now().UTC(),
		Input:      input.Input,
		Expected:   input.Expected,
		Request:    input.Request,
		Stages:     stages,
		Validation: validation,
	}

	// Persist is deliberately not recorded in history: the upsert is
	// idempotent and must re-run on every replay so finishedAt advances.
	if err := o.persist(ctx, record); err != nil {
		return domain.RunRecord{}, err
	}
	notify("persist")
	return record, nil
}

// frozenStart returns the run's logical start time, recording it on the
// first execution and reusing the recorded value on replay.
func (o *Orchestrator) frozenStart(ctx context.Context, instanceID string, recorded map[string]json.RawMessage) (time.Time, error) {
	if raw, ok := recorded[StageInit]; ok {
		var marker initMarker
		if err := json.Unmarshal(raw, &marker); err != nil {
			return time.Time{}, fmt.Errorf("decode init marker: %w", err)
		}
		return marker.CreatedAt, nil
	}
	marker := initMarker{CreatedAt: o.now().UTC()}
	raw, err := json.Marshal(marker)
	if err != nil {
		return time.Time{}, err
	}
	if err := o.history.Record(ctx, instanceID, StageInit, raw); err != nil {
		return time.Time{}, fmt.Errorf("record init marker: %w", err)
	}
	return marker.CreatedAt, nil
}

// runStage replays a stage result from history when present; otherwise it
// invokes the activity under its timeout and records the result before
// returning. A stage error, including timeout expiry, is fatal for the run.
func runStage[T any](ctx context.Context, o *Orchestrator, instanceID, stage string, recorded map[string]json.RawMessage, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if raw, ok := recorded[stage]; ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("replay stage %s: %w", stage, err)
		}
		o.logger.Debug("stage replayed from history", "instance", instanceID, "stage", stage)
		return out, nil
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := call(callCtx)
	if err != nil {
		return out, &activity.Failure{Stage: stage, Err: err}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("encode stage %s result: %w", stage, err)
	}
	if err := o.history.Record(ctx, instanceID, stage, raw); err != nil {
		return out, fmt.Errorf("record stage %s result: %w", stage, err)
	}
	o.logger.Info("stage completed", "instance", instanceID, "stage", stage)
	return out, nil
}

// persist upserts the record under the bounded backoff policy. This is
// the run's durability boundary, so it gets an explicit retry budget
// where the upstream stages rely on whole-run redelivery.
func (o *Orchestrator) persist(ctx context.Context, record domain.RunRecord) error {
	interval := o.retry.InitialInterval.Std()
	var last error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		last = o.runLog.Upsert(ctx, record)
		if last == nil {
			return nil
		}
		o.logger.Warn("persist attempt failed",
			"instance", record.Identity, "attempt", attempt, "error", last)
		if attempt == o.retry.MaxAttempts {
			break
		}
		if err := o.sleep(ctx, interval); err != nil {
			return &PersistExhaustedError{Attempts: attempt, Err: err}
		}
		interval = time.Duration(float64(interval) * o.retry.BackoffCoefficient)
	}
	return &PersistExhaustedError{Attempts: o.retry.MaxAttempts, Err: last}
}
