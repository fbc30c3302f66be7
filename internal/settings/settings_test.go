package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Sentinel != DefaultSentinel {
		t.Fatalf("sentinel = %q, want %q", s.Sentinel, DefaultSentinel)
	}
	if s.PersistRetry.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", s.PersistRetry.MaxAttempts)
	}
	if s.PersistRetry.InitialInterval.Std() != 10*time.Second {
		t.Fatalf("initial interval = %v, want 10s", s.PersistRetry.InitialInterval.Std())
	}
}

func TestLoadFileOverridesAndFillsGaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	raw := []byte(`
sentinel: "SKIP"
stage_timeouts:
  ocr_extract: "45s"
persist_retry:
  max_attempts: 3
  backoff_coefficient: 2.0
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Sentinel != "SKIP" {
		t.Fatalf("sentinel = %q, want SKIP", s.Sentinel)
	}
	if s.StageTimeouts.OCRExtract.Std() != 45*time.Second {
		t.Fatalf("ocr timeout = %v, want 45s", s.StageTimeouts.OCRExtract.Std())
	}
	if s.StageTimeouts.Grayscale.Std() != 60*time.Second {
		t.Fatalf("grayscale timeout = %v, want default 60s", s.StageTimeouts.Grayscale.Std())
	}
	if s.PersistRetry.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", s.PersistRetry.MaxAttempts)
	}
	if s.PersistRetry.BackoffCoefficient != 2.0 {
		t.Fatalf("backoff coefficient = %v, want 2.0", s.PersistRetry.BackoffCoefficient)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("stage_timeouts:\n  grayscale: \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateRejectsLowBackoff(t *testing.T) {
	s := Defaults()
	s.PersistRetry.BackoffCoefficient = 0.5
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for backoff coefficient < 1")
	}
}
