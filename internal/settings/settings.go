// Package settings loads the pipeline tuning knobs: the sentinel token that
// bypasses validation of a field, per-stage activity timeouts, and the retry
// policy guarding the persistence step.
//
// Settings come from an optional YAML file; every knob has a default so a
// missing file yields a fully working configuration.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSentinel = "N/A"

// Duration wraps time.Duration with YAML string parsing ("45s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type StageTimeouts struct {
	FocusEnhance   Duration `yaml:"focus_enhance,omitempty"`
	ContrastAdjust Duration `yaml:"contrast_adjust,omitempty"`
	Grayscale      Duration `yaml:"grayscale,omitempty"`
	BarcodeDecode  Duration `yaml:"barcode_decode,omitempty"`
	OCRExtract     Duration `yaml:"ocr_extract,omitempty"`
}

type PersistRetry struct {
	InitialInterval    Duration `yaml:"initial_interval,omitempty"`
	MaxAttempts        int      `yaml:"max_attempts,omitempty"`
	BackoffCoefficient float64  `yaml:"backoff_coefficient,omitempty"`
}

type Settings struct {
	Sentinel      string        `yaml:"sentinel,omitempty"`
	StageTimeouts StageTimeouts `yaml:"stage_timeouts,omitempty"`
	PersistRetry  PersistRetry  `yaml:"persist_retry,omitempty"`
}

func Defaults() Settings {
	return Settings{
		Sentinel: DefaultSentinel,
		StageTimeouts: StageTimeouts{
			FocusEnhance:   Duration(60 * time.Second),
			ContrastAdjust: Duration(60 * time.Second),
			Grayscale:      Duration(60 * time.Second),
			BarcodeDecode:  Duration(60 * time.Second),
			OCRExtract:     Duration(30 * time.Second),
		},
		PersistRetry: PersistRetry{
			InitialInterval:    Duration(10 * time.Second),
			MaxAttempts:        5,
			BackoffCoefficient: 1.0,
		},
	}
}

// Load reads settings from path, filling gaps with defaults. An empty path
// returns the defaults.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) fillDefaults() {
	def := Defaults()
	if s.Sentinel == "" {
		s.Sentinel = def.Sentinel
	}
	if s.StageTimeouts.FocusEnhance <= 0 {
		s.StageTimeouts.FocusEnhance = def.StageTimeouts.FocusEnhance
	}
	if s.StageTimeouts.ContrastAdjust <= 0 {
		s.StageTimeouts.ContrastAdjust = def.StageTimeouts.ContrastAdjust
	}
	if s.StageTimeouts.Grayscale <= 0 {
		s.StageTimeouts.Grayscale = def.StageTimeouts.Grayscale
	}
	if s.StageTimeouts.BarcodeDecode <= 0 {
		s.StageTimeouts.BarcodeDecode = def.StageTimeouts.BarcodeDecode
	}
	if s.StageTimeouts.OCRExtract <= 0 {
		s.StageTimeouts.OCRExtract = def.StageTimeouts.OCRExtract
	}
	if s.PersistRetry.InitialInterval <= 0 {
		s.PersistRetry.InitialInterval = def.PersistRetry.InitialInterval
	}
	if s.PersistRetry.MaxAttempts <= 0 {
		s.PersistRetry.MaxAttempts = def.PersistRetry.MaxAttempts
	}
	if s.PersistRetry.BackoffCoefficient <= 0 {
		s.PersistRetry.BackoffCoefficient = def.PersistRetry.BackoffCoefficient
	}
}

func (s Settings) Validate() error {
	if s.Sentinel == "" {
		return errors.New("sentinel token must not be empty")
	}
	if s.PersistRetry.MaxAttempts < 1 {
		return errors.New("persist retry max attempts must be >= 1")
	}
	if s.PersistRetry.BackoffCoefficient < 1.0 {
		return errors.New("persist retry backoff coefficient must be >= 1.0")
	}
	return nil
}
