package config

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/rupjae/jules/internal/log"
)

func TestWatcher_ServesInitialSnapshot(t *testing.T) {
	w := NewWatcher(nil, validTuning(), log.NewNop())

	got := w.Tuning()
	if got.TopK != 5 || got.Lambda != 0.5 || got.TokenCap != 150 {
		t.Errorf("Tuning() = %+v, want initial values", got)
	}
}

func TestWatcher_ReloadSwapsSnapshot(t *testing.T) {
	v := viper.New()
	setTuningDefaults(v)
	v.Set("tuning.top_k", 8)
	v.Set("tuning.lambda", 0.7)

	w := NewWatcher(nil, validTuning(), log.NewNop())
	w.reload(v)

	got := w.Tuning()
	if got.TopK != 8 {
		t.Errorf("TopK = %d, want 8 after reload", got.TopK)
	}
	if got.Lambda != 0.7 {
		t.Errorf("Lambda = %g, want 0.7 after reload", got.Lambda)
	}
}

func TestWatcher_ReloadRejectsInvalid(t *testing.T) {
	v := viper.New()
	setTuningDefaults(v)
	v.Set("tuning.lambda", 3.0) // out of range

	w := NewWatcher(nil, validTuning(), log.NewNop())
	w.reload(v)

	// Previous snapshot must survive a rejected reload.
	if got := w.Tuning().Lambda; got != 0.5 {
		t.Errorf("Lambda = %g, want previous 0.5 after rejected reload", got)
	}
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	if cfg.Tuning.Oversample != 4 {
		t.Errorf("default oversample = %d, want 4", cfg.Tuning.Oversample)
	}
	if len(cfg.Tuning.TriggerTerms) == 0 {
		t.Error("default trigger terms empty")
	}
	if cfg.Tuning.LengthThreshold != 75 {
		t.Errorf("default length threshold = %d, want 75", cfg.Tuning.LengthThreshold)
	}
}
