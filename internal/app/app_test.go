package app

import (
	"context"
	"testing"

	"github.com/rupjae/jules/internal/config"
	"github.com/rupjae/jules/internal/log"
)

func testTuning() config.Tuning {
	return config.Tuning{
		TopK:            5,
		Oversample:      4,
		Lambda:          0.5,
		TokenCap:        150,
		TriggerTerms:    []string{"cite", "source"},
		LengthThreshold: 75,
	}
}

func TestProvideParams_SnapshotsWatcher(t *testing.T) {
	w := config.NewWatcher(nil, testTuning(), log.NewNop())
	params := provideParams(w)()

	if params.TopK != 5 || params.Oversample != 4 {
		t.Errorf("params = %+v, want tuning values", params)
	}
	if params.Lambda != 0.5 || params.TokenCap != 150 {
		t.Errorf("params = %+v, want tuning values", params)
	}
}

func TestProvideDecider_UsesTuningHeuristics(t *testing.T) {
	w := config.NewWatcher(nil, testTuning(), log.NewNop())
	cfg := &config.Config{Tuning: testTuning()}
	d := provideDecider(w, nil, cfg, log.NewNop())

	if !d.Decide(context.Background(), "please cite the paper") {
		t.Error("trigger term should force retrieval")
	}
	if d.Decide(context.Background(), "hello") {
		t.Error("short prompt without triggers should skip retrieval")
	}
}

func TestAppClose_PartialInit(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close on empty app: %v", err)
	}

	cleaned := false
	a = &App{dbCleanup: func() { cleaned = true }}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !cleaned {
		t.Error("db cleanup not invoked")
	}
}
