package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/avoura/bifurc/internal/dynamo"
)

func TestPresetsBuild(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := Preset(name)
		if cfg == nil {
			t.Fatalf("preset %q missing", name)
		}
		if err := cfg.validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
			continue
		}
		sys, kind, err := cfg.System.Build()
		if err != nil {
			t.Errorf("preset %q does not build: %v", name, err)
			continue
		}
		if sys.Dim() != len(cfg.System.Variables) {
			t.Errorf("preset %q dimension %d, want %d", name, sys.Dim(), len(cfg.System.Variables))
		}
		if kind.IsMap != cfg.System.Map {
			t.Errorf("preset %q kind mismatch", name)
		}
	}
}

func TestPresetIsACopy(t *testing.T) {
	a := Preset("lorenz")
	a.System.ParamValues[1] = 99
	b := Preset("lorenz")
	if b.System.ParamValues[1] == 99 {
		t.Error("preset mutation leaked into the shared table")
	}
}

func TestUnknownPreset(t *testing.T) {
	if Preset("no_such_system") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := Preset("rossler")
	cfg.Continuation.MaxSteps = 77
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.System.Name != "rossler" || got.Parameter != "c" {
		t.Errorf("loaded %q / %q", got.System.Name, got.Parameter)
	}
	if got.Continuation.MaxSteps != 77 {
		t.Errorf("settings did not round-trip: max steps %d", got.Continuation.MaxSteps)
	}
	if len(got.System.Equations) != 3 {
		t.Errorf("equations did not round-trip: %v", got.System.Equations)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	cfg := Preset("hopf")
	cfg.Parameter = ""
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("missing file: got %v, want ErrConfig", err)
	}
}
