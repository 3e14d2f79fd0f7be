package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
ranks = 6
collective_timeout = "5s"
output = " out.pio "
output_mode = "ALL"
history = "unit test"

[grid]
mx = 30
periodicity = "x"
procs_x = 3
procs_y = 2

[[fields]]
kind = "thk"
write = true
value = 1500.0

[[fields]]
kind = "topg"
name = "bed"
random = 10.0
`)

	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Ranks != 6 || cfg.CollectiveTimeout != 5*time.Second {
		t.Fatalf("unexpected ranks/timeout: %d %s", cfg.Ranks, cfg.CollectiveTimeout)
	}
	if cfg.Output != "out.pio" || cfg.OutputMode != OutputAll {
		t.Fatalf("unexpected output: %q %q", cfg.Output, cfg.OutputMode)
	}
	// keys absent from the file keep their defaults
	def := DefaultRunConfig()
	if cfg.LinkBuffer != def.LinkBuffer || cfg.LogLevel != "info" || cfg.Grid.My != def.Grid.My {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
	if cfg.Grid.Mx != 30 || cfg.Grid.Lx != def.Grid.Lx {
		t.Fatalf("unexpected grid: %+v", cfg.Grid)
	}
	if len(cfg.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(cfg.Fields))
	}
	if thk := cfg.Fields[0]; thk.Kind != "thk" || !thk.Write || thk.Value == nil || *thk.Value != 1500 {
		t.Fatalf("unexpected thk entry: %+v", thk)
	}
	if bed := cfg.Fields[1]; bed.Name != "bed" || bed.Value != nil || bed.Random != 10 {
		t.Fatalf("unexpected topg entry: %+v", bed)
	}

	p, err := cfg.Grid.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.Periodicity != grid.XPeriodic || p.ProcsX != 3 || p.ProcsY != 2 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if cc := cfg.Comm(); cc.Timeout != 5*time.Second || cc.LinkBuffer != def.LinkBuffer {
		t.Fatalf("unexpected comm config: %+v", cc)
	}
}

func TestLoadRunConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"zero ranks", "ranks = 0", ErrInvalidRanks},
		{"tiny grid", "[grid]\nmx = 2", ErrInvalidGrid},
		{"bad periodicity", "[grid]\nperiodicity = \"z\"", ErrInvalidGrid},
		{"layout mismatch", "ranks = 4\n[grid]\nprocs_x = 3\nprocs_y = 1", ErrInvalidGrid},
		{"half layout", "[grid]\nprocs_x = 2", ErrInvalidGrid},
		{"empty output", "output = \"\"", ErrInvalidOutput},
		{"bad mode", "output_mode = \"some\"", ErrInvalidOutput},
		{"field kind", "[[fields]]\nname = \"x\"", ErrInvalidField},
		{"value and random", "[[fields]]\nkind = \"thk\"\nvalue = 1.0\nrandom = 2.0", ErrInvalidField},
		{"negative timeout", "collective_timeout = \"-1s\"", ErrInvalidComm},
	}
	for _, tc := range cases {
		_, err := LoadRunConfig(writeConfig(t, tc.content))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadRunConfigParseErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := LoadRunConfig(writeConfig(t, "rnaks = 4")); err == nil || !strings.Contains(err.Error(), "rnaks") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if _, err := LoadRunConfig(writeConfig(t, "collective_timeout = \"soon\"")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range Kinds() {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if _, err := LoadRunConfig(path); err != nil {
			t.Fatalf("%s template does not load: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("overwrite %s: %v", kind, err)
		}
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
