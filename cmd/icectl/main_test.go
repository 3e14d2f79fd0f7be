package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danmuck/icectl/internal/config"
	"github.com/danmuck/icectl/internal/model"
	"github.com/danmuck/icectl/internal/pio"
	"github.com/danmuck/icectl/internal/testutil/testlog"
	"github.com/danmuck/icectl/internal/vars"
)

func ptr(v float64) *float64 { return &v }

func testConfig(t *testing.T, ranks int) config.RunConfig {
	t.Helper()
	cfg := config.DefaultRunConfig()
	cfg.Ranks = ranks
	cfg.CollectiveTimeout = 5 * time.Second
	cfg.Output = filepath.Join(t.TempDir(), "run.pio")
	cfg.History = "icectl test"
	cfg.Grid.Mx, cfg.Grid.My = 8, 6
	cfg.Fields = []config.FieldConfig{
		{Kind: "thk", Write: true, Value: ptr(1500)},
		{Kind: "topg", Write: true, Random: 100},
		{Kind: "mask", Shared: true, Value: ptr(2)},
		{Kind: "bar", Random: 5},
	}
	if err := config.ValidateRunConfig(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunWritesMarkedFieldsAndLog(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 4)

	res, err := runModel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(res.Written, []string{"thk", "topg"}) {
		t.Fatalf("written: %v", res.Written)
	}
	if len(res.Fields) != 4 || res.Fields[2].Name != "thk" || res.Fields[2].Sum != 1500*48 {
		t.Fatalf("unexpected summaries: %+v", res.Fields)
	}
	if !res.Fields[2].Writing || res.Fields[1].Writing {
		t.Fatalf("writing flags wrong: %+v", res.Fields)
	}

	ds, err := pio.ReadFile(cfg.Output)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ds.Header.History != "icectl test" || ds.Header.Ranks != 4 {
		t.Fatalf("unexpected header: %+v", ds.Header)
	}
	if got := ds.Names(); !reflect.DeepEqual(got, []string{"thk", "topg"}) {
		t.Fatalf("file holds %v", got)
	}
	topg, _ := ds.Lookup("topg")
	for n, v := range topg.Data {
		if v < 0 || v >= 100 {
			t.Fatalf("topg[%d]=%v outside [0, 100)", n, v)
		}
	}
	if len(ds.Logs) != 1 {
		t.Fatalf("expected one log record, got %d", len(ds.Logs))
	}
	found := false
	for _, line := range ds.Logs[0] {
		if strings.Contains(line, "registry locked") {
			found = true
		}
	}
	if !found {
		t.Fatalf("log record misses the lock event: %v", ds.Logs[0])
	}
}

func TestRunOutputIndependentOfRankCount(t *testing.T) {
	testlog.Start(t)
	var data [][]float64
	for _, ranks := range []int{1, 3, 6} {
		cfg := testConfig(t, ranks)
		if _, err := runModel(context.Background(), cfg, nil); err != nil {
			t.Fatalf("run on %d ranks: %v", ranks, err)
		}
		ds, err := pio.ReadFile(cfg.Output)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		topg, ok := ds.Lookup("topg")
		if !ok {
			t.Fatalf("topg missing on %d ranks", ranks)
		}
		data = append(data, topg.Data)
	}
	for n := 1; n < len(data); n++ {
		if !reflect.DeepEqual(data[0], data[n]) {
			t.Fatalf("random field depends on the decomposition")
		}
	}
}

func TestRunRejectsBadFieldSets(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 2)
	cfg.Fields = append(cfg.Fields, config.FieldConfig{Kind: "velsurf"})
	if _, err := runModel(context.Background(), cfg, nil); !errors.Is(err, model.ErrUnknownFactory) {
		t.Fatalf("expected ErrUnknownFactory, got %v", err)
	}

	cfg = testConfig(t, 2)
	cfg.Fields = append(cfg.Fields, config.FieldConfig{Kind: "thk"})
	if _, err := runModel(context.Background(), cfg, nil); !errors.Is(err, vars.ErrExists) {
		t.Fatalf("expected ErrExists for a duplicate thk, got %v", err)
	}
	if _, err := os.Stat(cfg.Output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed run must not leave output behind")
	}
}

func TestConcurrentRunsKeepTheirOwnLogs(t *testing.T) {
	testlog.Start(t)
	cfgs := []config.RunConfig{testConfig(t, 2), testConfig(t, 3)}
	errs := make([]error, len(cfgs))
	var wg sync.WaitGroup
	for n, cfg := range cfgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[n] = runModel(context.Background(), cfg, nil)
		}()
	}
	wg.Wait()

	for n, cfg := range cfgs {
		if errs[n] != nil {
			t.Fatalf("run %d: %v", n, errs[n])
		}
		other := cfgs[1-n].Output
		ds, err := pio.ReadFile(cfg.Output)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(ds.Logs) != 1 {
			t.Fatalf("run %d: expected one log record, got %d", n, len(ds.Logs))
		}
		locked := 0
		for _, line := range ds.Logs[0] {
			if strings.Contains(line, "registry locked") {
				locked++
			}
			if strings.Contains(line, other) {
				t.Fatalf("run %d captured a line of the other run: %q", n, line)
			}
		}
		if locked != 1 {
			t.Fatalf("run %d: %d lock events in its log", n, locked)
		}
	}
}

func TestRunAllModeAppends(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 2)
	cfg.OutputMode = config.OutputAll
	cfg.Append = true

	for round := 0; round < 2; round++ {
		res, err := runModel(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("run %d: %v", round, err)
		}
		if len(res.Written) != 4 {
			t.Fatalf("all mode wrote %v", res.Written)
		}
	}
	ds, err := pio.ReadFile(cfg.Output)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ds.Variables) != 8 || len(ds.Logs) != 2 {
		t.Fatalf("expected 8 variables and 2 log records, got %d and %d", len(ds.Variables), len(ds.Logs))
	}
	bar, _ := ds.Lookup("bar")
	if !reflect.DeepEqual(bar.Shape, []int{6, 8, 2}) {
		t.Fatalf("bar shape %v", bar.Shape)
	}
}

func TestRunCommandAppliesFlagOverrides(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.toml")
	content := `
ranks = 4
collective_timeout = "5s"
output = "ignored.pio"

[grid]
mx = 6
my = 5

[[fields]]
kind = "thk"
write = true
value = 10.0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	output := filepath.Join(dir, "flags.pio")

	out, err := execute(t, "run", "-c", cfgPath, "-n", "2", "-o", output)
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out, "wrote 1 field(s) to "+output) {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	ds, err := pio.ReadFile(output)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ds.Header.Ranks != 2 {
		t.Fatalf("ranks flag ignored: %d", ds.Header.Ranks)
	}

	if _, err := execute(t, "run", "-c", cfgPath, "-n", "0"); !errors.Is(err, config.ErrInvalidRanks) {
		t.Fatalf("expected ErrInvalidRanks, got %v", err)
	}
}

func TestInspectFormats(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 3)
	if _, err := runModel(context.Background(), cfg, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	text, err := execute(t, "inspect", cfg.Output)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"history:  icectl test", "variables (2):", "thk", "standard_name=land_ice_thickness", "log records: 1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text output misses %q:\n%s", want, text)
		}
	}

	raw, err := execute(t, "inspect", cfg.Output, "--format", "yaml", "--var", "thk", "--logs")
	if err != nil {
		t.Fatalf("inspect yaml: %v", err)
	}
	var view datasetView
	if err := yaml.Unmarshal([]byte(raw), &view); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, raw)
	}
	if len(view.Variables) != 1 || view.Variables[0].Name != "thk" {
		t.Fatalf("unexpected variables: %+v", view.Variables)
	}
	if thk := view.Variables[0]; thk.Min != 1500 || thk.Max != 1500 || thk.Mean != 1500 {
		t.Fatalf("unexpected thk stats: %+v", thk)
	}
	if view.Header.Mx != 8 || len(view.Logs) != 1 {
		t.Fatalf("unexpected header or logs: %+v", view)
	}

	if _, err := execute(t, "inspect", cfg.Output, "--var", "tauc"); err == nil {
		t.Fatalf("expected missing variable error")
	}
	if _, err := execute(t, "inspect", cfg.Output, "--format", "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestFieldsCommandListsFactories(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "fields")
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	lines := strings.Fields(out)
	if !reflect.DeepEqual(lines, model.DefaultFactories().Names()) {
		t.Fatalf("fields listed %v", lines)
	}
}
