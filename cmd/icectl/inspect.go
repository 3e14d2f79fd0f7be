package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/icectl/internal/pio"
)

// datasetView is what inspect prints: the header, per-variable statistics
// instead of raw values, and optionally the captured logs.
type datasetView struct {
	Header     pio.Header     `json:"header" yaml:"header"`
	Variables  []variableView `json:"variables" yaml:"variables"`
	LogRecords int            `json:"log_records" yaml:"log_records"`
	Logs       [][]string     `json:"logs,omitempty" yaml:"logs,omitempty"`
}

type variableView struct {
	Name  string            `json:"name" yaml:"name"`
	Dof   int               `json:"dof" yaml:"dof"`
	Shape []int             `json:"shape" yaml:"shape,flow"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Min   float64           `json:"min" yaml:"min"`
	Max   float64           `json:"max" yaml:"max"`
	Mean  float64           `json:"mean" yaml:"mean"`
}

func newInspectCmd() *cobra.Command {
	var (
		format   string
		names    []string
		withLogs bool
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Describe the records in a pio file",
		Long: `Inspect decodes a pio file and prints its header and one line of
statistics per variable. When a name was written more than once the latest
record is shown.

Examples:
  icectl inspect icectl.pio
  icectl inspect icectl.pio --var thk --var topg
  icectl inspect icectl.pio --format yaml --logs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := pio.ReadFile(args[0])
			if err != nil {
				return err
			}
			view, err := newDatasetView(ds, names, withLogs)
			if err != nil {
				return err
			}
			return renderView(cmd.OutOrStdout(), view, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|yaml|json")
	cmd.Flags().StringArrayVarP(&names, "var", "v", nil, "only show this variable (repeatable)")
	cmd.Flags().BoolVar(&withLogs, "logs", false, "include captured log lines")
	return cmd
}

func newDatasetView(ds *pio.Dataset, names []string, withLogs bool) (datasetView, error) {
	view := datasetView{Header: ds.Header, LogRecords: len(ds.Logs)}
	if withLogs {
		view.Logs = ds.Logs
	}
	if len(names) == 0 {
		names = ds.Names()
	}
	for _, name := range names {
		v, ok := ds.Lookup(name)
		if !ok {
			return datasetView{}, fmt.Errorf("variable %q not found", name)
		}
		view.Variables = append(view.Variables, summarizeVariable(v))
	}
	return view, nil
}

func summarizeVariable(v pio.Variable) variableView {
	out := variableView{Name: v.Name, Dof: v.Dof, Shape: v.Shape, Attrs: v.Attrs}
	if len(v.Data) == 0 {
		return out
	}
	out.Min, out.Max = math.Inf(1), math.Inf(-1)
	sum := 0.0
	for _, x := range v.Data {
		out.Min = math.Min(out.Min, x)
		out.Max = math.Max(out.Max, x)
		sum += x
	}
	out.Mean = sum / float64(len(v.Data))
	return out
}

func renderView(w io.Writer, view datasetView, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "":
		writeText(w, view)
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeText(w io.Writer, view datasetView) {
	h := view.Header
	fmt.Fprintf(w, "run_id:   %s\n", h.RunID)
	if h.History != "" {
		fmt.Fprintf(w, "history:  %s\n", h.History)
	}
	if !h.Created.IsZero() {
		fmt.Fprintf(w, "created:  %s\n", h.Created.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "grid:     %dx%d, Lx=%g Ly=%g, periodicity=%s, ranks=%d\n",
		h.Mx, h.My, h.Lx, h.Ly, h.Periodicity, h.Ranks)
	fmt.Fprintf(w, "variables (%d):\n", len(view.Variables))
	for _, v := range view.Variables {
		fmt.Fprintf(w, "  %-20s shape=%v min=%.6g max=%.6g mean=%.6g", v.Name, v.Shape, v.Min, v.Max, v.Mean)
		keys := make([]string, 0, len(v.Attrs))
		for k := range v.Attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if k == "units" || k == "standard_name" {
				fmt.Fprintf(w, " %s=%s", k, v.Attrs[k])
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "log records: %d\n", view.LogRecords)
	for n, lines := range view.Logs {
		fmt.Fprintf(w, "  [%d]\n", n)
		for _, line := range lines {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
