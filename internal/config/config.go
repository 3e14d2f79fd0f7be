package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/icectl/internal/comm"
	"github.com/danmuck/icectl/internal/grid"
)

var (
	ErrInvalidRanks  = errors.New("config: ranks must be positive")
	ErrInvalidComm   = errors.New("config: invalid collective settings")
	ErrInvalidGrid   = errors.New("config: invalid grid")
	ErrInvalidField  = errors.New("config: invalid field")
	ErrInvalidOutput = errors.New("config: invalid output")
)

// Output modes: write the marked subset of the registry, or all of it.
const (
	OutputMarked = "marked"
	OutputAll    = "all"
)

// RunConfig drives `icectl run`.
type RunConfig struct {
	Ranks             int
	CollectiveTimeout time.Duration
	LinkBuffer        int
	LogLevel          string
	AdminAddr         string

	Output     string
	OutputMode string
	Append     bool
	History    string

	Grid   GridConfig
	Fields []FieldConfig
}

type GridConfig struct {
	Mx           int     `toml:"mx"`
	My           int     `toml:"my"`
	Lx           float64 `toml:"lx"`
	Ly           float64 `toml:"ly"`
	Periodicity  string  `toml:"periodicity"`
	StencilWidth int     `toml:"stencil_width"`
	ProcsX       int     `toml:"procs_x"`
	ProcsY       int     `toml:"procs_y"`
}

// FieldConfig selects one standard field by factory kind. Name overrides the
// registry short name; Value and Random choose the initial contents.
type FieldConfig struct {
	Kind   string   `toml:"kind"`
	Name   string   `toml:"name"`
	Write  bool     `toml:"write"`
	Shared bool     `toml:"shared"`
	Value  *float64 `toml:"value"`
	Random float64  `toml:"random"`
}

// run.toml key mapping to RunConfig.
type fileConfig struct {
	Ranks             int           `toml:"ranks"`
	CollectiveTimeout string        `toml:"collective_timeout"`
	LinkBuffer        int           `toml:"link_buffer"`
	LogLevel          string        `toml:"log_level"`
	AdminAddr         string        `toml:"admin_addr"`
	Output            string        `toml:"output"`
	OutputMode        string        `toml:"output_mode"`
	Append            bool          `toml:"append"`
	History           string        `toml:"history"`
	Grid              GridConfig    `toml:"grid"`
	Fields            []FieldConfig `toml:"fields"`
}

func DefaultRunConfig() RunConfig {
	p := grid.DefaultParams()
	cc := comm.DefaultConfig()
	return RunConfig{
		Ranks:             4,
		CollectiveTimeout: cc.Timeout,
		LinkBuffer:        cc.LinkBuffer,
		LogLevel:          "info",
		Output:            "icectl.pio",
		OutputMode:        OutputMarked,
		Grid: GridConfig{
			Mx:           p.Mx,
			My:           p.My,
			Lx:           p.Lx,
			Ly:           p.Ly,
			Periodicity:  p.Periodicity.String(),
			StencilWidth: p.StencilWidth,
		},
	}
}

// LoadRunConfig reads path and overlays the keys it defines onto
// DefaultRunConfig.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RunConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RunConfig{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("ranks") {
		cfg.Ranks = raw.Ranks
	}
	if meta.IsDefined("collective_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CollectiveTimeout))
		if err != nil {
			return RunConfig{}, fmt.Errorf("config parse failed (%s): collective_timeout: %w", path, err)
		}
		cfg.CollectiveTimeout = d
	}
	if meta.IsDefined("link_buffer") {
		cfg.LinkBuffer = raw.LinkBuffer
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("output_mode") {
		cfg.OutputMode = strings.ToLower(strings.TrimSpace(raw.OutputMode))
	}
	if meta.IsDefined("append") {
		cfg.Append = raw.Append
	}
	if meta.IsDefined("history") {
		cfg.History = raw.History
	}
	overlayGrid(meta, raw.Grid, &cfg.Grid)
	if meta.IsDefined("fields") {
		cfg.Fields = raw.Fields
	}

	if err := ValidateRunConfig(cfg); err != nil {
		return RunConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func overlayGrid(meta toml.MetaData, raw GridConfig, out *GridConfig) {
	if meta.IsDefined("grid", "mx") {
		out.Mx = raw.Mx
	}
	if meta.IsDefined("grid", "my") {
		out.My = raw.My
	}
	if meta.IsDefined("grid", "lx") {
		out.Lx = raw.Lx
	}
	if meta.IsDefined("grid", "ly") {
		out.Ly = raw.Ly
	}
	if meta.IsDefined("grid", "periodicity") {
		out.Periodicity = strings.TrimSpace(raw.Periodicity)
	}
	if meta.IsDefined("grid", "stencil_width") {
		out.StencilWidth = raw.StencilWidth
	}
	if meta.IsDefined("grid", "procs_x") {
		out.ProcsX = raw.ProcsX
	}
	if meta.IsDefined("grid", "procs_y") {
		out.ProcsY = raw.ProcsY
	}
}

func ValidateRunConfig(cfg RunConfig) error {
	if cfg.Ranks < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidRanks, cfg.Ranks)
	}
	if cfg.CollectiveTimeout < 0 {
		return fmt.Errorf("%w: negative collective_timeout", ErrInvalidComm)
	}
	p, err := cfg.Grid.Params()
	if err != nil {
		return err
	}
	if p.ProcsX > 0 && p.ProcsX*p.ProcsY != cfg.Ranks {
		return fmt.Errorf("%w: procs_x*procs_y=%d for %d ranks", ErrInvalidGrid, p.ProcsX*p.ProcsY, cfg.Ranks)
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidOutput)
	}
	switch cfg.OutputMode {
	case OutputMarked, OutputAll:
	default:
		return fmt.Errorf("%w: unknown output_mode %q", ErrInvalidOutput, cfg.OutputMode)
	}
	for i, f := range cfg.Fields {
		if err := ValidateFieldEntry(f); err != nil {
			return fmt.Errorf("fields[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateFieldEntry(f FieldConfig) error {
	if strings.TrimSpace(f.Kind) == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidField)
	}
	if f.Random < 0 {
		return fmt.Errorf("%w: random scale must not be negative", ErrInvalidField)
	}
	if f.Value != nil && f.Random > 0 {
		return fmt.Errorf("%w: value and random are exclusive", ErrInvalidField)
	}
	return nil
}

// Params converts the grid section. procs_x and procs_y are set together or
// left at zero for an automatic layout.
func (g GridConfig) Params() (grid.Params, error) {
	per, err := grid.ParsePeriodicity(g.Periodicity)
	if err != nil {
		return grid.Params{}, fmt.Errorf("%w: %w", ErrInvalidGrid, err)
	}
	p := grid.Params{
		Mx:           g.Mx,
		My:           g.My,
		Lx:           g.Lx,
		Ly:           g.Ly,
		Periodicity:  per,
		StencilWidth: g.StencilWidth,
		ProcsX:       g.ProcsX,
		ProcsY:       g.ProcsY,
	}
	if err := grid.Validate(p); err != nil {
		return grid.Params{}, fmt.Errorf("%w: %w", ErrInvalidGrid, err)
	}
	return p, nil
}

// Comm returns the collective settings for the rank group.
func (c RunConfig) Comm() comm.Config {
	return comm.Config{Timeout: c.CollectiveTimeout, LinkBuffer: c.LinkBuffer}
}
