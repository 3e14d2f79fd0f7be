// Package model layers write tracking and output over the field registry and
// provides constructors for the model's standard fields.
package model

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/observability"
	"github.com/danmuck/icectl/internal/pio"
	"github.com/danmuck/icectl/internal/vars"
)

// FieldWriter serializes fields into an open output.
type FieldWriter interface {
	WriteField(ctx context.Context, f *field.Field) error
	Close() error
}

// Opener opens path for appending fields that live on g.
type Opener func(ctx context.Context, g *grid.Grid, path string) (FieldWriter, error)

// PIOOpener appends to a pio file, creating it if needed.
func PIOOpener(ctx context.Context, g *grid.Grid, path string) (FieldWriter, error) {
	out, err := pio.Open(ctx, g, path, pio.ModeAppend)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type addOptions struct {
	name    string
	writing bool
	shared  bool
}

// AddOption customizes ModelVecs.Add.
type AddOption func(*addOptions)

func WithName(name string) AddOption {
	return func(o *addOptions) { o.name = name }
}

// Writing marks the field for output as part of the add.
func Writing() AddOption {
	return func(o *addOptions) { o.writing = true }
}

// Shared registers a non-owning reference.
func Shared() AddOption {
	return func(o *addOptions) { o.shared = true }
}

// Option configures a ModelVecs.
type Option func(*ModelVecs)

func WithOpener(open Opener) Option {
	return func(m *ModelVecs) { m.open = open }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *ModelVecs) { m.log = l }
}

// ModelVecs is a field registry that also tracks which fields go to output.
type ModelVecs struct {
	vars *vars.Vars
	open Opener
	log  zerolog.Logger

	mu      sync.Mutex
	writing map[string]struct{}
}

func NewModelVecs(opts ...Option) *ModelVecs {
	m := &ModelVecs{
		vars:    vars.New(),
		open:    PIOOpener,
		log:     log.Logger,
		writing: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers f, registry-owned unless Shared is given. Owned fields are
// moved: the caller's handle is invalid afterwards and the field is reached
// through Get.
func (m *ModelVecs) Add(f *field.Field, opts ...AddOption) error {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	var vopts []vars.AddOption
	if o.name != "" {
		vopts = append(vopts, vars.WithName(o.name))
	}
	if o.shared {
		vopts = append(vopts, vars.Shared())
	}
	entry, err := m.vars.Add(f, vopts...)
	if err != nil {
		return err
	}
	if o.writing {
		m.mu.Lock()
		m.writing[entry.ShortName] = struct{}{}
		m.mu.Unlock()
	}
	m.log.Debug().
		Str("field", entry.ShortName).
		Bool("owned", entry.Owned).
		Bool("writing", o.writing).
		Msg("model vecs add")
	return nil
}

// MarkForWriting adds the entry resolved by name (short or standard) to the
// write set. Marking twice is the same as marking once.
func (m *ModelVecs) MarkForWriting(name string) error {
	entry, ok := m.vars.Entry(name)
	if !ok {
		return fmt.Errorf("%w: %q", vars.ErrNotFound, name)
	}
	m.mark(entry.ShortName)
	return nil
}

// MarkFieldForWriting marks the entry holding f's storage.
func (m *ModelVecs) MarkFieldForWriting(f *field.Field) error {
	if !f.Valid() {
		return field.ErrReleased
	}
	name, ok := m.vars.NameOf(f)
	if !ok {
		return fmt.Errorf("%w: field %s", vars.ErrNotFound, f.Name())
	}
	m.mark(name)
	return nil
}

func (m *ModelVecs) mark(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writing[name] = struct{}{}
}

// IsWriting reports whether name (short or standard) is in the write set.
func (m *ModelVecs) IsWriting(name string) bool {
	entry, ok := m.vars.Entry(name)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, marked := m.writing[entry.ShortName]
	return marked
}

// WriteSet returns the marked short names in sorted order.
func (m *ModelVecs) WriteSet() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.writing))
	for name := range m.writing {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Write writes every marked field to path in short-name order. Collective when
// the opener is. The write set is left as is.
func (m *ModelVecs) Write(ctx context.Context, path string) error {
	return m.writeNames(ctx, path, m.WriteSet(), "marked")
}

// WriteAll writes every registered field to path in short-name order.
func (m *ModelVecs) WriteAll(ctx context.Context, path string) error {
	return m.writeNames(ctx, path, m.vars.Keys(), "all")
}

func (m *ModelVecs) writeNames(ctx context.Context, path string, names []string, mode string) error {
	if len(names) == 0 {
		m.log.Debug().Str("path", path).Str("mode", mode).Msg("nothing to write")
		return nil
	}
	fields := make([]*field.Field, 0, len(names))
	for _, name := range names {
		f, err := m.vars.Get(name)
		if err != nil {
			return err
		}
		fields = append(fields, f)
	}

	out, err := m.open(ctx, fields[0].Grid(), path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	for n, f := range fields {
		if err := out.WriteField(ctx, f); err != nil {
			_ = out.Close()
			return fmt.Errorf("write %s to %s: %w", names[n], path, err)
		}
		observability.RecordFieldWritten(mode)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	m.log.Info().Str("path", path).Str("mode", mode).Int("fields", len(fields)).Msg("fields written")
	return nil
}

func (m *ModelVecs) Lock()                                   { m.vars.Lock() }
func (m *ModelVecs) Locked() bool                            { return m.vars.Locked() }
func (m *ModelVecs) Get(name string) (*field.Field, error)   { return m.vars.Get(name) }
func (m *ModelVecs) Lookup(name string) (*field.Field, bool) { return m.vars.Lookup(name) }
func (m *ModelVecs) Has(name string) bool                    { return m.vars.Has(name) }
func (m *ModelVecs) Keys() []string                          { return m.vars.Keys() }
func (m *ModelVecs) Len() int                                { return m.vars.Len() }
func (m *ModelVecs) Entry(name string) (vars.Entry, bool)    { return m.vars.Entry(name) }
func (m *ModelVecs) NameOf(f *field.Field) (string, bool)    { return m.vars.NameOf(f) }

// Destroy releases owned fields and clears the registry and the write set.
func (m *ModelVecs) Destroy() {
	m.vars.Destroy()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writing = make(map[string]struct{})
}

// EntryInfo is a serializable snapshot of one entry.
type EntryInfo struct {
	Name         string `json:"name" yaml:"name"`
	StandardName string `json:"standard_name,omitempty" yaml:"standard_name,omitempty"`
	LongName     string `json:"long_name,omitempty" yaml:"long_name,omitempty"`
	Units        string `json:"units,omitempty" yaml:"units,omitempty"`
	Dof          int    `json:"dof" yaml:"dof"`
	Ghosts       int    `json:"ghosts" yaml:"ghosts"`
	Owned        bool   `json:"owned" yaml:"owned"`
	Writing      bool   `json:"writing" yaml:"writing"`
}

// Describe returns one EntryInfo per registered field, sorted by short name.
func (m *ModelVecs) Describe() []EntryInfo {
	entries := m.vars.Entries()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		info := EntryInfo{
			Name:         e.ShortName,
			StandardName: e.StandardName,
			Owned:        e.Owned,
		}
		_, info.Writing = m.writing[e.ShortName]
		if e.Field.Valid() {
			meta := e.Field.Metadata()
			info.LongName = meta.LongName()
			info.Units = meta.Units()
			info.Dof = e.Field.Dof()
			info.Ghosts = e.Field.StencilWidth()
		}
		out = append(out, info)
	}
	return out
}

func (m *ModelVecs) String() string {
	infos := m.Describe()
	if len(infos) == 0 {
		return "ModelVecs(empty)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ModelVecs(%d):", len(infos))
	for _, info := range infos {
		b.WriteString("\n  ")
		b.WriteString(info.Name)
		if info.StandardName != "" {
			fmt.Fprintf(&b, " (%s)", info.StandardName)
		}
		if info.Writing {
			b.WriteString(" [writing]")
		}
	}
	return b.String()
}

// ModelData bundles a grid with the fields defined on it.
type ModelData struct {
	Grid *grid.Grid
	Vecs *ModelVecs
}

func NewModelData(g *grid.Grid, opts ...Option) *ModelData {
	return &ModelData{Grid: g, Vecs: NewModelVecs(opts...)}
}
