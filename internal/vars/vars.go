// Package vars is the name-based registry of model fields.
//
// Entries are reachable by short name and, when the field's metadata carries
// one, by standard name. Both names share a single namespace for collision
// purposes so that a lookup never resolves to two different fields.
package vars

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/observability"
)

var (
	ErrLocked      = errors.New("vars: registry is locked")
	ErrExists      = errors.New("vars: name already registered")
	ErrNotFound    = errors.New("vars: name not registered")
	ErrNilField    = errors.New("vars: field is nil")
	ErrInvalidName = errors.New("vars: invalid name")
)

// Entry is one registered field.
type Entry struct {
	ShortName    string
	StandardName string
	Field        *field.Field
	// Owned entries hold the only handle to their storage; the caller's handle
	// was invalidated on Add.
	Owned bool
}

type addOptions struct {
	name   string
	shared bool
}

// AddOption customizes Add.
type AddOption func(*addOptions)

// WithName registers the field under name instead of its metadata name.
func WithName(name string) AddOption {
	return func(o *addOptions) { o.name = name }
}

// Shared keeps a non-owning reference; the caller's handle stays valid and
// the caller remains responsible for the field.
func Shared() AddOption {
	return func(o *addOptions) { o.shared = true }
}

// Vars maps names to fields. It is OPEN until Lock, then insertion is refused
// while lookups keep working.
type Vars struct {
	mu         sync.RWMutex
	entries    []Entry
	byShort    map[string]int
	byStandard map[string]int
	locked     bool
}

func New() *Vars {
	return &Vars{
		byShort:    make(map[string]int),
		byStandard: make(map[string]int),
	}
}

// Add registers f. Unless Shared is given, ownership moves into the registry:
// f is invalidated and the registry holds the only handle. On error nothing
// changes, including f.
func (v *Vars) Add(f *field.Field, opts ...AddOption) (Entry, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if f == nil {
		observability.RecordRegistryAdd("invalid")
		return Entry{}, ErrNilField
	}
	if !f.Valid() {
		observability.RecordRegistryAdd("invalid")
		return Entry{}, fmt.Errorf("%w: %w", ErrNilField, field.ErrReleased)
	}

	short := strings.TrimSpace(o.name)
	if short == "" {
		short = f.Metadata().Name()
	}
	if short == "" {
		observability.RecordRegistryAdd("invalid")
		return Entry{}, fmt.Errorf("%w: field has no name", ErrInvalidName)
	}
	standard := strings.TrimSpace(f.Metadata().StandardName())

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.locked {
		observability.RecordRegistryAdd("locked")
		return Entry{}, fmt.Errorf("%w: cannot add %q", ErrLocked, short)
	}
	if v.taken(short) {
		observability.RecordRegistryAdd("exists")
		return Entry{}, fmt.Errorf("%w: %q", ErrExists, short)
	}
	if standard != "" && v.taken(standard) {
		observability.RecordRegistryAdd("exists")
		return Entry{}, fmt.Errorf("%w: standard name %q (adding %q)", ErrExists, standard, short)
	}

	for _, e := range v.entries {
		if field.Same(e.Field, f) {
			observability.RecordRegistryAdd("exists")
			return Entry{}, fmt.Errorf("%w: storage of %q already registered as %q", ErrExists, short, e.ShortName)
		}
	}

	entry := Entry{ShortName: short, StandardName: standard, Field: f}
	if !o.shared {
		moved, err := f.Transfer()
		if err != nil {
			return Entry{}, err
		}
		entry.Field = moved
		entry.Owned = true
	}

	idx := len(v.entries)
	v.entries = append(v.entries, entry)
	v.byShort[short] = idx
	if standard != "" {
		v.byStandard[standard] = idx
	}
	observability.RecordRegistryAdd("ok")
	log.Debug().
		Str("name", short).
		Str("standard_name", standard).
		Bool("owned", entry.Owned).
		Msg("vars.Add")
	return entry, nil
}

func (v *Vars) taken(name string) bool {
	if _, ok := v.byShort[name]; ok {
		return true
	}
	_, ok := v.byStandard[name]
	return ok
}

// Lock forbids further insertions. Locking a locked registry is a no-op.
func (v *Vars) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.locked = true
}

func (v *Vars) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked
}

// Entry resolves name against short names, then standard names.
func (v *Vars) Entry(name string) (Entry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if idx, ok := v.byShort[name]; ok {
		return v.entries[idx], true
	}
	if idx, ok := v.byStandard[name]; ok {
		return v.entries[idx], true
	}
	return Entry{}, false
}

// Lookup is the tagged form of Get.
func (v *Vars) Lookup(name string) (*field.Field, bool) {
	e, ok := v.Entry(name)
	return e.Field, ok
}

// Get returns the field registered under name (short or standard).
func (v *Vars) Get(name string) (*field.Field, error) {
	e, ok := v.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.Field, nil
}

// Has reports whether name resolves to a registered field.
func (v *Vars) Has(name string) bool {
	_, ok := v.Entry(name)
	return ok
}

// NameOf returns the short name of the entry holding f's storage.
func (v *Vars) NameOf(f *field.Field) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, e := range v.entries {
		if field.Same(e.Field, f) {
			return e.ShortName, true
		}
	}
	return "", false
}

func (v *Vars) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Keys returns short names in sorted order.
func (v *Vars) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.entries))
	for _, e := range v.entries {
		keys = append(keys, e.ShortName)
	}
	slices.Sort(keys)
	return keys
}

// Entries returns a snapshot sorted by short name.
func (v *Vars) Entries() []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := slices.Clone(v.entries)
	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.ShortName, b.ShortName)
	})
	return out
}

// Destroy releases every owned field and empties the registry. Shared fields
// are left to their owners. The registry stays usable in its current lock state.
func (v *Vars) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.entries {
		if e.Owned {
			e.Field.Destroy()
		}
	}
	v.entries = nil
	v.byShort = make(map[string]int)
	v.byStandard = make(map[string]int)
}
