package field

import (
	"maps"
	"slices"
	"strings"
)

// Common attribute keys.
const (
	AttrUnits        = "units"
	AttrStandardName = "standard_name"
	AttrLongName     = "long_name"
	AttrIntent       = "intent"
)

// Metadata is a free-form string attribute store attached to a field. The name
// is kept apart from the attributes because registries key on it.
type Metadata struct {
	name  string
	attrs map[string]string
}

func NewMetadata(name string) *Metadata {
	return &Metadata{name: strings.TrimSpace(name), attrs: make(map[string]string)}
}

func (m *Metadata) Name() string {
	return m.name
}

func (m *Metadata) SetName(name string) {
	m.name = strings.TrimSpace(name)
}

// Get returns the attribute value or "" when it is not set.
func (m *Metadata) Get(key string) string {
	return m.attrs[key]
}

func (m *Metadata) Lookup(key string) (string, bool) {
	v, ok := m.attrs[key]
	return v, ok
}

// Set stores an attribute; an empty value removes it.
func (m *Metadata) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if value == "" {
		delete(m.attrs, key)
		return
	}
	m.attrs[key] = value
}

func (m *Metadata) Units() string        { return m.attrs[AttrUnits] }
func (m *Metadata) StandardName() string { return m.attrs[AttrStandardName] }
func (m *Metadata) LongName() string     { return m.attrs[AttrLongName] }
func (m *Metadata) Intent() string       { return m.attrs[AttrIntent] }

func (m *Metadata) SetUnits(units string) {
	m.Set(AttrUnits, units)
}

// SetAttrs sets the attributes most fields carry. Empty arguments clear the
// corresponding attribute.
func (m *Metadata) SetAttrs(intent, longName, units, standardName string) {
	m.Set(AttrIntent, intent)
	m.Set(AttrLongName, longName)
	m.Set(AttrUnits, units)
	m.Set(AttrStandardName, standardName)
}

// Keys returns attribute keys in sorted order.
func (m *Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m.attrs))
}

// Attributes returns a copy of all attributes.
func (m *Metadata) Attributes() map[string]string {
	return maps.Clone(m.attrs)
}
