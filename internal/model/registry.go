package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
)

var (
	ErrFactoryExists  = errors.New("field factory already registered")
	ErrFactoryNil     = errors.New("field factory is nil")
	ErrUnknownFactory = errors.New("unknown field factory")
)

// Factory allocates one unregistered field on a grid.
type Factory func(g *grid.Grid) (*field.Field, error)

// Factories maps a kind name to the constructor for that field.
type Factories struct {
	mu    sync.RWMutex
	items map[string]Factory
}

func NewFactories() *Factories {
	return &Factories{items: make(map[string]Factory)}
}

// DefaultFactories knows every standard field, keyed by its default name.
func DefaultFactories() *Factories {
	r := NewFactories()
	for name, fn := range map[string]Factory{
		"usurf":             CreateIceSurface,
		"thk":               CreateIceThickness,
		"usurfstore":        CreateIceSurfaceStore,
		"thkstore":          CreateIceThicknessStore,
		"topg":              CreateBedrockElevation,
		"tauc":              CreateYieldStress,
		"enthalpy":          CreateEnthalpy,
		"hardav":            CreateAveragedHardness,
		"bmelt":             CreateBasalMeltRate,
		"tillphi":           CreateTillPhi,
		"bwat":              CreateBasalWater,
		"cell_area":         CreateCellArea,
		"gl_mask":           CreateGroundingLineMask,
		"bar":               Create2DVelocity,
		"taud_x":            CreateDrivingStressX,
		"taud_y":            CreateDrivingStressY,
		"vel_misfit_weight": CreateVelocityMisfitWeight,
		"velbar_mag":        CreateCBar,
		"mask":              CreateIceMask,
		"bc_mask":           CreateBCMask,
		"no_model_mask":     CreateNoModelMask,
		"zeta_fixed_mask":   CreateZetaFixedMask,
		"lon":               CreateLongitude,
		"lat":               CreateLatitude,
	} {
		// names are unique literals; Register cannot fail here
		_ = r.Register(name, fn)
	}
	return r
}

// Register adds a constructor under name.
func (r *Factories) Register(name string, fn Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownFactory)
	}
	if fn == nil {
		return ErrFactoryNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrFactoryExists, name)
	}
	r.items[name] = fn
	return nil
}

func (r *Factories) Resolve(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.items[name]
	return fn, ok
}

// Create builds the field registered under name.
func (r *Factories) Create(g *grid.Grid, name string) (*field.Field, error) {
	fn, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactory, name)
	}
	return fn(g)
}

// Names returns the registered kinds in sorted order.
func (r *Factories) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
