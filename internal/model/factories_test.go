package model

import (
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/testutil/testlog"
)

func TestDefaultFactoriesBuildDistinctFields(t *testing.T) {
	testlog.Start(t)
	g := testGrid(t)
	r := DefaultFactories()
	vecs := NewModelVecs()
	defer vecs.Destroy()

	for _, name := range r.Names() {
		f, err := r.Create(g, name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if f.Name() != name {
			t.Fatalf("factory %s built a field named %s", name, f.Name())
		}
		if f.Metadata().LongName() == "" {
			t.Fatalf("factory %s left long_name empty", name)
		}
		// every standard field can live in one registry at once
		if err := vecs.Add(f); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	if vecs.Len() != len(r.Names()) {
		t.Fatalf("registered %d of %d fields", vecs.Len(), len(r.Names()))
	}
}

func TestFactoryShapes(t *testing.T) {
	testlog.Start(t)
	g := testGrid(t)
	cases := []struct {
		fn       Factory
		dof      int
		ghosts   bool
		standard string
	}{
		{CreateIceThickness, 1, true, "land_ice_thickness"},
		{CreateBedrockElevation, 1, true, "bedrock_altitude"},
		{Create2DVelocity, 2, true, ""},
		{CreateDrivingStressX, 1, false, ""},
		{CreateLongitude, 1, true, "longitude"},
		{CreateBasalMeltRate, 1, true, "land_ice_basal_melt_rate"},
	}
	for _, tc := range cases {
		f := mustCreate(t, g, tc.fn)
		if f.Dof() != tc.dof || f.HasGhosts() != tc.ghosts {
			t.Fatalf("%s: dof=%d ghosts=%v", f.Name(), f.Dof(), f.HasGhosts())
		}
		if got := f.Metadata().StandardName(); got != tc.standard {
			t.Fatalf("%s: standard_name=%q want %q", f.Name(), got, tc.standard)
		}
	}
}

func TestFactoriesRegistry(t *testing.T) {
	testlog.Start(t)
	r := NewFactories()
	if err := r.Register("thk", CreateIceThickness); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("thk", CreateIceThickness); !errors.Is(err, ErrFactoryExists) {
		t.Fatalf("expected ErrFactoryExists, got %v", err)
	}
	if err := r.Register("nil", nil); !errors.Is(err, ErrFactoryNil) {
		t.Fatalf("expected ErrFactoryNil, got %v", err)
	}
	if _, err := r.Create(testGrid(t), "velsurf"); !errors.Is(err, ErrUnknownFactory) {
		t.Fatalf("expected ErrUnknownFactory, got %v", err)
	}
	custom := func(g *grid.Grid) (*field.Field, error) {
		return field.New(g, "custom", field.WithoutGhosts, 0, 3)
	}
	if err := r.Register("custom", custom); err != nil {
		t.Fatalf("register custom: %v", err)
	}
	if got := r.Names(); !slices.Equal(got, []string{"custom", "thk"}) {
		t.Fatalf("names: %v", got)
	}
}

func TestCompareOrdersByName(t *testing.T) {
	testlog.Start(t)
	g := testGrid(t)
	lon := mustCreate(t, g, CreateLongitude)
	lat := mustCreate(t, g, CreateLatitude)
	if Compare(lon, lat) <= 0 || Compare(lat, lon) >= 0 || Compare(lon, lon) != 0 {
		t.Fatalf("Compare does not order lat before lon")
	}
	fields := []*field.Field{lon, lat}
	slices.SortFunc(fields, Compare)
	if fields[0] != lat {
		t.Fatalf("sort put %s first", fields[0].Name())
	}
}
