package model

import (
	"cmp"
	"strings"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
)

const (
	intentModelState = "model_state"
	intentDiagnostic = "diagnostic"
	intentMapping    = "mapping"
)

type fieldSpec struct {
	name     string
	kind     field.Kind
	dof      int
	intent   string
	longName string
	units    string
	standard string
}

// create allocates a field from s with the grid's full stencil width for
// ghosted kinds.
func create(g *grid.Grid, s fieldSpec) (*field.Field, error) {
	width := 0
	if s.kind == field.WithGhosts {
		width = g.StencilWidth()
	}
	dof := max(s.dof, 1)
	f, err := field.New(g, s.name, s.kind, width, dof)
	if err != nil {
		return nil, err
	}
	f.Metadata().SetAttrs(s.intent, s.longName, s.units, s.standard)
	return f, nil
}

func CreateIceSurface(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"usurf", field.WithGhosts, 1, intentDiagnostic,
		"ice upper surface elevation", "m", "surface_altitude"})
}

func CreateIceThickness(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"thk", field.WithGhosts, 1, intentModelState,
		"land ice thickness", "m", "land_ice_thickness"})
}

// CreateIceSurfaceStore holds a saved copy of usurf; it has no standard name
// so it can be registered next to usurf.
func CreateIceSurfaceStore(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"usurfstore", field.WithGhosts, 1, intentModelState,
		"saved surface elevation for use to keep surface elevation constant in SSA region", "m", ""})
}

func CreateIceThicknessStore(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"thkstore", field.WithoutGhosts, 1, intentModelState,
		"saved ice thickness for use to keep thickness constant in SSA region", "m", ""})
}

func CreateBedrockElevation(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"topg", field.WithGhosts, 1, intentModelState,
		"bedrock surface elevation", "m", "bedrock_altitude"})
}

func CreateYieldStress(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"tauc", field.WithGhosts, 1, intentDiagnostic,
		"yield stress for basal till (plastic or pseudo-plastic model)", "Pa", ""})
}

// CreateEnthalpy is the column-averaged ice enthalpy.
func CreateEnthalpy(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"enthalpy", field.WithGhosts, 1, intentModelState,
		"ice enthalpy (includes sensible heat, latent heat, pressure)", "J kg-1", ""})
}

func CreateAveragedHardness(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"hardav", field.WithGhosts, 1, intentDiagnostic,
		"vertical average of ice hardness", "Pa s0.333333", ""})
}

func CreateBasalMeltRate(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"bmelt", field.WithGhosts, 1, intentModelState,
		"ice basal melt rate in ice thickness per time", "m s-1", "land_ice_basal_melt_rate"})
}

func CreateTillPhi(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"tillphi", field.WithGhosts, 1, intentModelState,
		"friction angle for till under grounded ice sheet", "degrees", ""})
}

func CreateBasalWater(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"bwat", field.WithGhosts, 1, intentModelState,
		"thickness of basal water layer", "m", ""})
}

func CreateCellArea(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"cell_area", field.WithGhosts, 1, intentDiagnostic,
		"cell areas", "m2", "cell_area"})
}

func CreateGroundingLineMask(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"gl_mask", field.WithoutGhosts, 1, intentDiagnostic,
		"fractional floatation mask", "", ""})
}

// Create2DVelocity is the vertically averaged horizontal velocity, one
// component per direction.
func Create2DVelocity(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"bar", field.WithGhosts, 2, intentModelState,
		"vertically averaged ice velocity", "m s-1", ""})
}

func CreateDrivingStressX(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"taud_x", field.WithoutGhosts, 1, intentDiagnostic,
		"X-component of the driving shear stress at the base of ice", "Pa", ""})
}

func CreateDrivingStressY(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"taud_y", field.WithoutGhosts, 1, intentDiagnostic,
		"Y-component of the driving shear stress at the base of ice", "Pa", ""})
}

func CreateVelocityMisfitWeight(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"vel_misfit_weight", field.WithoutGhosts, 1, intentDiagnostic,
		"weight for surface velocity misfit functional", "", ""})
}

func CreateCBar(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"velbar_mag", field.WithoutGhosts, 1, intentDiagnostic,
		"magnitude of vertically-integrated horizontal velocity of ice", "m s-1", ""})
}

func CreateIceMask(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"mask", field.WithGhosts, 1, intentDiagnostic,
		"ice-type (ice-free/grounded/floating/ocean) integer mask", "", ""})
}

func CreateBCMask(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"bc_mask", field.WithGhosts, 1, intentModelState,
		"Dirichlet boundary mask", "", ""})
}

func CreateNoModelMask(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"no_model_mask", field.WithGhosts, 1, intentModelState,
		"mask: zeros (modeling domain) and ones (no-model buffer near grid edges)", "", ""})
}

func CreateZetaFixedMask(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"zeta_fixed_mask", field.WithoutGhosts, 1, intentModelState,
		"tauc_unchanging integer mask", "", ""})
}

func CreateLongitude(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"lon", field.WithGhosts, 1, intentMapping,
		"longitude", "degree_east", "longitude"})
}

func CreateLatitude(g *grid.Grid) (*field.Field, error) {
	return create(g, fieldSpec{"lat", field.WithGhosts, 1, intentMapping,
		"latitude", "degree_north", "latitude"})
}

// Compare orders fields by name, for sorting field lists.
func Compare(a, b *field.Field) int {
	return cmp.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
}
