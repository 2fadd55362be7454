package solver

import (
	"math"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// penetrationTolerance absorbs the float32 rounding of the surface projection.
const penetrationTolerance = 1e-4

// Diagnostics summarises a particle buffer. Heights are measured against gravity
// (along +Y when gravity is zero); strain is (length-rest)/rest of the structural springs.
type Diagnostics struct {
	KineticEnergy float64
	MeanHeight    float64
	MinHeight     float64
	MaxHeight     float64
	HeightStdDev  float64
	MaxSpeed      float64
	MeanStrain    float64
	MaxStrain     float64
	Penetrations  int
	NonFinite     int
}

func Measure(particles []core.Particle, topo *core.Topology, params core.Params) Diagnostics {
	var diag Diagnostics
	if len(particles) == 0 {
		return diag
	}

	up := mgl32.Vec3{0, 1, 0}
	if g := params.Gravity.Len(); g > 0 {
		up = params.Gravity.Mul(-1 / g)
	}

	heights := make([]float64, 0, len(particles))
	speeds := make([]float64, 0, len(particles))
	for _, p := range particles {
		if !p.Finite() {
			diag.NonFinite++
			continue
		}
		heights = append(heights, float64(p.Position.Dot(up)))
		speeds = append(speeds, float64(p.Velocity.Len()))

		if params.Sphere.Radius > 0 && p.Position.Sub(params.Sphere.Center).Len() < params.Sphere.Radius-penetrationTolerance {
			diag.Penetrations++
		}
	}
	if len(heights) == 0 {
		return diag
	}

	diag.MeanHeight, diag.HeightStdDev = stat.MeanStdDev(heights, nil)
	diag.MinHeight = floats.Min(heights)
	diag.MaxHeight = floats.Max(heights)
	diag.MaxSpeed = floats.Max(speeds)

	squared := make([]float64, len(speeds))
	floats.MulTo(squared, speeds, speeds)
	diag.KineticEnergy = 0.5 * float64(params.Mass) * floats.Sum(squared)

	if topo != nil {
		strains := structuralStrains(particles, topo)
		if len(strains) > 0 {
			diag.MeanStrain = stat.Mean(strains, nil)
			diag.MaxStrain = floats.Max(strains)
		}
	}
	return diag
}

// structuralStrains visits each structural edge once (Index1 < Index2).
func structuralStrains(particles []core.Particle, topo *core.Topology) []float64 {
	strains := make([]float64, 0, len(particles)*2)
	for _, s := range topo.Springs {
		if s.Kind != core.Structural || !topo.Valid(s) || s.Index1 >= s.Index2 {
			continue
		}
		if int(s.Index2) >= len(particles) || s.RestLength <= 0 {
			continue
		}
		a, b := particles[s.Index1], particles[s.Index2]
		if !a.Finite() || !b.Finite() {
			continue
		}
		length := float64(b.Position.Sub(a.Position).Len())
		strain := (length - float64(s.RestLength)) / float64(s.RestLength)
		if math.IsNaN(strain) {
			continue
		}
		strains = append(strains, strain)
	}
	return strains
}
