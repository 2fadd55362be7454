package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Particle is one point mass of the cloth grid.
type Particle struct {
	Position mgl32.Vec3
	Velocity mgl32.Vec3
}

// Grid describes the rectangular particle lattice. Particle (row, col) lives at index row*Width + col.
type Grid struct {
	Width   int
	Height  int
	Spacing float32
}

func (g Grid) Count() int {
	return g.Width * g.Height
}

func (g Grid) Index(row, col int) int {
	return row*g.Width + col
}

func (g Grid) RowCol(i int) (int, int) {
	return i / g.Width, i % g.Width
}

func (g Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Height && col >= 0 && col < g.Width
}

// Validate rejects grids smaller than 2x2 or with a non-positive spacing.
func (g Grid) Validate() error {
	if g.Width < 2 {
		return configErrorf("grid.width", "must be at least 2, got %d", g.Width)
	}
	if g.Height < 2 {
		return configErrorf("grid.height", "must be at least 2, got %d", g.Height)
	}
	if !(g.Spacing > 0) {
		return configErrorf("grid.spacing", "must be positive, got %g", g.Spacing)
	}
	return nil
}

type Plane int

const (
	// PlaneXY lays rows along +X and columns along +Y.
	PlaneXY Plane = iota
	// PlaneXZ lays rows along +X and columns along +Z, a horizontal sheet.
	PlaneXZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXY:
		return "xy"
	case PlaneXZ:
		return "xz"
	}
	return "unknown"
}

// Layout positions the flat sheet in world space.
type Layout struct {
	Origin mgl32.Vec3
	Plane  Plane
}

// InitParticles creates a flat sheet at rest in the XY plane.
func InitParticles(width, height int, spacing float32) []Particle {
	return InitParticlesOn(Grid{Width: width, Height: height, Spacing: spacing}, Layout{})
}

func InitParticlesOn(grid Grid, layout Layout) []Particle {
	if grid.Width <= 0 || grid.Height <= 0 {
		return nil
	}
	particles := make([]Particle, 0, grid.Count())
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			u := float32(row) * grid.Spacing
			v := float32(col) * grid.Spacing

			var offset mgl32.Vec3
			switch layout.Plane {
			case PlaneXZ:
				offset = mgl32.Vec3{u, 0, v}
			default:
				offset = mgl32.Vec3{u, v, 0}
			}
			particles = append(particles, Particle{Position: layout.Origin.Add(offset)})
		}
	}
	return particles
}

// CloneParticles returns an independent copy of the buffer.
func CloneParticles(src []Particle) []Particle {
	if src == nil {
		return nil
	}
	dst := make([]Particle, len(src))
	copy(dst, src)
	return dst
}

// Finite reports whether both vectors of the particle hold finite values.
func (p Particle) Finite() bool {
	for i := 0; i < 3; i++ {
		if !finite32(p.Position[i]) || !finite32(p.Velocity[i]) {
			return false
		}
	}
	return true
}

func finite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
