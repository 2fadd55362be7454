package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Coefficients are the stiffness and damping shared by every spring of one kind.
type Coefficients struct {
	Stiffness float32
	Damping   float32
}

type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Params is the read-only simulation record used by every substep of a frame.
// The driver derives a new version per frame with Next; nothing mutates a
// Params value once a frame has started.
type Params struct {
	Version uint64
	Dt      float32 // per substep
	Gravity mgl32.Vec3
	Mass    float32 // per particle

	Structural Coefficients
	Shear      Coefficients
	Bend       Coefficients

	Sphere Sphere
	// Restitution scales the removed inward velocity: 0 stops motion into the
	// sphere, 1 reflects it completely.
	Restitution float32
	// Friction scales down the tangential velocity of a particle in contact.
	Friction float32
}

func DefaultParams() Params {
	return Params{
		Dt:          1.0 / 60.0 / 500.0,
		Gravity:     mgl32.Vec3{0, -9.81, 0},
		Mass:        0.01,
		Structural:  Coefficients{Stiffness: 500, Damping: 0.5},
		Shear:       Coefficients{Stiffness: 250, Damping: 0.25},
		Bend:        Coefficients{Stiffness: 100, Damping: 0.1},
		Sphere:      Sphere{Center: mgl32.Vec3{0.45, -0.6, 0.45}, Radius: 0.3},
		Restitution: 0,
		Friction:    0.1,
	}
}

// Coefficients returns the stiffness/damping pair of a spring kind.
func (p *Params) Coefficients(kind SpringKind) Coefficients {
	switch kind {
	case Shear:
		return p.Shear
	case Bend:
		return p.Bend
	default:
		return p.Structural
	}
}

// Next returns the parameters for the following frame with a new substep dt.
func (p Params) Next(dt float32) Params {
	p.Version++
	p.Dt = dt
	return p
}

func (p Params) Validate() error {
	if !(p.Mass > 0) {
		return configErrorf("mass", "must be positive, got %g", p.Mass)
	}
	kinds := []struct {
		name string
		c    Coefficients
	}{
		{"springs.structural", p.Structural},
		{"springs.shear", p.Shear},
		{"springs.bend", p.Bend},
	}
	for _, k := range kinds {
		if !(k.c.Stiffness > 0) {
			return configErrorf(k.name+".stiffness", "must be positive, got %g", k.c.Stiffness)
		}
		if k.c.Damping < 0 {
			return configErrorf(k.name+".damping", "must not be negative, got %g", k.c.Damping)
		}
	}
	if p.Sphere.Radius < 0 {
		return configErrorf("sphere.radius", "must not be negative, got %g", p.Sphere.Radius)
	}
	if p.Restitution < 0 || p.Restitution > 1 {
		return configErrorf("collision.restitution", "must be within [0,1], got %g", p.Restitution)
	}
	if p.Friction < 0 || p.Friction > 1 {
		return configErrorf("collision.friction", "must be within [0,1], got %g", p.Friction)
	}
	if p.Dt < 0 {
		return configErrorf("dt", "must not be negative, got %g", p.Dt)
	}
	return nil
}
