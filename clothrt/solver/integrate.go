package solver

import (
	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
)

var sphereFallbackNormal = mgl32.Vec3{0, 1, 0}

// IntegrateParticle applies one semi-implicit Euler step to p and then pushes it
// out of the sphere if it ended up inside.
func IntegrateParticle(p *core.Particle, force mgl32.Vec3, params *core.Params) {
	p.Velocity = p.Velocity.Add(force.Mul(params.Dt / params.Mass))
	p.Position = p.Position.Add(p.Velocity.Mul(params.Dt))
	ResolveSphere(p, params)
}

// ResolveSphere projects a penetrating particle back onto the sphere surface and
// removes the velocity component pointing into the sphere. Restitution controls
// how much of that component is reflected, Friction how much tangential velocity
// survives the contact. Returns true when the particle was inside.
func ResolveSphere(p *core.Particle, params *core.Params) bool {
	sphere := params.Sphere
	offset := p.Position.Sub(sphere.Center)
	dist := offset.Len()
	if dist >= sphere.Radius {
		return false
	}

	normal := sphereFallbackNormal
	if dist > degenerateLength {
		normal = offset.Mul(1 / dist)
	}
	p.Position = sphere.Center.Add(normal.Mul(sphere.Radius))

	vn := p.Velocity.Dot(normal)
	if vn < 0 {
		inward := normal.Mul(vn)
		tangent := p.Velocity.Sub(inward)
		p.Velocity = tangent.Mul(1 - params.Friction).Sub(inward.Mul(params.Restitution))
	}
	return true
}

// integrateParticles advances particles[i0:i1] and returns the index of the first
// particle that left the finite range, or -1.
func integrateParticles(i0, i1 int, particles []core.Particle, forces []mgl32.Vec3, params *core.Params) int {
	unstable := -1
	for i := i0; i < i1; i++ {
		p := &particles[i]
		IntegrateParticle(p, forces[i], params)
		if unstable < 0 && !p.Finite() {
			unstable = i
		}
	}
	return unstable
}
