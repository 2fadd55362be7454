package solver

import (
	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// Springs shorter than this have no usable direction and are skipped.
const degenerateLength = 1e-6

// AccumulateForce returns the net force on particle i: gravity plus the elastic
// and axial damping terms of its 12 spring slots. It reads the previous
// substep state of i and its neighbours and writes nothing.
func AccumulateForce(i int, particles []core.Particle, topo *core.Topology, params *core.Params) mgl32.Vec3 {
	self := &particles[i]
	force := params.Gravity.Mul(params.Mass)
	count := uint32(len(particles))

	for _, s := range topo.ForParticle(i) {
		if s.Index2 >= count {
			continue // sentinel
		}
		other := &particles[s.Index2]

		d := other.Position.Sub(self.Position)
		length := d.Len()
		if length < degenerateLength {
			continue
		}
		dir := d.Mul(1 / length)
		c := params.Coefficients(s.Kind)

		// Hooke: pull towards the neighbour when stretched, push away when compressed.
		force = force.Add(dir.Mul(c.Stiffness * (length - s.RestLength)))

		relVel := self.Velocity.Sub(other.Velocity)
		force = force.Sub(dir.Mul(c.Damping * relVel.Dot(dir)))
	}
	return force
}

// accumulateForces fills forces[i0:i1]. Each slot is written by exactly one caller.
func accumulateForces(i0, i1 int, particles []core.Particle, topo *core.Topology, params *core.Params, forces []mgl32.Vec3) {
	for i := i0; i < i1; i++ {
		forces[i] = AccumulateForce(i, particles, topo, params)
	}
}
