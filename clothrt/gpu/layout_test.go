package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32At(data []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
}

func TestPackParticles_PaddedVec3(t *testing.T) {
	particles := []core.Particle{
		{Position: mgl32.Vec3{1, 2, 3}, Velocity: mgl32.Vec3{4, 5, 6}},
		{Position: mgl32.Vec3{-1, -2, -3}, Velocity: mgl32.Vec3{0.5, 0.25, 0.125}},
	}
	data := PackParticles(particles)
	require.Len(t, data, 2*ParticleStride)

	assert.Equal(t, float32(3), f32At(data, 8))
	assert.Equal(t, float32(0), f32At(data, 12), "padding word")
	assert.Equal(t, float32(4), f32At(data, 16))
	assert.Equal(t, float32(-1), f32At(data, ParticleStride))
	assert.Equal(t, float32(0.125), f32At(data, ParticleStride+24))

	decoded := make([]core.Particle, 2)
	require.NoError(t, UnpackParticles(data, decoded))
	assert.Equal(t, particles, decoded)

	assert.Error(t, UnpackParticles(data[:40], decoded))
}

func TestPackSprings(t *testing.T) {
	topo := core.BuildTopology(2, 2, 0.5)
	data := PackSprings(topo.Springs)
	require.Len(t, data, len(topo.Springs)*SpringStride)

	// Particle 0, slot 1 is the (0,-1) structural neighbour: sentinel.
	slot := 1 * SpringStride
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[slot:]))
	assert.Equal(t, topo.Sentinel, binary.LittleEndian.Uint32(data[slot+4:]))
	assert.Equal(t, float32(0.5), f32At(data, slot+8))
	assert.Equal(t, uint32(core.Structural), binary.LittleEndian.Uint32(data[slot+12:]))

	// Slot 4 is the first shear spring.
	assert.Equal(t, uint32(core.Shear), binary.LittleEndian.Uint32(data[4*SpringStride+12:]))
}

func TestPackParams(t *testing.T) {
	p := core.DefaultParams()
	p.Dt = 0.001
	p.Gravity = mgl32.Vec3{0, -9.8, 0}
	p.Sphere = core.Sphere{Center: mgl32.Vec3{1, 2, 3}, Radius: 0.75}
	p.Mass = 0.02
	p.Restitution = 0.3
	p.Friction = 0.4

	data := PackParams(&p, 121)
	require.Len(t, data, ParamsSize)

	assert.Equal(t, float32(-9.8), f32At(data, 4))
	assert.Equal(t, float32(0.001), f32At(data, 12))
	assert.Equal(t, float32(3), f32At(data, 24))
	assert.Equal(t, float32(0.75), f32At(data, 28))
	assert.Equal(t, float32(0.02), f32At(data, 32))
	assert.Equal(t, float32(0.3), f32At(data, 36))
	assert.Equal(t, float32(0.4), f32At(data, 40))
	assert.Equal(t, uint32(121), binary.LittleEndian.Uint32(data[44:]))

	assert.Equal(t, p.Structural.Stiffness, f32At(data, 48))
	assert.Equal(t, p.Shear.Stiffness, f32At(data, 52))
	assert.Equal(t, p.Bend.Stiffness, f32At(data, 56))
	assert.Equal(t, p.Structural.Damping, f32At(data, 64))
	assert.Equal(t, p.Bend.Damping, f32At(data, 72))
}

func TestWorkgroups(t *testing.T) {
	assert.Equal(t, uint32(0), Workgroups(0))
	assert.Equal(t, uint32(1), Workgroups(1))
	assert.Equal(t, uint32(1), Workgroups(64))
	assert.Equal(t, uint32(2), Workgroups(65))
	assert.Equal(t, uint32(157), Workgroups(100*100))
}
