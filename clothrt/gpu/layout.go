package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/cloth/clothrt/core"
)

// Byte layouts shared with cloth_forces.wgsl and cloth_integrate.wgsl.
// vec3<f32> is 16-byte aligned in storage buffers, so each particle vector
// carries one word of padding.
const (
	ParticleStride = 32
	SpringStride   = 16
	ForceStride    = 16
	ParamsSize     = 80
	WorkgroupSize  = 64
)

// Workgroups returns the dispatch size covering n particles.
func Workgroups(n int) uint32 {
	return (uint32(n) + WorkgroupSize - 1) / WorkgroupSize
}

func putVec3(buf []byte, v [3]float32) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
}

func getVec3(buf []byte) [3]float32 {
	return [3]float32{
		math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
	}
}

func PackParticles(particles []core.Particle) []byte {
	data := make([]byte, len(particles)*ParticleStride)
	for i, p := range particles {
		offset := i * ParticleStride
		putVec3(data[offset:], p.Position)
		putVec3(data[offset+16:], p.Velocity)
	}
	return data
}

// UnpackParticles decodes len(dst) particles from data.
func UnpackParticles(data []byte, dst []core.Particle) error {
	if len(data) < len(dst)*ParticleStride {
		return fmt.Errorf("particle readback holds %d bytes, need %d", len(data), len(dst)*ParticleStride)
	}
	for i := range dst {
		offset := i * ParticleStride
		dst[i].Position = getVec3(data[offset:])
		dst[i].Velocity = getVec3(data[offset+16:])
	}
	return nil
}

func PackSprings(springs []core.Spring) []byte {
	data := make([]byte, len(springs)*SpringStride)
	for i, s := range springs {
		offset := i * SpringStride
		binary.LittleEndian.PutUint32(data[offset+0:], s.Index1)
		binary.LittleEndian.PutUint32(data[offset+4:], s.Index2)
		binary.LittleEndian.PutUint32(data[offset+8:], math.Float32bits(s.RestLength))
		binary.LittleEndian.PutUint32(data[offset+12:], uint32(s.Kind))
	}
	return data
}

// PackParams serialises the per-frame uniform block.
func PackParams(p *core.Params, particleCount int) []byte {
	data := make([]byte, ParamsSize)
	putVec3(data[0:], p.Gravity)
	binary.LittleEndian.PutUint32(data[12:], math.Float32bits(p.Dt))
	putVec3(data[16:], p.Sphere.Center)
	binary.LittleEndian.PutUint32(data[28:], math.Float32bits(p.Sphere.Radius))
	binary.LittleEndian.PutUint32(data[32:], math.Float32bits(p.Mass))
	binary.LittleEndian.PutUint32(data[36:], math.Float32bits(p.Restitution))
	binary.LittleEndian.PutUint32(data[40:], math.Float32bits(p.Friction))
	binary.LittleEndian.PutUint32(data[44:], uint32(particleCount))

	for k, kind := range []core.SpringKind{core.Structural, core.Shear, core.Bend} {
		c := p.Coefficients(kind)
		binary.LittleEndian.PutUint32(data[48+k*4:], math.Float32bits(c.Stiffness))
		binary.LittleEndian.PutUint32(data[64+k*4:], math.Float32bits(c.Damping))
	}
	return data
}
