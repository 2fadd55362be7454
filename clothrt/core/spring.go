package core

import (
	"fmt"
	"math"
)

type SpringKind uint32

const (
	Structural SpringKind = iota
	Shear
	Bend
)

func (k SpringKind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Shear:
		return "shear"
	case Bend:
		return "bend"
	}
	return fmt.Sprintf("SpringKind(%d)", uint32(k))
}

// Spring links Index1 to Index2. Index2 equals the topology sentinel when the
// neighbour falls outside the grid; such springs contribute no force.
// Layout matches the WGSL Spring struct (16 bytes).
type Spring struct {
	Index1     uint32
	Index2     uint32
	RestLength float32
	Kind       SpringKind
}

// SpringsPerParticle is the fixed fan-out of every particle: 4 structural, 4 shear, 4 bend.
const SpringsPerParticle = 12

type springOffset struct {
	dRow, dCol int
	kind       SpringKind
}

// Order defines the slot of each spring inside a particle's range.
var springOffsets = [SpringsPerParticle]springOffset{
	{0, 1, Structural}, {0, -1, Structural}, {1, 0, Structural}, {-1, 0, Structural},
	{1, 1, Shear}, {1, -1, Shear}, {-1, 1, Shear}, {-1, -1, Shear},
	{0, 2, Bend}, {0, -2, Bend}, {2, 0, Bend}, {-2, 0, Bend},
}

// Topology is the immutable spring list of a grid, grouped by particle.
type Topology struct {
	Grid     Grid
	Sentinel uint32
	Springs  []Spring
}

// RestLength returns the rest length of a spring kind for the given spacing.
func RestLength(kind SpringKind, spacing float32) float32 {
	switch kind {
	case Shear:
		return spacing * math.Sqrt2
	case Bend:
		return spacing * 2
	default:
		return spacing
	}
}

// BuildTopology generates the sentinel-padded spring list for a width x height grid.
func BuildTopology(width, height int, spacing float32) *Topology {
	grid := Grid{Width: width, Height: height, Spacing: spacing}
	n := grid.Count()
	if n < 0 {
		n = 0
	}
	topo := &Topology{
		Grid:     grid,
		Sentinel: uint32(n),
		Springs:  make([]Spring, 0, n*SpringsPerParticle),
	}

	for i := 0; i < n; i++ {
		row, col := grid.RowCol(i)
		for _, off := range springOffsets {
			other := topo.Sentinel
			r, c := row+off.dRow, col+off.dCol
			if grid.InBounds(r, c) {
				other = uint32(grid.Index(r, c))
			}
			topo.Springs = append(topo.Springs, Spring{
				Index1:     uint32(i),
				Index2:     other,
				RestLength: RestLength(off.kind, spacing),
				Kind:       off.kind,
			})
		}
	}
	return topo
}

func (t *Topology) ParticleCount() int {
	return int(t.Sentinel)
}

// ForParticle returns the 12 spring slots of particle i.
func (t *Topology) ForParticle(i int) []Spring {
	start := i * SpringsPerParticle
	return t.Springs[start : start+SpringsPerParticle]
}

// Valid reports whether the spring has a real second endpoint.
func (t *Topology) Valid(s Spring) bool {
	return s.Index2 < t.Sentinel
}

// Validate checks that the topology can drive a buffer of particleCount particles.
func (t *Topology) Validate(particleCount int) error {
	if t == nil {
		return fmt.Errorf("%w: nil topology", ErrBufferMismatch)
	}
	if int(t.Sentinel) != particleCount {
		return fmt.Errorf("%w: topology built for %d particles, buffer holds %d", ErrBufferMismatch, t.Sentinel, particleCount)
	}
	if len(t.Springs) != particleCount*SpringsPerParticle {
		return fmt.Errorf("%w: expected %d springs, got %d", ErrBufferMismatch, particleCount*SpringsPerParticle, len(t.Springs))
	}
	for i, s := range t.Springs {
		if int(s.Index1) != i/SpringsPerParticle {
			return fmt.Errorf("%w: spring %d belongs to particle %d, not %d", ErrBufferMismatch, i, s.Index1, i/SpringsPerParticle)
		}
		if s.Index2 > t.Sentinel {
			return fmt.Errorf("%w: spring %d points past the sentinel (%d)", ErrBufferMismatch, i, s.Index2)
		}
	}
	return nil
}
