package core

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTopology_FixedFanOut(t *testing.T) {
	for _, dims := range [][2]int{{2, 2}, {3, 3}, {2, 5}, {7, 4}, {10, 10}} {
		w, h := dims[0], dims[1]
		topo := BuildTopology(w, h, 0.5)

		require.Len(t, topo.Springs, w*h*SpringsPerParticle, "grid %dx%d", w, h)
		assert.Equal(t, uint32(w*h), topo.Sentinel)

		for i := 0; i < w*h; i++ {
			springs := topo.ForParticle(i)
			require.Len(t, springs, SpringsPerParticle)

			counts := map[SpringKind]int{}
			for _, s := range springs {
				assert.Equal(t, uint32(i), s.Index1)
				counts[s.Kind]++
			}
			assert.Equal(t, 4, counts[Structural])
			assert.Equal(t, 4, counts[Shear])
			assert.Equal(t, 4, counts[Bend])
		}
		require.NoError(t, topo.Validate(w*h))
	}
}

func TestBuildTopology_Symmetry(t *testing.T) {
	topo := BuildTopology(5, 4, 1.0)

	type key struct {
		a, b uint32
		kind SpringKind
	}
	index := make(map[key]float32)
	for _, s := range topo.Springs {
		if topo.Valid(s) {
			index[key{s.Index1, s.Index2, s.Kind}] = s.RestLength
		}
	}

	for k, rest := range index {
		mirror, ok := index[key{k.b, k.a, k.kind}]
		if !assert.True(t, ok, "missing mirror of %d->%d (%s)", k.a, k.b, k.kind) {
			continue
		}
		assert.Equal(t, rest, mirror)
	}
}

func TestBuildTopology_RestLengths(t *testing.T) {
	const spacing = float32(0.25)
	topo := BuildTopology(6, 6, spacing)
	g := topo.Grid
	i := g.Index(2, 2)

	find := func(target int, kind SpringKind) (Spring, bool) {
		for _, s := range topo.ForParticle(i) {
			if int(s.Index2) == target && s.Kind == kind {
				return s, true
			}
		}
		return Spring{}, false
	}

	s, ok := find(g.Index(2, 3), Structural)
	require.True(t, ok)
	assert.Equal(t, spacing, s.RestLength)

	s, ok = find(g.Index(3, 3), Shear)
	require.True(t, ok)
	assert.InDelta(t, float64(spacing)*math.Sqrt2, float64(s.RestLength), 1e-6)

	s, ok = find(g.Index(2, 4), Bend)
	require.True(t, ok)
	assert.Equal(t, 2*spacing, s.RestLength)
}

func TestBuildTopology_SentinelAtCorners(t *testing.T) {
	topo := BuildTopology(3, 3, 1)

	// Corner (0,0) has only +row/+col neighbours.
	valid := 0
	for _, s := range topo.ForParticle(0) {
		if topo.Valid(s) {
			valid++
		} else {
			assert.Equal(t, topo.Sentinel, s.Index2)
		}
	}
	// 2 structural, 1 shear, 2 bend
	assert.Equal(t, 5, valid)

	// The centre of a 3x3 grid has no bend neighbours at all.
	for _, s := range topo.ForParticle(4) {
		if s.Kind == Bend {
			assert.False(t, topo.Valid(s))
		} else {
			assert.True(t, topo.Valid(s))
		}
	}
}

func TestBuildTopology_Deterministic(t *testing.T) {
	a := BuildTopology(8, 3, 0.1)
	b := BuildTopology(8, 3, 0.1)
	assert.Equal(t, a.Springs, b.Springs)
}

func TestTopologyValidate_Mismatch(t *testing.T) {
	topo := BuildTopology(3, 3, 1)

	err := topo.Validate(10)
	assert.True(t, errors.Is(err, ErrBufferMismatch))

	topo.Springs = topo.Springs[:len(topo.Springs)-1]
	err = topo.Validate(9)
	assert.True(t, errors.Is(err, ErrBufferMismatch))

	var nilTopo *Topology
	assert.ErrorIs(t, nilTopo.Validate(9), ErrBufferMismatch)
}
