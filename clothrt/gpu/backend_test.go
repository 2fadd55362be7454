package gpu

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice stands in for the readback and upload paths of a Backend.
type fakeDevice struct {
	readErr   error
	result    []core.Particle
	uploadErr error
	uploads   [][]byte
}

func newFakeBackend(t *testing.T, dev *fakeDevice) *Backend {
	t.Helper()
	topo := core.BuildTopology(3, 3, 1)
	particles := core.InitParticles(3, 3, 1)
	b := &Backend{
		topo:      topo,
		params:    core.DefaultParams(),
		substeps:  4,
		initial:   core.CloneParticles(particles),
		committed: core.CloneParticles(particles),
		readback:  make([]core.Particle, len(particles)),
		log:       core.OrNop(nil),
	}
	b.read = func(size uint64) error {
		if dev.readErr != nil {
			return dev.readErr
		}
		copy(b.readback, dev.result)
		return nil
	}
	b.upload = func(data []byte) error {
		dev.uploads = append(dev.uploads, data)
		return dev.uploadErr
	}
	return b
}

func TestFinishFrame_CommitsFiniteReadback(t *testing.T) {
	dev := &fakeDevice{result: core.InitParticles(3, 3, 1)}
	dev.result[4].Velocity[1] = -0.5
	b := newFakeBackend(t, dev)

	params := b.params.Next(0.001)
	require.NoError(t, b.finishFrame(params, uint64(9*ParticleStride)))

	assert.Equal(t, uint64(1), b.FrameCount())
	assert.Equal(t, params, b.Params())
	assert.Equal(t, dev.result, b.Snapshot())
	assert.Empty(t, dev.uploads)
}

func TestFinishFrame_ReadbackFailureRestoresDevice(t *testing.T) {
	mapErr := errors.New("device lost")
	dev := &fakeDevice{readErr: mapErr}
	b := newFakeBackend(t, dev)
	before := b.Snapshot()
	prev := b.Params()

	err := b.finishFrame(prev.Next(0.001), uint64(9*ParticleStride))
	require.ErrorIs(t, err, mapErr)

	assert.Equal(t, uint64(0), b.FrameCount())
	assert.Equal(t, prev, b.Params())
	assert.Equal(t, before, b.Snapshot())
	require.Len(t, dev.uploads, 1, "device buffer must be rewritten from the committed state")
	assert.Equal(t, PackParticles(before), dev.uploads[0])
}

func TestFinishFrame_NonFiniteRestoresDevice(t *testing.T) {
	dev := &fakeDevice{result: core.InitParticles(3, 3, 1)}
	dev.result[7].Position[0] = float32(math.Inf(1))
	b := newFakeBackend(t, dev)
	before := b.Snapshot()

	err := b.finishFrame(b.params.Next(0.001), uint64(9*ParticleStride))
	require.ErrorIs(t, err, core.ErrNumericalInstability)

	var instab *core.InstabilityError
	require.ErrorAs(t, err, &instab)
	assert.Equal(t, 7, instab.Particle)
	assert.Equal(t, 3, instab.Substep)
	assert.Equal(t, uint64(1), instab.Frame)

	assert.Equal(t, before, b.Snapshot())
	require.Len(t, dev.uploads, 1)
	assert.Equal(t, PackParticles(before), dev.uploads[0])
}

func TestFinishFrame_ReportsFailedRestore(t *testing.T) {
	dev := &fakeDevice{readErr: errors.New("map failed"), uploadErr: errors.New("queue gone")}
	b := newFakeBackend(t, dev)

	err := b.finishFrame(b.params.Next(0.001), uint64(9*ParticleStride))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map failed")
	assert.Contains(t, err.Error(), "restore failed: queue gone")
}

func TestReset_UploadsInitialBuffer(t *testing.T) {
	dev := &fakeDevice{result: core.InitParticles(3, 3, 1)}
	dev.result[0].Velocity[2] = 1
	b := newFakeBackend(t, dev)
	require.NoError(t, b.finishFrame(b.params.Next(0.001), 0))

	require.NoError(t, b.Reset())
	assert.Equal(t, uint64(0), b.FrameCount())
	assert.Equal(t, b.initial, b.Snapshot())
	require.Len(t, dev.uploads, 1)
	assert.Equal(t, PackParticles(b.initial), dev.uploads[0])
}

func TestWaitMapped(t *testing.T) {
	polls := 0
	done := false
	err := waitMapped(func() {
		polls++
		done = polls == 3
	}, func() bool { return done }, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, polls)

	polls = 0
	err = waitMapped(func() { polls++ }, func() bool { return false }, 5)
	assert.Error(t, err, "a callback that never fires must not hang")
	assert.Equal(t, 5, polls)

	assert.NoError(t, waitMapped(func() { t.Fatal("no poll needed") }, func() bool { return true }, 5))
}
