package solver

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
)

var ErrBusy = errors.New("cloth driver is already substepping")

// State of the substep driver between and during frames.
type State int32

const (
	Idle State = iota
	Substepping
)

func (s State) String() string {
	if s == Substepping {
		return "substepping"
	}
	return "idle"
}

type Options struct {
	Substeps int
	// Workers defaults to GOMAXPROCS.
	Workers int
	// ParallelThreshold is the particle count below which passes run inline.
	ParallelThreshold int
	// MaxFrameDt caps the frame time fed to a single Frame call. Zero disables the cap.
	MaxFrameDt float32
	Logger     core.Logger
}

// FrameStats describes the last committed frame.
type FrameStats struct {
	Frame         uint64
	Substeps      int
	Dt            float32
	ForceTime     time.Duration
	IntegrateTime time.Duration
	Total         time.Duration
}

// Driver advances a cloth by whole frames. Every frame runs Substeps pairs of
// barrier-separated passes on a working copy; the copy replaces the visible
// buffer only if all substeps stayed finite.
type Driver struct {
	topo     *core.Topology
	params   core.Params
	substeps int
	maxDt    float32

	initial   []core.Particle
	committed []core.Particle
	work      []core.Particle
	forces    []mgl32.Vec3

	pool  *workerPool
	state atomic.Int32
	frame uint64
	stats FrameStats
	log   core.Logger
}

func NewDriver(particles []core.Particle, topo *core.Topology, params core.Params, opts Options) (*Driver, error) {
	if opts.Substeps <= 0 {
		return nil, &core.ConfigurationError{Field: "solver.substeps", Reason: fmt.Sprintf("must be positive, got %d", opts.Substeps)}
	}
	if err := topo.Validate(len(particles)); err != nil {
		return nil, err
	}
	if err := topo.Grid.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		topo:      topo,
		params:    params,
		substeps:  opts.Substeps,
		maxDt:     opts.MaxFrameDt,
		initial:   core.CloneParticles(particles),
		committed: core.CloneParticles(particles),
		work:      make([]core.Particle, len(particles)),
		forces:    make([]mgl32.Vec3, len(particles)),
		pool:      newWorkerPool(opts.Workers, opts.ParallelThreshold),
		log:       core.OrNop(opts.Logger),
	}
	d.log.Debugf("cloth driver: %d particles, %d springs, %d substeps, %d workers",
		len(particles), len(topo.Springs), d.substeps, d.pool.numWorkers)
	return d, nil
}

// Frame advances the cloth by frameDt seconds split into the configured number
// of substeps. On instability the visible buffer keeps the previous frame and an
// *core.InstabilityError is returned.
func (d *Driver) Frame(frameDt float32) error {
	if !d.state.CompareAndSwap(int32(Idle), int32(Substepping)) {
		return ErrBusy
	}
	defer d.state.Store(int32(Idle))

	if frameDt <= 0 {
		return nil
	}
	if d.maxDt > 0 && frameDt > d.maxDt {
		d.log.Debugf("cloth driver: frame dt %.4fs capped to %.4fs", frameDt, d.maxDt)
		frameDt = d.maxDt
	}

	start := time.Now()
	params := d.params.Next(frameDt / float32(d.substeps))
	copy(d.work, d.committed)

	n := len(d.work)
	forcePass := func(i0, i1 int) int {
		accumulateForces(i0, i1, d.work, d.topo, &params, d.forces)
		return -1
	}
	integratePass := func(i0, i1 int) int {
		return integrateParticles(i0, i1, d.work, d.forces, &params)
	}

	var forceTime, integrateTime time.Duration
	for s := 0; s < d.substeps; s++ {
		t0 := time.Now()
		d.pool.run(n, forcePass)
		t1 := time.Now()
		unstable := d.pool.run(n, integratePass)
		integrateTime += time.Since(t1)
		forceTime += t1.Sub(t0)

		if unstable >= 0 {
			err := &core.InstabilityError{Frame: d.frame + 1, Substep: s, Particle: unstable}
			d.log.Warnf("cloth driver: %v; keeping frame %d", err, d.frame)
			return err
		}
	}

	d.committed, d.work = d.work, d.committed
	d.params = params
	d.frame++
	d.stats = FrameStats{
		Frame:         d.frame,
		Substeps:      d.substeps,
		Dt:            params.Dt,
		ForceTime:     forceTime,
		IntegrateTime: integrateTime,
		Total:         time.Since(start),
	}
	return nil
}

// Particles returns the committed buffer. It is only valid until the next Frame call.
func (d *Driver) Particles() []core.Particle {
	return d.committed
}

// Snapshot returns a copy of the committed buffer.
func (d *Driver) Snapshot() []core.Particle {
	return core.CloneParticles(d.committed)
}

func (d *Driver) Topology() *core.Topology {
	return d.topo
}

func (d *Driver) Params() core.Params {
	return d.params
}

// SetParams replaces the parameters used from the next frame on. The substep
// dt is recomputed by Frame, so p.Dt is ignored.
func (d *Driver) SetParams(p core.Params) error {
	if d.State() != Idle {
		return ErrBusy
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.Version = d.params.Version
	d.params = p.Next(d.params.Dt)
	return nil
}

func (d *Driver) Substeps() int {
	return d.substeps
}

func (d *Driver) FrameCount() uint64 {
	return d.frame
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) Stats() FrameStats {
	return d.stats
}

// Reset restores the particle buffer the driver was created with.
func (d *Driver) Reset() error {
	if d.State() != Idle {
		return ErrBusy
	}
	copy(d.committed, d.initial)
	d.frame = 0
	d.stats = FrameStats{}
	return nil
}

// Close stops the worker goroutines.
func (d *Driver) Close() {
	d.pool.stop()
}

// Step advances a copy of particles by one frame of frameDt seconds split into
// substeps. The input buffer is never modified.
func Step(particles []core.Particle, topo *core.Topology, params core.Params, frameDt float32, substeps int) ([]core.Particle, error) {
	d, err := NewDriver(particles, topo, params, Options{Substeps: substeps})
	if err != nil {
		return nil, err
	}
	defer d.Close()

	if err := d.Frame(frameDt); err != nil {
		return nil, err
	}
	return d.Particles(), nil
}
