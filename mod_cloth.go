package cloth

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/gekko3d/cloth/clothrt/gpu"
	"github.com/gekko3d/cloth/clothrt/solver"
	"github.com/gekko3d/cloth/config"
)

// Stepper advances a cloth by whole frames. Both the CPU driver and the GPU
// backend implement it.
type Stepper interface {
	Frame(frameDt float32) error
	Snapshot() []core.Particle
	Topology() *core.Topology
	Params() core.Params
	FrameCount() uint64
	Reset() error
	Close()
}

var (
	_ Stepper = (*solver.Driver)(nil)
	_ Stepper = (*gpu.Backend)(nil)
)

// ClothFrame is an immutable published copy of one committed frame.
type ClothFrame struct {
	Frame     uint64
	Particles []core.Particle
	Params    core.Params
}

// ClothState is the resource installed by ClothModule.
type ClothState struct {
	Config  *config.Config
	Grid    core.Grid
	Backend string

	stepper Stepper
	latest  atomic.Pointer[ClothFrame]

	stopOnInstability bool
	lastErr           error
	instabilities     int
	lastFrameTime     time.Duration
	log               Logger
}

// NewClothState builds the topology and initial sheet from cfg and starts the
// configured backend. A GPU backend that cannot start falls back to the CPU driver.
func NewClothState(cfg *config.Config, log Logger) (*ClothState, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	grid := cfg.ParticleGrid()
	topo := core.BuildTopology(grid.Width, grid.Height, grid.Spacing)
	particles := core.InitParticlesOn(grid, cfg.Layout())
	params := cfg.Params()

	state := &ClothState{
		Config: cfg,
		Grid:   grid,
		log:    log,
	}

	backend := strings.ToLower(cfg.Solver.Backend)
	if backend == config.BackendGPU {
		b, err := gpu.NewBackend(particles, topo, params, gpu.Options{
			Substeps:   cfg.Solver.Substeps,
			MaxFrameDt: float32(cfg.Solver.MaxFrameDt),
			Logger:     log,
		})
		if err == nil {
			state.stepper = b
			state.Backend = config.BackendGPU
		} else if errors.Is(err, core.ErrConfiguration) {
			return nil, err
		} else {
			log.Warnf("GPU backend unavailable, falling back to CPU: %v", err)
		}
	}

	if state.stepper == nil {
		d, err := solver.NewDriver(particles, topo, params, solver.Options{
			Substeps:          cfg.Solver.Substeps,
			Workers:           cfg.Solver.Workers,
			ParallelThreshold: cfg.Solver.ParallelThreshold,
			MaxFrameDt:        float32(cfg.Solver.MaxFrameDt),
			Logger:            log,
		})
		if err != nil {
			return nil, err
		}
		state.stepper = d
		state.Backend = config.BackendCPU
	}

	state.publish()
	log.Infof("cloth %dx%d (%d springs) on %s backend, %d substeps per frame",
		grid.Width, grid.Height, len(topo.Springs), state.Backend, cfg.Solver.Substeps)
	return state, nil
}

// Step advances one frame and publishes it on success.
func (s *ClothState) Step(frameDt float32) error {
	start := time.Now()
	err := s.stepper.Frame(frameDt)
	s.lastFrameTime = time.Since(start)
	s.lastErr = err
	if err != nil {
		var instability *core.InstabilityError
		if errors.As(err, &instability) {
			s.instabilities++
		}
		return err
	}
	s.publish()
	return nil
}

func (s *ClothState) publish() {
	s.latest.Store(&ClothFrame{
		Frame:     s.stepper.FrameCount(),
		Particles: s.stepper.Snapshot(),
		Params:    s.stepper.Params(),
	})
}

// Latest returns the most recently committed frame. Safe for concurrent readers.
func (s *ClothState) Latest() *ClothFrame {
	return s.latest.Load()
}

func (s *ClothState) Stepper() Stepper {
	return s.stepper
}

// Diagnostics measures the latest committed frame.
func (s *ClothState) Diagnostics() solver.Diagnostics {
	f := s.Latest()
	return solver.Measure(f.Particles, s.stepper.Topology(), f.Params)
}

// Stats returns per-pass timings when the CPU driver is active.
func (s *ClothState) Stats() (solver.FrameStats, bool) {
	if d, ok := s.stepper.(*solver.Driver); ok {
		return d.Stats(), true
	}
	return solver.FrameStats{}, false
}

// LastError is the error of the most recent Step, nil after a committed frame.
func (s *ClothState) LastError() error {
	return s.lastErr
}

func (s *ClothState) Instabilities() int {
	return s.instabilities
}

func (s *ClothState) LastFrameTime() time.Duration {
	return s.lastFrameTime
}

// Reset restores the initial sheet and publishes it.
func (s *ClothState) Reset() error {
	if err := s.stepper.Reset(); err != nil {
		return err
	}
	s.lastErr = nil
	s.publish()
	return nil
}

func (s *ClothState) Close() {
	s.stepper.Close()
}

// ClothModule installs a *ClothState and steps it once per frame in the Update stage.
type ClothModule struct {
	Config *config.Config
	// StopOnInstability requests exit after the first rolled-back frame.
	StopOnInstability bool
}

func (mod ClothModule) Install(app *App, cmd *Commands) {
	state, err := NewClothState(mod.Config, app.Logger())
	if err != nil {
		panic(fmt.Sprintf("cloth module: %v", err))
	}
	state.stopOnInstability = mod.StopOnInstability
	cmd.AddResources(state)
	cmd.UseSystem(System(clothSystem).InStage(Update))
}

func clothSystem(state *ClothState, t *Time, cmd *Commands) {
	dt := t.Seconds()
	if dt <= 0 {
		return
	}
	err := state.Step(dt)
	if err == nil {
		return
	}
	if errors.Is(err, core.ErrNumericalInstability) {
		state.log.Warnf("frame rolled back: %v", err)
		if state.stopOnInstability {
			cmd.Exit()
		}
		return
	}
	state.log.Errorf("cloth step failed: %v", err)
}
