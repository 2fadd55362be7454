package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/gekko3d/cloth/clothrt/shaders"
)

type Options struct {
	Substeps   int
	MaxFrameDt float32
	Logger     core.Logger
}

// Backend runs the force and integration passes as WebGPU compute shaders.
// Every substep is a pair of compute passes in one command encoder; the pass
// boundary orders the storage writes. The particle buffer is read back once
// per frame.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	forcePipeline      *wgpu.ComputePipeline
	integratePipeline  *wgpu.ComputePipeline
	forceBindGroup     *wgpu.BindGroup
	integrateBindGroup *wgpu.BindGroup

	paramsBuf   *wgpu.Buffer
	particleBuf *wgpu.Buffer
	springBuf   *wgpu.Buffer
	forceBuf    *wgpu.Buffer
	readbackBuf *wgpu.Buffer

	topo      *core.Topology
	params    core.Params
	substeps  int
	maxDt     float32
	initial   []core.Particle
	committed []core.Particle
	readback  []core.Particle
	frame     uint64
	log       core.Logger

	// read fills b.readback from the device; upload replaces the device particle buffer.
	read   func(size uint64) error
	upload func(data []byte) error
}

// NewBackend acquires a headless adapter, compiles the cloth shaders and uploads
// the initial buffers.
func NewBackend(particles []core.Particle, topo *core.Topology, params core.Params, opts Options) (*Backend, error) {
	if opts.Substeps <= 0 {
		return nil, &core.ConfigurationError{Field: "solver.substeps", Reason: fmt.Sprintf("must be positive, got %d", opts.Substeps)}
	}
	if err := topo.Validate(len(particles)); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		topo:      topo,
		params:    params,
		substeps:  opts.Substeps,
		maxDt:     opts.MaxFrameDt,
		initial:   core.CloneParticles(particles),
		committed: core.CloneParticles(particles),
		readback:  make([]core.Particle, len(particles)),
		log:       core.OrNop(opts.Logger),
	}
	if err := b.initDevice(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.createPipelines(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.createBuffers(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.createBindGroups(); err != nil {
		b.Close()
		return nil, err
	}
	b.read = b.readParticles
	b.upload = func(data []byte) error {
		return b.queue.WriteBuffer(b.particleBuf, 0, data)
	}
	b.log.Infof("cloth gpu backend: %d particles, %d springs, %d substeps", len(particles), len(topo.Springs), b.substeps)
	return b, nil
}

func (b *Backend) initDevice() error {
	b.instance = wgpu.CreateInstance(nil)

	adapter, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("requesting adapter: %w", err)
	}
	b.adapter = adapter

	b.device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("requesting device: %w", err)
	}
	b.queue = b.device.GetQueue()
	return nil
}

func (b *Backend) createPipelines() error {
	var err error
	b.forcePipeline, err = b.createComputePipeline("ClothForces", shaders.ClothForcesWGSL, "accumulate_forces")
	if err != nil {
		return err
	}
	b.integratePipeline, err = b.createComputePipeline("ClothIntegrate", shaders.ClothIntegrateWGSL, "integrate")
	return err
}

func (b *Backend) createComputePipeline(label, code, entryPoint string) (*wgpu.ComputePipeline, error) {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s shader module: %w", label, err)
	}
	defer module.Release()

	pipeline, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: label + "Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pipeline: %w", label, err)
	}
	return pipeline, nil
}

func (b *Backend) createBuffers() error {
	var err error
	count := len(b.committed)

	b.paramsBuf, err = b.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "ClothParams",
		Contents: PackParams(&b.params, count),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	b.particleBuf, err = b.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "ClothParticles",
		Contents: PackParticles(b.committed),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	b.springBuf, err = b.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "ClothSprings",
		Contents: PackSprings(b.topo.Springs),
		Usage:    wgpu.BufferUsageStorage,
	})
	if err != nil {
		return err
	}
	b.forceBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ClothForces",
		Size:  uint64(count * ForceStride),
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		return err
	}
	b.readbackBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ClothReadback",
		Size:  uint64(count * ParticleStride),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	return err
}

func (b *Backend) createBindGroups() error {
	forceLayout := b.forcePipeline.GetBindGroupLayout(0)
	defer forceLayout.Release()

	var err error
	b.forceBindGroup, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ClothForcesBG",
		Layout: forceLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.particleBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: b.springBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: b.forceBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}

	integrateLayout := b.integratePipeline.GetBindGroupLayout(0)
	defer integrateLayout.Release()

	b.integrateBindGroup, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ClothIntegrateBG",
		Layout: integrateLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.particleBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: b.forceBuf, Size: wgpu.WholeSize},
		},
	})
	return err
}

// Frame dispatches all substeps of one frame and reads the particles back. A
// failed readback or a non-finite result restores the previous buffer on the
// device. The check runs once per frame, so InstabilityError.Substep is always
// the last substep.
func (b *Backend) Frame(frameDt float32) error {
	if frameDt <= 0 {
		return nil
	}
	if b.maxDt > 0 && frameDt > b.maxDt {
		frameDt = b.maxDt
	}

	params := b.params.Next(frameDt / float32(b.substeps))
	count := len(b.committed)
	if err := b.queue.WriteBuffer(b.paramsBuf, 0, PackParams(&params, count)); err != nil {
		return fmt.Errorf("writing cloth params: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	workgroups := Workgroups(count)
	for s := 0; s < b.substeps; s++ {
		forcePass := encoder.BeginComputePass(nil)
		forcePass.SetPipeline(b.forcePipeline)
		forcePass.SetBindGroup(0, b.forceBindGroup, nil)
		forcePass.DispatchWorkgroups(workgroups, 1, 1)
		forcePass.End()

		integratePass := encoder.BeginComputePass(nil)
		integratePass.SetPipeline(b.integratePipeline)
		integratePass.SetBindGroup(0, b.integrateBindGroup, nil)
		integratePass.DispatchWorkgroups(workgroups, 1, 1)
		integratePass.End()
	}
	size := uint64(count * ParticleStride)
	encoder.CopyBufferToBuffer(b.particleBuf, 0, b.readbackBuf, 0, size)

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer cmdBuf.Release()
	b.queue.Submit(cmdBuf)

	return b.finishFrame(params, size)
}

// finishFrame reads the dispatched frame back and commits it. When the
// readback fails or holds a non-finite particle, the device buffer is restored
// to the committed state so the next frame starts from it.
func (b *Backend) finishFrame(params core.Params, size uint64) error {
	if err := b.read(size); err != nil {
		b.log.Warnf("cloth gpu backend: readback failed: %v; restoring frame %d", err, b.frame)
		return b.restore(fmt.Errorf("reading cloth particles: %w", err))
	}

	for i := range b.readback {
		if !b.readback[i].Finite() {
			instab := &core.InstabilityError{Frame: b.frame + 1, Substep: b.substeps - 1, Particle: i}
			b.log.Warnf("cloth gpu backend: %v; restoring frame %d", instab, b.frame)
			return b.restore(instab)
		}
	}

	b.committed, b.readback = b.readback, b.committed
	b.params = params
	b.frame++
	return nil
}

func (b *Backend) restore(cause error) error {
	if err := b.upload(PackParticles(b.committed)); err != nil {
		return fmt.Errorf("%w (restore failed: %v)", cause, err)
	}
	return cause
}

// maxMapPolls bounds the wait for a readback mapping. Poll blocks until the
// queue drains, so a healthy device maps within a few iterations.
const maxMapPolls = 1000

func (b *Backend) readParticles(size uint64) error {
	var done atomic.Bool
	status := wgpu.BufferMapAsyncStatusSuccess
	err := b.readbackBuf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done.Store(true)
	})
	if err != nil {
		return fmt.Errorf("mapping cloth readback buffer: %w", err)
	}
	if err := waitMapped(func() { b.device.Poll(true, nil) }, done.Load, maxMapPolls); err != nil {
		return err
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("mapping cloth readback buffer failed: %v", status)
	}
	defer b.readbackBuf.Unmap()

	data := b.readbackBuf.GetMappedRange(0, uint(size))
	return UnpackParticles(data, b.readback)
}

func waitMapped(poll func(), done func() bool, limit int) error {
	for i := 0; i < limit; i++ {
		if done() {
			return nil
		}
		poll()
	}
	if done() {
		return nil
	}
	return fmt.Errorf("readback not mapped after %d polls", limit)
}

func (b *Backend) Particles() []core.Particle {
	return b.committed
}

func (b *Backend) Snapshot() []core.Particle {
	return core.CloneParticles(b.committed)
}

func (b *Backend) Topology() *core.Topology {
	return b.topo
}

func (b *Backend) Params() core.Params {
	return b.params
}

func (b *Backend) FrameCount() uint64 {
	return b.frame
}

// Reset uploads the initial particle buffer again.
func (b *Backend) Reset() error {
	copy(b.committed, b.initial)
	b.frame = 0
	return b.upload(PackParticles(b.committed))
}

func (b *Backend) Close() {
	for _, bg := range []*wgpu.BindGroup{b.forceBindGroup, b.integrateBindGroup} {
		if bg != nil {
			bg.Release()
		}
	}
	for _, buf := range []*wgpu.Buffer{b.paramsBuf, b.particleBuf, b.springBuf, b.forceBuf, b.readbackBuf} {
		if buf != nil {
			buf.Release()
		}
	}
	for _, p := range []*wgpu.ComputePipeline{b.forcePipeline, b.integratePipeline} {
		if p != nil {
			p.Release()
		}
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
	b.forceBindGroup, b.integrateBindGroup = nil, nil
	b.paramsBuf, b.particleBuf, b.springBuf, b.forceBuf, b.readbackBuf = nil, nil, nil, nil, nil
	b.forcePipeline, b.integratePipeline = nil, nil
	b.queue, b.device, b.adapter, b.instance = nil, nil, nil, nil
}
