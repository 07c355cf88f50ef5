// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
)

// waitForever is passed to hal waits that have no bound.
const waitForever = time.Duration(math.MaxInt64)

// GPU implements backend.GPU on a hal device and queue.
//
// Object creation and Submit are safe for concurrent use.
type GPU struct {
	opts options
	log  atomic.Pointer[slog.Logger]
	live atomic.Int64

	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	owned    bool

	// timeline is signaled with the value of each submission in order.
	timeline hal.Fence

	// qmu serializes queue access and guards the fields below.
	qmu       sync.Mutex
	submitted uint64
	lost      bool
	closed    bool
}

var _ backend.GPU = (*GPU)(nil)

func newGPU(device hal.Device, queue hal.Queue, o options) (*GPU, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("native: %w: nil device or queue", backend.ErrNotInitialized)
	}
	timeline, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create timeline fence: %w", err)
	}
	g := &GPU{opts: o, device: device, queue: queue, timeline: timeline}
	g.log.Store(slogger())
	return g, nil
}

// SetLogger sets the logger for this GPU. Pass nil to disable logging.
func (g *GPU) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	g.log.Store(l)
}

func (g *GPU) logger() *slog.Logger { return g.log.Load() }

// Name returns the backend name.
func (g *GPU) Name() string { return backend.BackendNative }

// Limits returns the configured limits.
func (g *GPU) Limits() backend.Limits { return g.opts.limits }

// Live returns the number of objects created and not yet destroyed.
func (g *GPU) Live() int { return int(g.live.Load()) }

// Device returns the underlying hal device.
func (g *GPU) Device() hal.Device { return g.device }

// NewCmdBuffer allocates a command buffer. The hal encoder is created on
// Begin.
func (g *GPU) NewCmdBuffer(label string) (backend.CmdBuffer, error) {
	g.live.Add(1)
	return &CmdBuffer{gpu: g, label: label}, nil
}

// NewFence creates an unsignaled fence.
func (g *GPU) NewFence() (backend.Fence, error) {
	g.live.Add(1)
	return &Fence{gpu: g}, nil
}

// NewSemaphore creates a semaphore.
func (g *GPU) NewSemaphore() (backend.Semaphore, error) {
	g.live.Add(1)
	return &Semaphore{gpu: g}, nil
}

// NewShaderModule creates a shader module, compiling WGSL to SPIR-V
// unless WithWGSLSource was given.
func (g *GPU) NewShaderModule(desc *backend.ShaderModuleDescriptor) (backend.ShaderModule, error) {
	if desc == nil || (desc.WGSL == "" && len(desc.SPIRV) == 0) {
		return nil, errors.New("native: shader module without source")
	}
	src, err := g.shaderSource(desc)
	if err != nil {
		return nil, err
	}
	raw, err := g.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: src,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create shader module %q: %w", desc.Label, err)
	}
	g.live.Add(1)
	return &ShaderModule{gpu: g, raw: raw}, nil
}

func (g *GPU) shaderModule(m backend.ShaderModule) (*ShaderModule, error) {
	sm, ok := m.(*ShaderModule)
	if !ok || sm == nil || sm.gpu != g {
		return nil, backend.ErrInvalidHandle
	}
	return sm, nil
}

// NewPipeline compiles a render pipeline with a single bind group layout.
func (g *GPU) NewPipeline(desc *backend.PipelineDescriptor) (backend.Pipeline, error) {
	if desc == nil {
		return nil, errors.New("native: nil pipeline descriptor")
	}
	vs, err := g.shaderModule(desc.Vertex)
	if err != nil {
		return nil, fmt.Errorf("native: pipeline %q: vertex shader: %w", desc.Label, err)
	}
	var fragment *hal.FragmentState
	if desc.Fragment != nil {
		fs, err := g.shaderModule(desc.Fragment)
		if err != nil {
			return nil, fmt.Errorf("native: pipeline %q: fragment shader: %w", desc.Label, err)
		}
		fragment = &hal.FragmentState{
			Module:     fs.raw,
			EntryPoint: desc.FragmentEntry,
			Targets:    desc.Targets,
		}
	}

	bgLayout, err := g.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + " bind layout",
		Entries: layoutEntries(desc.Bindings),
	})
	if err != nil {
		return nil, fmt.Errorf("native: pipeline %q: bind group layout: %w", desc.Label, err)
	}
	layout, err := g.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + " layout",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		g.device.DestroyBindGroupLayout(bgLayout)
		return nil, fmt.Errorf("native: pipeline %q: layout: %w", desc.Label, err)
	}

	samples := desc.SampleCount
	if samples == 0 {
		samples = 1
	}
	raw, err := g.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     vs.raw,
			EntryPoint: desc.VertexEntry,
			Buffers:    desc.VertexBuffers,
		},
		Primitive:    desc.Primitive,
		DepthStencil: depthStencilState(desc.DepthStencil),
		Multisample: gputypes.MultisampleState{
			Count: samples,
			Mask:  0xFFFFFFFF,
		},
		Fragment: fragment,
	})
	if err != nil {
		g.device.DestroyPipelineLayout(layout)
		g.device.DestroyBindGroupLayout(bgLayout)
		return nil, fmt.Errorf("native: create render pipeline %q: %w", desc.Label, err)
	}

	g.live.Add(1)
	g.logger().Debug("native: pipeline compiled", "label", desc.Label, "bindings", len(desc.Bindings))
	return &Pipeline{
		gpu:      g,
		raw:      raw,
		layout:   layout,
		bgLayout: bgLayout,
		bindings: append([]backend.BindingLayoutEntry(nil), desc.Bindings...),
	}, nil
}

// NewBindingSet creates a bind group against the pipeline's layout.
func (g *GPU) NewBindingSet(p backend.Pipeline, entries []backend.BindingEntry) (backend.BindingSet, error) {
	pl, ok := p.(*Pipeline)
	if !ok || pl == nil || pl.gpu != g {
		return nil, fmt.Errorf("native: binding set: %w: pipeline", backend.ErrInvalidHandle)
	}

	groupEntries := make([]gputypes.BindGroupEntry, 0, len(entries))
	for _, e := range entries {
		ge, err := bindGroupEntry(e)
		if err != nil {
			return nil, fmt.Errorf("native: binding set: binding %d: %w", e.Binding, err)
		}
		groupEntries = append(groupEntries, ge)
	}

	raw, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "rhi binding set",
		Layout:  pl.bgLayout,
		Entries: groupEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group: %w", err)
	}
	g.live.Add(1)
	return &BindingSet{gpu: g, raw: raw}, nil
}

func bindGroupEntry(e backend.BindingEntry) (gputypes.BindGroupEntry, error) {
	ge := gputypes.BindGroupEntry{Binding: e.Binding}
	switch e.Kind {
	case backend.BindingUniformBuffer:
		b, ok := e.Buffer.(*Buffer)
		if !ok || b == nil {
			return ge, backend.ErrInvalidHandle
		}
		size := e.Size
		if size == 0 {
			size = b.size - e.Offset
		}
		ge.Resource = gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: e.Offset, Size: size}
	case backend.BindingSampler:
		s, ok := e.Sampler.(*Sampler)
		if !ok || s == nil {
			return ge, backend.ErrInvalidHandle
		}
		ge.Resource = gputypes.SamplerBinding{Sampler: s.raw.NativeHandle()}
	case backend.BindingTexture, backend.BindingStorageTexture:
		t, ok := e.Texture.(*Texture)
		if !ok || t == nil {
			return ge, backend.ErrInvalidHandle
		}
		var (
			view hal.TextureView
			err  error
		)
		if e.Kind == backend.BindingStorageTexture {
			view, err = t.mipView(0)
		} else {
			view, err = t.sampledView()
		}
		if err != nil {
			return ge, err
		}
		ge.Resource = gputypes.TextureViewBinding{TextureView: view.NativeHandle()}
	default:
		return ge, fmt.Errorf("unknown binding kind %v", e.Kind)
	}
	return ge, nil
}

// NewTexture allocates a texture.
func (g *GPU) NewTexture(desc *backend.TextureDescriptor) (backend.Texture, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return nil, errors.New("native: invalid texture descriptor")
	}
	d := *desc
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	if d.Dimension == gputypes.TextureDimensionUndefined {
		d.Dimension = gputypes.TextureDimension2D
	}

	raw, err := g.device.CreateTexture(&hal.TextureDescriptor{
		Label:         d.Label,
		Size:          hal.Extent3D{Width: d.Width, Height: d.Height, DepthOrArrayLayers: d.DepthOrArrayLayers},
		MipLevelCount: d.MipLevelCount,
		SampleCount:   d.SampleCount,
		Dimension:     d.Dimension,
		Format:        d.Format,
		Usage:         d.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", d.Label, err)
	}
	g.live.Add(1)
	return &Texture{gpu: g, desc: d, raw: raw}, nil
}

// NewBuffer allocates a buffer. Every buffer is a copy destination so
// WriteBuffer can fill it.
func (g *GPU) NewBuffer(desc *backend.BufferDescriptor) (backend.Buffer, error) {
	if desc == nil || desc.Size == 0 {
		return nil, errors.New("native: invalid buffer descriptor")
	}
	raw, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	g.live.Add(1)
	return &Buffer{gpu: g, raw: raw, size: desc.Size}, nil
}

// NewSampler creates a sampler.
func (g *GPU) NewSampler(desc *backend.SamplerDescriptor) (backend.Sampler, error) {
	if desc == nil {
		return nil, errors.New("native: nil sampler descriptor")
	}
	raw, err := g.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
		Compare:      desc.Compare,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create sampler %q: %w", desc.Label, err)
	}
	g.live.Add(1)
	return &Sampler{gpu: g, raw: raw}, nil
}

// WriteBuffer copies data into a buffer through the queue.
func (g *GPU) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil || buf.gpu != g {
		return fmt.Errorf("native: write buffer: %w", backend.ErrInvalidHandle)
	}
	if offset+uint64(len(data)) > buf.size {
		return fmt.Errorf("native: write buffer: %d bytes at %d exceed size %d", len(data), offset, buf.size)
	}

	g.qmu.Lock()
	defer g.qmu.Unlock()
	if g.closed {
		return backend.ErrNotInitialized
	}
	g.queue.WriteBuffer(buf.raw, offset, data)
	return nil
}

// Submit queues an ended command buffer and signals the next timeline
// value when it completes.
func (g *GPU) Submit(info *backend.SubmitInfo) error {
	if info == nil {
		return errors.New("native: nil submit info")
	}
	cb, ok := info.CmdBuffer.(*CmdBuffer)
	if !ok || cb == nil || cb.gpu != g {
		return fmt.Errorf("native: submit: %w: command buffer", backend.ErrInvalidHandle)
	}
	var fence *Fence
	if info.Fence != nil {
		if fence, ok = info.Fence.(*Fence); !ok || fence == nil {
			return fmt.Errorf("native: submit: %w: fence", backend.ErrInvalidHandle)
		}
	}
	signal := make([]*Semaphore, 0, len(info.Signal))
	for _, s := range info.Signal {
		sem, ok := s.(*Semaphore)
		if !ok || sem == nil {
			return fmt.Errorf("native: submit: %w: signal semaphore", backend.ErrInvalidHandle)
		}
		signal = append(signal, sem)
	}
	for _, w := range info.Wait {
		sem, ok := w.(*Semaphore)
		if !ok || sem == nil {
			return fmt.Errorf("native: submit: %w: wait semaphore", backend.ErrInvalidHandle)
		}
		if sem.value.Load() == 0 {
			g.logger().Warn("native: submission waits on a semaphore nothing signaled", "label", cb.label)
		}
	}

	g.qmu.Lock()
	defer g.qmu.Unlock()
	if g.closed {
		return backend.ErrNotInitialized
	}
	if g.lost {
		return backend.ErrDeviceLost
	}

	raw, err := cb.executable()
	if err != nil {
		return err
	}
	if fence != nil {
		fence.mu.Lock()
		busy := fence.target != 0
		fence.mu.Unlock()
		if busy {
			return ErrFenceInUse
		}
	}

	value := g.submitted + 1
	if err := g.queue.Submit([]hal.CommandBuffer{raw}, g.timeline, value); err != nil {
		return fmt.Errorf("native: submit %q: %w", cb.label, err)
	}
	g.submitted = value

	cb.markPending(value)
	if fence != nil {
		fence.mu.Lock()
		fence.target = value
		fence.signaled = false
		fence.mu.Unlock()
	}
	for _, sem := range signal {
		sem.value.Store(value)
	}
	return nil
}

// reached polls or waits for the timeline to reach value.
func (g *GPU) reached(value uint64, timeout time.Duration) (bool, error) {
	ok, err := g.device.Wait(g.timeline, value, timeout)
	if err != nil {
		g.qmu.Lock()
		g.lost = true
		g.qmu.Unlock()
		g.logger().Error("native: fence wait failed", "value", value, "err", err)
		return false, fmt.Errorf("%w: %w", backend.ErrDeviceLost, err)
	}
	return ok, nil
}

func (g *GPU) isLost() bool {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	return g.lost
}

// WaitFence blocks until f is signaled or timeout elapses. A fence that
// was never submitted cannot signal; waiting on it times out at once.
func (g *GPU) WaitFence(f backend.Fence, timeout time.Duration) error {
	nf, ok := f.(*Fence)
	if !ok || nf == nil || nf.gpu != g {
		return fmt.Errorf("native: wait: %w", backend.ErrInvalidHandle)
	}
	if g.isLost() {
		return backend.ErrDeviceLost
	}
	target, signaled := nf.state()
	if signaled {
		return nil
	}
	if target == 0 {
		return backend.ErrTimeout
	}
	if timeout <= 0 {
		timeout = waitForever
	}
	done, err := g.reached(target, timeout)
	if err != nil {
		return err
	}
	if !done {
		return backend.ErrTimeout
	}
	nf.mu.Lock()
	if nf.target == target {
		nf.signaled = true
	}
	nf.mu.Unlock()
	return nil
}

// FenceSignaled polls f.
func (g *GPU) FenceSignaled(f backend.Fence) (bool, error) {
	nf, ok := f.(*Fence)
	if !ok || nf == nil || nf.gpu != g {
		return false, fmt.Errorf("native: poll: %w", backend.ErrInvalidHandle)
	}
	target, signaled := nf.state()
	if signaled || target == 0 {
		return signaled, nil
	}
	done, err := g.reached(target, 0)
	if err != nil || !done {
		return false, err
	}
	nf.mu.Lock()
	if nf.target == target {
		nf.signaled = true
	}
	nf.mu.Unlock()
	return true, nil
}

// ResetFence disarms a fence whose submission retired.
func (g *GPU) ResetFence(f backend.Fence) error {
	signaled, err := g.FenceSignaled(f)
	if err != nil {
		return err
	}
	nf := f.(*Fence)
	nf.mu.Lock()
	defer nf.mu.Unlock()
	if nf.target != 0 && !signaled {
		return ErrFenceInUse
	}
	nf.target = 0
	nf.signaled = false
	return nil
}

// WaitIdle blocks until the last submission retired, bounded by the idle
// timeout.
func (g *GPU) WaitIdle() error {
	g.qmu.Lock()
	last, lost := g.submitted, g.lost
	g.qmu.Unlock()
	if lost {
		return backend.ErrDeviceLost
	}
	if last == 0 {
		return nil
	}
	done, err := g.reached(last, g.opts.idleTimeout)
	if err != nil {
		return err
	}
	if !done {
		return backend.ErrTimeout
	}
	return nil
}

// Close waits for outstanding work and releases the timeline fence. An
// owned device and instance are destroyed as well.
func (g *GPU) Close() {
	g.qmu.Lock()
	if g.closed {
		g.qmu.Unlock()
		return
	}
	g.qmu.Unlock()

	if err := g.WaitIdle(); err != nil {
		g.logger().Warn("native: close without idle device", "err", err)
	}

	g.qmu.Lock()
	g.closed = true
	g.qmu.Unlock()

	g.device.DestroyFence(g.timeline)
	if n := g.live.Load(); n != 0 {
		g.logger().Warn("native: closing with live objects", "count", n)
	}
	if g.owned {
		g.device.Destroy()
		if g.instance != nil {
			g.instance.Destroy()
		}
	}
}
