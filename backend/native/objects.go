// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
)

// release runs fn once and updates the live object count.
type release struct {
	once sync.Once
}

func (r *release) do(g *GPU, fn func()) {
	r.once.Do(func() {
		if fn != nil {
			fn()
		}
		g.live.Add(-1)
	})
}

// Fence is a point on the device timeline. It is signaled once the
// timeline reaches the value of the submission that armed it.
type Fence struct {
	gpu *GPU
	rel release

	mu       sync.Mutex
	target   uint64 // 0 while not submitted
	signaled bool
}

// Destroy releases the fence.
func (f *Fence) Destroy() { f.rel.do(f.gpu, nil) }

func (f *Fence) state() (target uint64, signaled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, f.signaled
}

// Semaphore orders submissions. The backend submits on one queue, so
// ordering holds by construction; the semaphore records the timeline
// value of its last signal.
type Semaphore struct {
	gpu   *GPU
	rel   release
	value atomic.Uint64
}

// Destroy releases the semaphore.
func (s *Semaphore) Destroy() { s.rel.do(s.gpu, nil) }

// ShaderModule wraps a hal shader module.
type ShaderModule struct {
	gpu *GPU
	rel release
	raw hal.ShaderModule
}

// Destroy releases the shader module.
func (m *ShaderModule) Destroy() {
	m.rel.do(m.gpu, func() { m.gpu.device.DestroyShaderModule(m.raw) })
}

// Pipeline wraps a hal render pipeline with its layout objects.
type Pipeline struct {
	gpu      *GPU
	rel      release
	raw      hal.RenderPipeline
	layout   hal.PipelineLayout
	bgLayout hal.BindGroupLayout
	bindings []backend.BindingLayoutEntry
}

// Layout returns the binding layout the pipeline was compiled with.
func (p *Pipeline) Layout() []backend.BindingLayoutEntry { return p.bindings }

// Destroy releases the pipeline and its layouts.
func (p *Pipeline) Destroy() {
	p.rel.do(p.gpu, func() {
		d := p.gpu.device
		d.DestroyRenderPipeline(p.raw)
		d.DestroyPipelineLayout(p.layout)
		d.DestroyBindGroupLayout(p.bgLayout)
	})
}

// BindingSet wraps a hal bind group.
type BindingSet struct {
	gpu *GPU
	rel release
	raw hal.BindGroup
}

// Destroy releases the bind group.
func (s *BindingSet) Destroy() {
	s.rel.do(s.gpu, func() { s.gpu.device.DestroyBindGroup(s.raw) })
}

// Buffer wraps a hal buffer.
type Buffer struct {
	gpu  *GPU
	rel  release
	raw  hal.Buffer
	size uint64
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Destroy releases the buffer.
func (b *Buffer) Destroy() {
	b.rel.do(b.gpu, func() { b.gpu.device.DestroyBuffer(b.raw) })
}

// Sampler wraps a hal sampler.
type Sampler struct {
	gpu *GPU
	rel release
	raw hal.Sampler
}

// Destroy releases the sampler.
func (s *Sampler) Destroy() {
	s.rel.do(s.gpu, func() { s.gpu.device.DestroySampler(s.raw) })
}

var (
	_ backend.Fence        = (*Fence)(nil)
	_ backend.Semaphore    = (*Semaphore)(nil)
	_ backend.ShaderModule = (*ShaderModule)(nil)
	_ backend.Pipeline     = (*Pipeline)(nil)
	_ backend.BindingSet   = (*BindingSet)(nil)
	_ backend.Buffer       = (*Buffer)(nil)
	_ backend.Sampler      = (*Sampler)(nil)
)
