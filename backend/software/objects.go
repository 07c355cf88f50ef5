package software

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi/backend"
)

type kind int

const (
	kindCmdBuffer kind = iota
	kindFence
	kindSemaphore
	kindShaderModule
	kindPipeline
	kindBindingSet
	kindTexture
	kindBuffer
	kindSampler
	numKinds
)

// Counts reports live (created and not destroyed) objects per kind.
type Counts struct {
	CmdBuffers    int
	Fences        int
	Semaphores    int
	ShaderModules int
	Pipelines     int
	BindingSets   int
	Textures      int
	Buffers       int
	Samplers      int
}

// Total returns the number of live objects of every kind.
func (c Counts) Total() int {
	return c.CmdBuffers + c.Fences + c.Semaphores + c.ShaderModules +
		c.Pipelines + c.BindingSets + c.Textures + c.Buffers + c.Samplers
}

// object is the lifetime bookkeeping shared by every emulated handle.
type object struct {
	gpu       *GPU
	kind      kind
	destroyed atomic.Bool
}

func (o *object) init(g *GPU, k kind) {
	o.gpu = g
	o.kind = k
	g.live[k].Add(1)
}

// Destroy releases the object. Destroying twice has no effect.
func (o *object) Destroy() {
	if o.destroyed.CompareAndSwap(false, true) {
		o.gpu.live[o.kind].Add(-1)
	}
}

// Destroyed reports whether Destroy was called.
func (o *object) Destroyed() bool {
	return o.destroyed.Load()
}

// Fence is an emulated fence.
type Fence struct {
	object

	mu       sync.Mutex
	signaled bool
	pending  bool
	done     chan struct{}
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *Fence) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Signaled reports whether the fence is signaled.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

// Semaphore is an emulated binary semaphore. Signals are counted so a
// wait on a semaphore nothing signaled can be reported.
type Semaphore struct {
	object
	count atomic.Int64
}

// ShaderModule is an emulated shader module.
type ShaderModule struct {
	object
	desc backend.ShaderModuleDescriptor
}

// Label returns the module label.
func (m *ShaderModule) Label() string { return m.desc.Label }

// Pipeline is an emulated compiled pipeline.
type Pipeline struct {
	object
	desc backend.PipelineDescriptor
}

// Label returns the pipeline label.
func (p *Pipeline) Label() string { return p.desc.Label }

// Descriptor returns the descriptor the pipeline was compiled from.
func (p *Pipeline) Descriptor() backend.PipelineDescriptor { return p.desc }

// Layout returns the pipeline's binding layout.
func (p *Pipeline) Layout() []backend.BindingLayoutEntry {
	return append([]backend.BindingLayoutEntry(nil), p.desc.Bindings...)
}

func (p *Pipeline) layoutEntry(binding uint32) (backend.BindingLayoutEntry, bool) {
	for _, e := range p.desc.Bindings {
		if e.Binding == binding {
			return e, true
		}
	}
	return backend.BindingLayoutEntry{}, false
}

// BindingSet is an emulated resolved binding set.
type BindingSet struct {
	object
	pipeline *Pipeline
	entries  []backend.BindingEntry
}

// Entries returns the resources the set was resolved with.
func (s *BindingSet) Entries() []backend.BindingEntry {
	return append([]backend.BindingEntry(nil), s.entries...)
}

// Entry returns the entry for binding, if present.
func (s *BindingSet) Entry(binding uint32) (backend.BindingEntry, bool) {
	for _, e := range s.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return backend.BindingEntry{}, false
}

// Texture is emulated image memory. It tracks the true layout of every
// mip level as of the last executed submission.
type Texture struct {
	object
	desc backend.TextureDescriptor

	mu      sync.Mutex
	layouts []backend.ImageLayout
	data    [][]byte
}

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() backend.TextureDescriptor { return t.desc }

// Layout returns the device-side layout of a mip level.
func (t *Texture) Layout(mip uint32) backend.ImageLayout {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(mip) >= len(t.layouts) {
		return backend.ImageLayoutUndefined
	}
	return t.layouts[mip]
}

// Data returns a copy of the last bytes copied into a mip level.
func (t *Texture) Data(mip uint32) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(mip) >= len(t.data) {
		return nil
	}
	return append([]byte(nil), t.data[mip]...)
}

// Buffer is emulated buffer memory.
type Buffer struct {
	object
	desc backend.BufferDescriptor

	mu   sync.Mutex
	data []byte
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Label returns the buffer label.
func (b *Buffer) Label() string { return b.desc.Label }

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Sampler is an emulated sampler.
type Sampler struct {
	object
	desc backend.SamplerDescriptor
}

// Descriptor returns the descriptor the sampler was created with.
func (s *Sampler) Descriptor() backend.SamplerDescriptor { return s.desc }
