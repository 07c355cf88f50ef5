package software

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rhi/backend"
)

// ErrFenceInUse is returned when a fence referenced by a pending
// submission is reset or submitted again.
var ErrFenceInUse = errors.New("software: fence in use by a pending submission")

// Submission is a retired submission kept for inspection.
type Submission struct {
	Label    string
	Commands []Command
}

type submission struct {
	cmd      *CmdBuffer
	commands []Command
	wait     []*Semaphore
	signal   []*Semaphore
	fence    *Fence
}

// GPU is an emulated device. It is safe for concurrent use.
type GPU struct {
	opts options
	log  atomic.Pointer[slog.Logger]

	live     [numKinds]atomic.Int64
	compiles atomic.Int64

	// qmu guards closed against concurrent sends on queue.
	qmu    sync.RWMutex
	closed bool

	mu         sync.Mutex
	lost       bool
	failSubmit error
	failBegin  error
	failEnd    error
	pending    []*submission
	history    []Submission
	validation []string
	inflight   int
	idle       *sync.Cond

	queue chan *submission
	done  chan struct{}
}

var _ backend.GPU = (*GPU)(nil)

// New creates an emulated GPU. Unless WithManualRetire is given, a queue
// goroutine executes submissions until Close.
func New(opts ...Option) *GPU {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	g := &GPU{opts: o}
	g.log.Store(slogger())
	g.idle = sync.NewCond(&g.mu)

	if !o.manual {
		g.queue = make(chan *submission, 64)
		g.done = make(chan struct{})
		go g.run()
	}
	return g
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
func (g *GPU) Name() string { return backend.BackendSoftware }

// Limits returns the configured limits.
func (g *GPU) Limits() backend.Limits { return g.opts.limits }

// Live returns the number of live objects per kind.
func (g *GPU) Live() Counts {
	return Counts{
		CmdBuffers:    int(g.live[kindCmdBuffer].Load()),
		Fences:        int(g.live[kindFence].Load()),
		Semaphores:    int(g.live[kindSemaphore].Load()),
		ShaderModules: int(g.live[kindShaderModule].Load()),
		Pipelines:     int(g.live[kindPipeline].Load()),
		BindingSets:   int(g.live[kindBindingSet].Load()),
		Textures:      int(g.live[kindTexture].Load()),
		Buffers:       int(g.live[kindBuffer].Load()),
		Samplers:      int(g.live[kindSampler].Load()),
	}
}

// PipelinesCompiled returns the number of NewPipeline calls that succeeded.
func (g *GPU) PipelinesCompiled() int { return int(g.compiles.Load()) }

// ValidationErrors returns the problems detected so far.
func (g *GPU) ValidationErrors() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.validation...)
}

// History returns retired submissions, oldest first.
func (g *GPU) History() []Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Submission(nil), g.history...)
}

// ClearHistory drops retained submissions and validation errors.
func (g *GPU) ClearHistory() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
	g.validation = nil
}

// FailNextSubmit makes the next Submit return err without executing.
func (g *GPU) FailNextSubmit(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSubmit = err
}

// FailNextBegin makes the next CmdBuffer.Begin return err and leave the
// buffer in its initial state.
func (g *GPU) FailNextBegin(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failBegin = err
}

// FailNextEnd makes the next CmdBuffer.End return err and leave the
// buffer recording.
func (g *GPU) FailNextEnd(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failEnd = err
}

// takeFailure returns and clears an injected failure.
func (g *GPU) takeFailure(slot *error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := *slot
	*slot = nil
	return err
}

// LoseDevice makes every subsequent wait and submission fail with
// backend.ErrDeviceLost.
func (g *GPU) LoseDevice() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lost = true
}

func (g *GPU) reportf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	g.logger().Warn("software: validation", "error", msg)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.validation = append(g.validation, msg)
}

// NewCmdBuffer allocates a command buffer.
func (g *GPU) NewCmdBuffer(label string) (backend.CmdBuffer, error) {
	c := &CmdBuffer{label: label}
	c.init(g, kindCmdBuffer)
	return c, nil
}

// NewFence creates an unsignaled fence.
func (g *GPU) NewFence() (backend.Fence, error) {
	f := &Fence{done: make(chan struct{})}
	f.init(g, kindFence)
	return f, nil
}

// NewSemaphore creates a semaphore.
func (g *GPU) NewSemaphore() (backend.Semaphore, error) {
	s := &Semaphore{}
	s.init(g, kindSemaphore)
	return s, nil
}

// NewShaderModule creates a shader module. Source is kept, not compiled.
func (g *GPU) NewShaderModule(desc *backend.ShaderModuleDescriptor) (backend.ShaderModule, error) {
	if desc == nil || (desc.WGSL == "" && len(desc.SPIRV) == 0) {
		return nil, errors.New("software: shader module without source")
	}
	m := &ShaderModule{desc: *desc}
	m.init(g, kindShaderModule)
	return m, nil
}

// NewPipeline compiles a pipeline.
func (g *GPU) NewPipeline(desc *backend.PipelineDescriptor) (backend.Pipeline, error) {
	if desc == nil {
		return nil, errors.New("software: nil pipeline descriptor")
	}
	if vs, ok := desc.Vertex.(*ShaderModule); !ok || vs == nil || vs.Destroyed() {
		return nil, fmt.Errorf("software: pipeline %q: %w: vertex module", desc.Label, backend.ErrInvalidHandle)
	}
	if desc.Fragment != nil {
		if fs, ok := desc.Fragment.(*ShaderModule); !ok || fs == nil || fs.Destroyed() {
			return nil, fmt.Errorf("software: pipeline %q: %w: fragment module", desc.Label, backend.ErrInvalidHandle)
		}
	}
	if uint32(len(desc.Bindings)) > g.opts.limits.MaxBindings {
		return nil, fmt.Errorf("software: pipeline %q: %d bindings exceed limit %d",
			desc.Label, len(desc.Bindings), g.opts.limits.MaxBindings)
	}
	if uint32(len(desc.Targets)) > g.opts.limits.MaxColorAttachments {
		return nil, fmt.Errorf("software: pipeline %q: %d targets exceed limit %d",
			desc.Label, len(desc.Targets), g.opts.limits.MaxColorAttachments)
	}

	if g.opts.compileDelay > 0 {
		time.Sleep(g.opts.compileDelay)
	}

	d := *desc
	d.VertexBuffers = append(d.VertexBuffers[:0:0], desc.VertexBuffers...)
	d.Targets = append(d.Targets[:0:0], desc.Targets...)
	d.Bindings = append(d.Bindings[:0:0], desc.Bindings...)

	p := &Pipeline{desc: d}
	p.init(g, kindPipeline)
	g.compiles.Add(1)
	g.logger().Debug("software: pipeline compiled", "label", desc.Label)
	return p, nil
}

// NewBindingSet resolves entries against a pipeline's layout. Every entry
// must name a declared binding of the matching kind and carry a live
// resource.
func (g *GPU) NewBindingSet(p backend.Pipeline, entries []backend.BindingEntry) (backend.BindingSet, error) {
	sp, ok := p.(*Pipeline)
	if !ok || sp == nil || sp.Destroyed() {
		return nil, fmt.Errorf("software: binding set: %w: pipeline", backend.ErrInvalidHandle)
	}

	for _, e := range entries {
		le, ok := sp.layoutEntry(e.Binding)
		if !ok {
			return nil, fmt.Errorf("software: binding %d not declared by pipeline %q", e.Binding, sp.desc.Label)
		}
		if le.Kind != e.Kind {
			return nil, fmt.Errorf("software: binding %d is %s, got %s", e.Binding, le.Kind, e.Kind)
		}
		if err := checkEntryResource(e); err != nil {
			return nil, err
		}
	}

	s := &BindingSet{pipeline: sp, entries: append([]backend.BindingEntry(nil), entries...)}
	s.init(g, kindBindingSet)
	return s, nil
}

func checkEntryResource(e backend.BindingEntry) error {
	var live bool
	switch e.Kind {
	case backend.BindingUniformBuffer:
		b, ok := e.Buffer.(*Buffer)
		live = ok && b != nil && !b.Destroyed()
	case backend.BindingSampler:
		s, ok := e.Sampler.(*Sampler)
		live = ok && s != nil && !s.Destroyed()
	case backend.BindingTexture, backend.BindingStorageTexture:
		t, ok := e.Texture.(*Texture)
		live = ok && t != nil && !t.Destroyed()
	}
	if !live {
		return fmt.Errorf("software: binding %d (%s): %w", e.Binding, e.Kind, backend.ErrInvalidHandle)
	}
	return nil
}

// NewTexture allocates a texture in the undefined layout.
func (g *GPU) NewTexture(desc *backend.TextureDescriptor) (backend.Texture, error) {
	if desc == nil {
		return nil, errors.New("software: nil texture descriptor")
	}
	d := *desc
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	lim := g.opts.limits
	if d.Width == 0 || d.Height == 0 || d.Width > lim.MaxTextureDimension || d.Height > lim.MaxTextureDimension {
		return nil, fmt.Errorf("software: texture %q: invalid size %dx%d", d.Label, d.Width, d.Height)
	}
	if d.MipLevelCount > lim.MaxMipLevels {
		return nil, fmt.Errorf("software: texture %q: %d mip levels exceed limit %d", d.Label, d.MipLevelCount, lim.MaxMipLevels)
	}

	t := &Texture{
		desc:    d,
		layouts: make([]backend.ImageLayout, d.MipLevelCount),
		data:    make([][]byte, d.MipLevelCount),
	}
	t.init(g, kindTexture)
	return t, nil
}

// NewBuffer allocates a zeroed buffer.
func (g *GPU) NewBuffer(desc *backend.BufferDescriptor) (backend.Buffer, error) {
	if desc == nil || desc.Size == 0 {
		return nil, errors.New("software: buffer must have a non-zero size")
	}
	b := &Buffer{desc: *desc, data: make([]byte, desc.Size)}
	b.init(g, kindBuffer)
	return b, nil
}

// NewSampler creates a sampler.
func (g *GPU) NewSampler(desc *backend.SamplerDescriptor) (backend.Sampler, error) {
	if desc == nil {
		return nil, errors.New("software: nil sampler descriptor")
	}
	s := &Sampler{desc: *desc}
	s.init(g, kindSampler)
	return s, nil
}

// WriteBuffer copies data into a buffer.
func (g *GPU) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	sb, ok := b.(*Buffer)
	if !ok || sb == nil || sb.Destroyed() {
		return fmt.Errorf("software: write buffer: %w", backend.ErrInvalidHandle)
	}
	if offset+uint64(len(data)) > sb.desc.Size {
		return fmt.Errorf("software: write of %d bytes at %d overflows buffer %q (%d bytes)",
			len(data), offset, sb.desc.Label, sb.desc.Size)
	}

	sb.mu.Lock()
	copy(sb.data[offset:], data)
	sb.mu.Unlock()
	return nil
}

// Submit schedules an ended command buffer.
func (g *GPU) Submit(info *backend.SubmitInfo) error {
	if info == nil {
		return errors.New("software: nil submit info")
	}
	cb, ok := info.CmdBuffer.(*CmdBuffer)
	if !ok || cb == nil {
		return fmt.Errorf("software: submit: %w: command buffer", backend.ErrInvalidHandle)
	}

	s := &submission{cmd: cb}
	for _, w := range info.Wait {
		sem, ok := w.(*Semaphore)
		if !ok || sem == nil {
			return fmt.Errorf("software: submit: %w: wait semaphore", backend.ErrInvalidHandle)
		}
		s.wait = append(s.wait, sem)
	}
	for _, sig := range info.Signal {
		sem, ok := sig.(*Semaphore)
		if !ok || sem == nil {
			return fmt.Errorf("software: submit: %w: signal semaphore", backend.ErrInvalidHandle)
		}
		s.signal = append(s.signal, sem)
	}
	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok || f == nil {
			return fmt.Errorf("software: submit: %w: fence", backend.ErrInvalidHandle)
		}
		s.fence = f
	}

	g.qmu.RLock()
	defer g.qmu.RUnlock()
	if g.closed {
		return backend.ErrNotInitialized
	}

	g.mu.Lock()
	if g.lost {
		g.mu.Unlock()
		return backend.ErrDeviceLost
	}
	if err := g.failSubmit; err != nil {
		g.failSubmit = nil
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	if s.fence != nil {
		s.fence.mu.Lock()
		busy := s.fence.pending || s.fence.signaled
		if !busy {
			s.fence.pending = true
		}
		s.fence.mu.Unlock()
		if busy {
			return ErrFenceInUse
		}
	}

	cmds, err := cb.markPending()
	if err != nil {
		if s.fence != nil {
			s.fence.mu.Lock()
			s.fence.pending = false
			s.fence.mu.Unlock()
		}
		return err
	}
	s.commands = cmds

	g.mu.Lock()
	g.inflight++
	if g.opts.manual {
		g.pending = append(g.pending, s)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.queue <- s
	return nil
}

// Pending returns the number of submissions waiting for Retire in
// manual mode.
func (g *GPU) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Retire executes the oldest pending submission in manual mode. It
// reports whether one was executed.
func (g *GPU) Retire() bool {
	g.mu.Lock()
	if len(g.pending) == 0 {
		g.mu.Unlock()
		return false
	}
	s := g.pending[0]
	g.pending = g.pending[1:]
	g.mu.Unlock()

	g.execute(s)
	return true
}

// Flush executes every pending submission in manual mode and returns
// how many were executed.
func (g *GPU) Flush() int {
	n := 0
	for g.Retire() {
		n++
	}
	return n
}

// WaitFence blocks until f is signaled or timeout elapses.
func (g *GPU) WaitFence(f backend.Fence, timeout time.Duration) error {
	sf, ok := f.(*Fence)
	if !ok || sf == nil {
		return fmt.Errorf("software: wait: %w", backend.ErrInvalidHandle)
	}
	g.mu.Lock()
	lost := g.lost
	g.mu.Unlock()
	if lost {
		return backend.ErrDeviceLost
	}

	done := sf.wait()
	if timeout <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return backend.ErrTimeout
	}
}

// FenceSignaled polls a fence.
func (g *GPU) FenceSignaled(f backend.Fence) (bool, error) {
	sf, ok := f.(*Fence)
	if !ok || sf == nil {
		return false, fmt.Errorf("software: poll: %w", backend.ErrInvalidHandle)
	}
	return sf.Signaled(), nil
}

// ResetFence returns a fence to the unsignaled state.
func (g *GPU) ResetFence(f backend.Fence) error {
	sf, ok := f.(*Fence)
	if !ok || sf == nil {
		return fmt.Errorf("software: reset: %w", backend.ErrInvalidHandle)
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.pending {
		return ErrFenceInUse
	}
	if sf.signaled {
		sf.signaled = false
		sf.done = make(chan struct{})
	}
	return nil
}

// WaitIdle blocks until every submission retired. In manual mode pending
// submissions are executed first.
func (g *GPU) WaitIdle() error {
	if g.opts.manual {
		g.Flush()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lost {
		return backend.ErrDeviceLost
	}
	for g.inflight > 0 {
		g.idle.Wait()
	}
	return nil
}

// Close drains the queue and stops the queue goroutine.
func (g *GPU) Close() {
	g.qmu.Lock()
	if g.closed {
		g.qmu.Unlock()
		return
	}
	g.closed = true
	g.qmu.Unlock()

	if g.opts.manual {
		g.Flush()
		return
	}
	close(g.queue)
	<-g.done
}

func (g *GPU) run() {
	defer close(g.done)
	for s := range g.queue {
		if g.opts.latency > 0 {
			time.Sleep(g.opts.latency)
		}
		g.execute(s)
	}
}

// execute applies a submission in order: semaphore waits, commands,
// then signals.
func (g *GPU) execute(s *submission) {
	for _, w := range s.wait {
		if w.count.Add(-1) < 0 {
			w.count.Add(1)
			g.reportf("%s: waits on an unsignaled semaphore", s.cmd.label)
		}
	}

	for i := range s.commands {
		g.apply(s.cmd.label, &s.commands[i])
	}

	s.cmd.retire()
	for _, sig := range s.signal {
		sig.count.Add(1)
	}

	g.mu.Lock()
	if g.opts.historyLimit > 0 {
		g.history = append(g.history, Submission{Label: s.cmd.label, Commands: s.commands})
		if over := len(g.history) - g.opts.historyLimit; over > 0 {
			g.history = append(g.history[:0:0], g.history[over:]...)
		}
	}
	g.inflight--
	if g.inflight == 0 {
		g.idle.Broadcast()
	}
	g.mu.Unlock()

	if s.fence != nil {
		s.fence.signal()
	}
	g.logger().Debug("software: submission retired", "label", s.cmd.label, "commands", len(s.commands))
}

// apply executes one command against emulated device state.
func (g *GPU) apply(label string, c *Command) {
	switch c.Op {
	case OpTransition:
		for _, b := range c.Barriers {
			t, ok := b.Texture.(*Texture)
			if !ok || t == nil {
				g.reportf("%s: transition of a foreign texture", label)
				continue
			}
			g.applyBarrier(label, t, b)
		}

	case OpCopyBufferToTexture:
		src := c.Buffer.Bytes()
		for _, r := range c.Regions {
			if got := c.Texture.Layout(r.MipLevel); got != backend.ImageLayoutTransferDst {
				g.reportf("%s: copy into %q mip %d in layout %s", label, c.Texture.desc.Label, r.MipLevel, got)
			}
			n := uint64(r.BytesPerRow) * uint64(r.Height)
			if r.BufferOffset+n > uint64(len(src)) {
				g.reportf("%s: copy region overflows staging buffer", label)
				continue
			}
			c.Texture.mu.Lock()
			if int(r.MipLevel) < len(c.Texture.data) {
				c.Texture.data[r.MipLevel] = append([]byte(nil), src[r.BufferOffset:r.BufferOffset+n]...)
			}
			c.Texture.mu.Unlock()
		}

	case OpBeginPass:
		for i, a := range c.Pass.Color {
			t, ok := a.Texture.(*Texture)
			if !ok || t == nil {
				g.reportf("%s: color attachment %d is not a texture", label, i)
				continue
			}
			if got := t.Layout(0); got != backend.ImageLayoutColorAttachment {
				g.reportf("%s: color attachment %q in layout %s", label, t.desc.Label, got)
			}
		}
		if d := c.Pass.Depth; d != nil {
			if t, ok := d.Texture.(*Texture); ok && t != nil {
				if got := t.Layout(0); got != backend.ImageLayoutDepthStencilAttachment {
					g.reportf("%s: depth attachment %q in layout %s", label, t.desc.Label, got)
				}
			}
		}

	case OpSetBindingSet:
		for _, e := range c.BindingSet.entries {
			t, ok := e.Texture.(*Texture)
			if !ok || t == nil {
				continue
			}
			want := backend.ImageLayoutShaderReadOnly
			if e.Kind == backend.BindingStorageTexture {
				want = backend.ImageLayoutGeneral
			}
			for mip := range t.desc.MipLevelCount {
				if got := t.Layout(mip); got != want {
					g.reportf("%s: texture %q mip %d bound in layout %s", label, t.desc.Label, mip, got)
					break
				}
			}
		}
	}
}

func (g *GPU) applyBarrier(label string, t *Texture, b backend.Barrier) {
	t.mu.Lock()
	defer t.mu.Unlock()

	end := b.BaseMip + b.MipCount
	if b.MipCount == 0 || int(end) > len(t.layouts) {
		g.reportf("%s: barrier on %q mips [%d,%d) out of range", label, t.desc.Label, b.BaseMip, end)
		return
	}
	for mip := b.BaseMip; mip < end; mip++ {
		if b.Old != backend.ImageLayoutUndefined && t.layouts[mip] != b.Old {
			g.reportf("%s: barrier on %q mip %d claims old layout %s, device has %s",
				label, t.desc.Label, mip, b.Old, t.layouts[mip])
		}
		t.layouts[mip] = b.New
	}
}
