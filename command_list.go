// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// State is the recording state of a CommandList.
type State uint8

// CommandList states.
const (
	// StateIdle is the initial state. Begin opens a pass.
	StateIdle State = iota
	// StatePendingSync means the last submission may still be executing.
	// The next Begin waits for its frame slot only if it reuses it.
	StatePendingSync
	// StateRecording accepts draw, state-setting and binding calls.
	StateRecording
	// StateEnded means the pass is finalized and ready for Submit.
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePendingSync:
		return "PendingSync"
	case StateRecording:
		return "Recording"
	case StateEnded:
		return "Ended"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// maxVertexBuffers is the number of vertex buffer slots.
const maxVertexBuffers = 8

// Stats counts work recorded by a CommandList since creation.
type Stats struct {
	Frames         uint64 // successful submissions
	Draws          uint64
	Barriers       uint64 // transition instructions recorded
	BarriersElided uint64 // transitions that found every mip in place
	BindingUpdates uint64 // resolved binding sets bound
	PipelineBinds  uint64
	FenceWaits     uint64 // frame slots reclaimed after a submission
	PassesSkipped  uint64 // Begin calls without a vertex shader
	SubmitFailures uint64
	Discards       uint64
}

// frameSlot is one frame in flight: a command buffer with the fence and
// semaphore signaled by its submission.
type frameSlot struct {
	cmd       backend.CmdBuffer
	fence     backend.Fence
	semaphore backend.Semaphore
	inFlight  bool

	// pipelines used by the slot's last recording; their binding arenas
	// for the slot are reclaimed when the slot is reused.
	pipelines map[*Pipeline]struct{}
}

type passState uint8

const (
	passClosed passState = iota
	passOpen
	passSuspended
)

type vertexBinding struct {
	buffer *Buffer
	offset uint64
}

// CommandList records passes into N frame slots and submits them.
//
// Per frame:
//
//	ps := cl.PipelineState()
//	ps.VertexShader, ps.PixelShader = vs, fs
//	ps.SwapChain = sc
//	cl.Begin("main")
//	cl.SetTexture(0, albedo)
//	cl.Draw(3)
//	cl.End()
//	cl.Submit()
//
// Begin blocks only when the frame slot it reuses has not retired yet;
// no other call blocks. Calls made in the wrong state return an error
// wrapping ErrInvalidState, are logged and change nothing.
//
// A CommandList is used by one goroutine at a time. Several lists may
// record concurrently on the same Device.
type CommandList struct {
	id     uint64
	label  string
	device *Device
	cache  *PipelineCache
	gpu    backend.GPU
	log    *slog.Logger

	slots       []frameSlot
	bufferIndex int
	state       State
	destroyed   bool

	// ps is the description for the next Begin. cur is the description
	// of the pass being recorded.
	ps  PipelineState
	cur PipelineState

	pipeline   *Pipeline
	passName   string
	pass       passState
	fresh      bool
	swapChain  *SwapChain
	acquireSem backend.Semaphore

	bindings bindingTable
	vertex   [maxVertexBuffers]vertexBinding
	index    vertexBinding
	viewport backend.Viewport
	scissor  backend.Rect

	// journal holds the layouts textures had before this recording
	// transitioned them, restored when the recording is dropped unsubmitted.
	journal map[*Texture][]backend.ImageLayout

	stats Stats
}

var commandListIDCounter atomic.Uint64

// NewCommandList creates a CommandList with one command buffer, fence and
// semaphore per frame in flight.
func (d *Device) NewCommandList(label string) (*CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}

	cl := &CommandList{
		id:       commandListIDCounter.Add(1),
		label:    label,
		device:   d,
		cache:    d.cache,
		gpu:      d.gpu,
		log:      d.log,
		slots:    make([]frameSlot, d.cfg.FramesInFlight),
		ps:       NewPipelineState(),
		bindings: newBindingTable(d.cfg.MaxBindingSlots),
		journal:  make(map[*Texture][]backend.ImageLayout),
	}
	for i := range cl.slots {
		if err := cl.initSlot(i); err != nil {
			cl.releaseSlots()
			return nil, err
		}
	}

	d.addList(cl)
	d.log.Debug("rhi: command list created", "list", label, "frames", len(cl.slots))
	return cl, nil
}

func (cl *CommandList) initSlot(i int) error {
	s := &cl.slots[i]
	var err error
	if s.cmd, err = cl.gpu.NewCmdBuffer(fmt.Sprintf("%s[%d]", cl.label, i)); err != nil {
		return fmt.Errorf("rhi: command list %q slot %d: %w", cl.label, i, err)
	}
	if s.fence, err = cl.gpu.NewFence(); err != nil {
		return fmt.Errorf("rhi: command list %q slot %d fence: %w", cl.label, i, err)
	}
	if s.semaphore, err = cl.gpu.NewSemaphore(); err != nil {
		return fmt.Errorf("rhi: command list %q slot %d semaphore: %w", cl.label, i, err)
	}
	s.pipelines = make(map[*Pipeline]struct{})
	return nil
}

// ID returns the list's unique identifier.
func (cl *CommandList) ID() uint64 { return cl.id }

// Label returns the list's debug label.
func (cl *CommandList) Label() string { return cl.label }

// State returns the current state.
func (cl *CommandList) State() State { return cl.state }

// BufferIndex returns the active frame slot.
func (cl *CommandList) BufferIndex() int { return cl.bufferIndex }

// FramesInFlight returns the number of frame slots.
func (cl *CommandList) FramesInFlight() int { return len(cl.slots) }

// Stats returns the list's counters.
func (cl *CommandList) Stats() Stats { return cl.stats }

// Pipeline returns the pipeline bound in the pass being recorded, or nil.
func (cl *CommandList) Pipeline() *Pipeline {
	if cl.state != StateRecording {
		return nil
	}
	return cl.pipeline
}

// PipelineState returns the description the next Begin consumes. A
// successful Begin resets it to defaults.
func (cl *CommandList) PipelineState() *PipelineState { return &cl.ps }

func (cl *CommandList) slot() *frameSlot { return &cl.slots[cl.bufferIndex] }

func (cl *CommandList) cmd() backend.CmdBuffer { return cl.slots[cl.bufferIndex].cmd }

// misuse logs a call made in the wrong state and returns err.
func (cl *CommandList) misuse(op string, err error) error {
	cl.log.Warn("rhi: command list call in invalid state",
		"list", cl.label, "op", op, "state", cl.state.String())
	return err
}

func (cl *CommandList) checkRecording(op string) error {
	if cl.state != StateRecording {
		return cl.misuse(op, ErrNotRecording)
	}
	return nil
}

// Begin opens a pass described by PipelineState.
//
// Begin in Recording or Ended returns ErrInvalidState. A description
// without a vertex shader returns ErrPassSkipped; nothing is recorded and
// the state is unchanged.
//
// Otherwise Begin resolves the pipeline, selects the frame slot (the
// acquired swap chain image, or the next slot after a submission), waits
// for the slot's previous submission if it is still in flight, opens the
// slot's command buffer, begins the render pass with the requested clears
// and binds the pipeline.
//
// The fence wait is bounded by Config.FenceTimeout. A device that does
// not retire the slot in time is lost; Begin panics with an error
// wrapping ErrDeviceLost.
func (cl *CommandList) Begin(passName string) error {
	if cl.destroyed {
		return fmt.Errorf("%w: command list %q", ErrDestroyed, cl.label)
	}
	switch cl.state {
	case StateRecording, StateEnded:
		return cl.misuse("Begin", ErrInvalidState)
	}
	if !cl.ps.IsComplete() {
		cl.stats.PassesSkipped++
		cl.log.Debug("rhi: pass skipped", "list", cl.label, "pass", passName)
		return ErrPassSkipped
	}

	p, err := cl.cache.GetPipeline(&cl.ps)
	if err != nil {
		cl.log.Error("rhi: pipeline unavailable", "list", cl.label, "pass", passName, "err", err)
		return err
	}

	next := cl.bufferIndex
	sc := cl.ps.SwapChain
	if sc != nil {
		next = sc.next()
		if next < 0 || next >= len(cl.slots) {
			if err := violated(cl.log, "Begin", "swap chain %q image %d has no frame slot (%d slots)",
				sc.label, next, len(cl.slots)); err != nil {
				return err
			}
		}
	} else if cl.state == StatePendingSync {
		next = (cl.bufferIndex + 1) % len(cl.slots)
	}

	if err := cl.reclaim(next); err != nil {
		return err
	}
	s := &cl.slots[next]
	if err := s.cmd.Begin(); err != nil {
		cl.log.Error("rhi: begin command buffer failed", "list", cl.label, "slot", next, "err", err)
		return fmt.Errorf("rhi: begin %q: %w", cl.label, err)
	}

	// The swap chain advances only once the slot is ready to record.
	var acquireSem backend.Semaphore
	prevImage, prevAcquired := -1, false
	if sc != nil {
		prevImage, prevAcquired = sc.index, sc.acquired
		_, acquireSem = sc.Acquire()
	}
	cl.state = StateIdle
	cl.bufferIndex = next

	if passName == "" {
		passName = cl.ps.PassName
	}
	cl.cur = cl.ps
	cl.ps.Reset()
	cl.pipeline = p
	cl.passName = passName
	cl.swapChain = sc
	cl.acquireSem = acquireSem
	cl.bindings.reset()
	cl.vertex = [maxVertexBuffers]vertexBinding{}
	cl.index = vertexBinding{}
	cl.setDefaultViewport()

	s.cmd.PushDebugGroup(passName)
	cl.state = StateRecording
	cl.pass = passSuspended
	cl.fresh = true
	if err := cl.openPass(); err != nil {
		cl.log.Error("rhi: pass begin failed", "list", cl.label, "pass", passName, "err", err)
		cl.abandon()
		if sc != nil {
			sc.unacquire(prevImage, prevAcquired)
		}
		return err
	}
	return nil
}

// reclaim makes slot i ready for recording: it waits for the slot's last
// submission, releases what that submission kept alive and resets the
// command buffer.
func (cl *CommandList) reclaim(i int) error {
	s := &cl.slots[i]
	if s.inFlight {
		if err := cl.gpu.WaitFence(s.fence, cl.device.cfg.FenceTimeout); err != nil {
			cl.log.Error("rhi: frame slot did not retire", "list", cl.label, "slot", i, "err", err)
			panic(fmt.Errorf("%w: command list %q slot %d: %w", ErrDeviceLost, cl.label, i, err))
		}
		if err := cl.gpu.ResetFence(s.fence); err != nil {
			cl.log.Error("rhi: fence reset failed", "list", cl.label, "slot", i, "err", err)
			return fmt.Errorf("rhi: reset fence of %q slot %d: %w", cl.label, i, err)
		}
		s.inFlight = false
		cl.stats.FenceWaits++

		for p := range s.pipelines {
			cl.cache.OnCommandListConsumed(p, cl.id, i)
		}
		clear(s.pipelines)
	}

	if err := s.cmd.Reset(); err != nil {
		cl.log.Error("rhi: command buffer reset failed", "list", cl.label, "slot", i, "err", err)
		return fmt.Errorf("rhi: reset %q slot %d: %w", cl.label, i, err)
	}
	return nil
}

func (cl *CommandList) setDefaultViewport() {
	w, h := cl.targetExtent()
	cl.viewport = backend.Viewport{Width: float32(w), Height: float32(h), MaxDepth: 1}
	cl.scissor = backend.Rect{Width: w, Height: h}
}

func (cl *CommandList) targetExtent() (uint32, uint32) {
	if colors := cl.cur.colorTargets(); len(colors) > 0 {
		return colors[0].Width(), colors[0].Height()
	}
	if d := cl.cur.DepthTarget; d != nil {
		return d.Width(), d.Height()
	}
	return 0, 0
}

// openPass begins a render pass on the current targets and restores the
// bound state. Clears apply only to the first pass on a set of targets.
func (cl *CommandList) openPass() error {
	colors := cl.cur.colorTargets()
	for _, t := range colors {
		if err := t.transition(cl, backend.ImageLayoutColorAttachment, AllMips, false); err != nil {
			return err
		}
	}
	depth := cl.cur.DepthTarget
	if depth != nil {
		if err := depth.transition(cl, backend.ImageLayoutDepthStencilAttachment, AllMips, false); err != nil {
			return err
		}
	}

	w, h := cl.targetExtent()
	desc := &backend.PassDescriptor{Label: cl.passName, Width: w, Height: h}
	for _, t := range colors {
		a := backend.ColorAttachment{
			Texture: t.handle,
			Load:    gputypes.LoadOpLoad,
			Store:   gputypes.StoreOpStore,
			Clear:   cl.cur.ClearValue,
		}
		if cl.fresh && cl.cur.Clear&ClearColor != 0 {
			a.Load = gputypes.LoadOpClear
		}
		desc.Color = append(desc.Color, a)
	}
	if depth != nil {
		a := &backend.DepthAttachment{
			Texture:      depth.handle,
			DepthLoad:    gputypes.LoadOpLoad,
			DepthStore:   gputypes.StoreOpStore,
			DepthClear:   cl.cur.ClearDepth,
			StencilLoad:  gputypes.LoadOpLoad,
			StencilStore: gputypes.StoreOpStore,
			StencilClear: cl.cur.ClearStencil,
		}
		if cl.fresh && cl.cur.Clear&ClearDepth != 0 {
			a.DepthLoad = gputypes.LoadOpClear
		}
		if cl.fresh && cl.cur.Clear&ClearStencil != 0 {
			a.StencilLoad = gputypes.LoadOpClear
		}
		desc.Depth = a
	}

	cmd := cl.cmd()
	cmd.BeginPass(desc)
	cl.pass = passOpen
	cl.fresh = false

	cmd.SetPipeline(cl.pipeline.handle)
	cl.stats.PipelineBinds++
	cl.slot().pipelines[cl.pipeline] = struct{}{}

	cmd.SetViewport(cl.viewport)
	cmd.SetScissor(cl.scissor)
	for i, vb := range cl.vertex {
		if vb.buffer != nil {
			cmd.SetVertexBuffer(uint32(i), vb.buffer.handle, vb.offset) //nolint:gosec // G115: i < maxVertexBuffers
		}
	}
	if ib := cl.index.buffer; ib != nil {
		cmd.SetIndexBuffer(ib.handle, ib.IndexFormat(), cl.index.offset)
	}

	// Binding sets do not survive a pass boundary.
	cl.bindings.dirty = true
	return nil
}

// suspendPass ends the open render pass so that transitions can be
// recorded. The next draw resumes it.
func (cl *CommandList) suspendPass() {
	if cl.pass == passOpen {
		cl.cmd().EndPass()
		cl.pass = passSuspended
	}
}

// recordBarriers records one transition instruction for t.
func (cl *CommandList) recordBarriers(t *Texture, barriers []backend.Barrier) {
	if _, ok := cl.journal[t]; !ok {
		cl.journal[t] = t.Layouts()
	}
	cl.suspendPass()
	cl.cmd().Transition(barriers)
	cl.stats.Barriers++
}

func (cl *CommandList) barrierElided() { cl.stats.BarriersElided++ }

func (cl *CommandList) logger() *slog.Logger { return cl.log }

// TransitionLayout moves mips of t to layout within the pass being
// recorded. See Texture.TransitionTo.
func (cl *CommandList) TransitionLayout(t *Texture, layout backend.ImageLayout, mip int, ranged bool) error {
	return t.TransitionTo(layout, cl, mip, ranged)
}

// prepareDraw resumes a suspended pass and flushes pending bindings.
func (cl *CommandList) prepareDraw(op string) error {
	if err := cl.checkRecording(op); err != nil {
		return err
	}
	if cl.pass != passOpen {
		if err := cl.openPass(); err != nil {
			cl.log.Error("rhi: pass resume failed", "list", cl.label, "pass", cl.passName, "err", err)
			return err
		}
	}
	return cl.flushBindings()
}

// Draw draws vertexCount vertices.
func (cl *CommandList) Draw(vertexCount uint32) error {
	return cl.DrawInstanced(vertexCount, 1, 0, 0)
}

// DrawInstanced draws instanceCount instances of vertexCount vertices.
func (cl *CommandList) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := cl.prepareDraw("Draw"); err != nil {
		return err
	}
	cl.cmd().Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	cl.stats.Draws++
	return nil
}

// DrawIndexed draws indexCount indices of the bound index buffer starting
// at indexOffset, adding vertexOffset to every index.
func (cl *CommandList) DrawIndexed(indexCount, indexOffset uint32, vertexOffset int32) error {
	return cl.DrawIndexedInstanced(indexCount, 1, indexOffset, vertexOffset, 0)
}

// DrawIndexedInstanced is DrawIndexed for several instances.
func (cl *CommandList) DrawIndexedInstanced(indexCount, instanceCount, indexOffset uint32, vertexOffset int32, firstInstance uint32) error {
	if err := cl.checkRecording("DrawIndexed"); err != nil {
		return err
	}
	if cl.index.buffer == nil {
		cl.log.Warn("rhi: indexed draw without index buffer", "list", cl.label, "pass", cl.passName)
		return ErrNoIndexBuffer
	}
	if err := cl.prepareDraw("DrawIndexed"); err != nil {
		return err
	}
	cl.cmd().DrawIndexed(indexCount, instanceCount, indexOffset, vertexOffset, firstInstance)
	cl.stats.Draws++
	return nil
}

// SetViewport sets the viewport. It is emitted immediately.
func (cl *CommandList) SetViewport(v backend.Viewport) error {
	if err := cl.checkRecording("SetViewport"); err != nil {
		return err
	}
	cl.viewport = v
	if cl.pass == passOpen {
		cl.cmd().SetViewport(v)
	}
	return nil
}

// SetScissor sets the scissor rectangle. It is emitted immediately.
func (cl *CommandList) SetScissor(r backend.Rect) error {
	if err := cl.checkRecording("SetScissor"); err != nil {
		return err
	}
	cl.scissor = r
	if cl.pass == passOpen {
		cl.cmd().SetScissor(r)
	}
	return nil
}

// SetVertexBuffer binds a vertex buffer to slot. It is emitted immediately.
func (cl *CommandList) SetVertexBuffer(slot uint32, b *Buffer, offset uint64) error {
	if err := cl.checkRecording("SetVertexBuffer"); err != nil {
		return err
	}
	if slot >= maxVertexBuffers {
		return fmt.Errorf("%w: vertex buffer slot %d", ErrInvalidSlot, slot)
	}
	if b == nil || b.handle == nil {
		return fmt.Errorf("%w: vertex buffer slot %d has no buffer", ErrInvalidDescriptor, slot)
	}
	cl.vertex[slot] = vertexBinding{buffer: b, offset: offset}
	if cl.pass == passOpen {
		cl.cmd().SetVertexBuffer(slot, b.handle, offset)
	}
	return nil
}

// SetIndexBuffer binds the index buffer. It is emitted immediately.
func (cl *CommandList) SetIndexBuffer(b *Buffer, offset uint64) error {
	if err := cl.checkRecording("SetIndexBuffer"); err != nil {
		return err
	}
	if b == nil || b.handle == nil {
		return fmt.Errorf("%w: no index buffer", ErrInvalidDescriptor)
	}
	if b.Kind() != BufferIndex {
		return fmt.Errorf("%w: buffer %q is a %v buffer", ErrInvalidDescriptor, b.Label(), b.Kind())
	}
	cl.index = vertexBinding{buffer: b, offset: offset}
	if cl.pass == passOpen {
		cl.cmd().SetIndexBuffer(b.handle, b.IndexFormat(), offset)
	}
	return nil
}

// updatePipeline applies mutate to the description of the current pass
// and binds the resulting pipeline. On error nothing changes.
func (cl *CommandList) updatePipeline(op string, mutate func(ps *PipelineState)) error {
	if err := cl.checkRecording(op); err != nil {
		return err
	}
	next := cl.cur
	mutate(&next)
	p, err := cl.cache.GetPipeline(&next)
	if err != nil {
		cl.log.Error("rhi: pipeline unavailable", "list", cl.label, "op", op, "err", err)
		return err
	}
	cl.cur = next
	if p == cl.pipeline {
		return nil
	}
	cl.pipeline = p
	cl.bindings.dirty = true
	if cl.pass == passOpen {
		cl.cmd().SetPipeline(p.handle)
		cl.stats.PipelineBinds++
		cl.slot().pipelines[p] = struct{}{}
	}
	return nil
}

// SetTopology sets the primitive topology.
func (cl *CommandList) SetTopology(t gputypes.PrimitiveTopology) error {
	return cl.updatePipeline("SetTopology", func(ps *PipelineState) { ps.Topology = t })
}

// SetDepthStencilState sets depth and stencil testing.
func (cl *CommandList) SetDepthStencilState(s DepthStencilState) error {
	return cl.updatePipeline("SetDepthStencilState", func(ps *PipelineState) { ps.DepthStencil = s })
}

// SetRasterizerState sets rasterization state.
func (cl *CommandList) SetRasterizerState(s RasterizerState) error {
	return cl.updatePipeline("SetRasterizerState", func(ps *PipelineState) { ps.Rasterizer = s })
}

// SetBlendState sets blending.
func (cl *CommandList) SetBlendState(s BlendState) error {
	return cl.updatePipeline("SetBlendState", func(ps *PipelineState) { ps.Blend = s })
}

// SetInputLayout sets the vertex input layout.
func (cl *CommandList) SetInputLayout(l InputLayout) error {
	return cl.updatePipeline("SetInputLayout", func(ps *PipelineState) { ps.InputLayout = l })
}

// SetVertexShader sets the vertex shader. A nil shader is rejected.
func (cl *CommandList) SetVertexShader(s *Shader) error {
	return cl.updatePipeline("SetVertexShader", func(ps *PipelineState) { ps.VertexShader = s })
}

// SetPixelShader sets the pixel shader.
func (cl *CommandList) SetPixelShader(s *Shader) error {
	return cl.updatePipeline("SetPixelShader", func(ps *PipelineState) { ps.PixelShader = s })
}

// SetRenderTargets replaces the attachments of the pass. The open pass
// ends; the next draw begins a new one on the new targets, applying the
// clears requested in the description.
func (cl *CommandList) SetRenderTargets(targets []*Texture, depth *Texture) error {
	if len(targets) > MaxRenderTargets {
		return fmt.Errorf("%w: %d render targets, at most %d", ErrInvalidSlot, len(targets), MaxRenderTargets)
	}
	err := cl.updatePipeline("SetRenderTargets", func(ps *PipelineState) {
		ps.SwapChain = nil
		ps.RenderTargets = [MaxRenderTargets]*Texture{}
		copy(ps.RenderTargets[:], targets)
		ps.RenderTargetCount = len(targets)
		ps.DepthTarget = depth
	})
	if err != nil {
		return err
	}
	cl.suspendPass()
	cl.fresh = true
	cl.setDefaultViewport()
	return nil
}

// SetConstantBuffer binds a constant buffer to a shader slot. The binding
// is resolved at the next draw.
func (cl *CommandList) SetConstantBuffer(slot uint32, b *Buffer) error {
	if err := cl.checkBindingSlot("SetConstantBuffer", slot); err != nil {
		return err
	}
	if b != nil && b.Kind() != BufferConstant {
		return fmt.Errorf("%w: buffer %q is a %v buffer", ErrInvalidDescriptor, b.Label(), b.Kind())
	}
	cl.bindings.set(slot, boundResource{kind: backend.BindingUniformBuffer, buffer: b})
	return nil
}

// SetSampler binds a sampler to a shader slot. A nil sampler binds the
// Device's default sampler.
func (cl *CommandList) SetSampler(slot uint32, s *Sampler) error {
	if err := cl.checkBindingSlot("SetSampler", slot); err != nil {
		return err
	}
	cl.bindings.set(slot, boundResource{kind: backend.BindingSampler, sampler: s})
	return nil
}

// SetTexture binds a texture to a shader slot and moves it to the layout
// the slot reads it in. A nil texture binds the Device's fallback
// texture. Binding the resource already in the slot changes nothing.
func (cl *CommandList) SetTexture(slot uint32, t *Texture) error {
	if err := cl.checkBindingSlot("SetTexture", slot); err != nil {
		return err
	}
	kind := backend.BindingTexture
	if k, ok := cl.pipeline.layoutKind(slot); ok && k == backend.BindingStorageTexture {
		kind = k
	}
	if t != nil {
		layout := backend.ImageLayoutShaderReadOnly
		if kind == backend.BindingStorageTexture {
			layout = backend.ImageLayoutGeneral
		}
		if err := t.transition(cl, layout, AllMips, false); err != nil {
			return err
		}
	}
	cl.bindings.set(slot, boundResource{kind: kind, texture: t})
	return nil
}

func (cl *CommandList) checkBindingSlot(op string, slot uint32) error {
	if err := cl.checkRecording(op); err != nil {
		return err
	}
	if int(slot) >= len(cl.bindings.slots) {
		return fmt.Errorf("%w: %s slot %d, at most %d", ErrInvalidSlot, op, slot, len(cl.bindings.slots)-1)
	}
	return nil
}

// flushBindings resolves a dirty binding table and binds the result.
func (cl *CommandList) flushBindings() error {
	if !cl.bindings.dirty || len(cl.pipeline.layout) == 0 {
		return nil
	}

	entries, h := cl.bindings.resolve(cl.pipeline.layout, cl.device, cl.log)
	set, created, err := cl.pipeline.bindingSet(cl.gpu, cl.id, cl.bufferIndex, h, entries)
	if err != nil {
		cl.log.Error("rhi: binding resolve failed", "list", cl.label, "pass", cl.passName, "err", err)
		return err
	}
	if created {
		cl.log.Debug("rhi: binding set created", "list", cl.label, "pipeline", cl.pipeline.label, "entries", len(entries))
	}

	cl.cmd().SetBindingSet(0, set)
	cl.bindings.dirty = false
	cl.stats.BindingUpdates++
	cl.slot().pipelines[cl.pipeline] = struct{}{}
	return nil
}

// End closes the pass and finalizes the command buffer. If the pass
// cannot be closed or the backend rejects the buffer, the frame is
// dropped: the error is returned, tracked layouts are rolled back and the
// list returns to Idle.
func (cl *CommandList) End() error {
	if err := cl.checkRecording("End"); err != nil {
		return err
	}
	if err := cl.finish(); err != nil {
		cl.log.Error("rhi: end failed, frame dropped", "list", cl.label, "pass", cl.passName, "err", err)
		cl.abandon()
		return err
	}
	cl.state = StateEnded
	return nil
}

func (cl *CommandList) finish() error {
	// Targets set without a draw still get their clears.
	if cl.pass == passSuspended && cl.fresh {
		if err := cl.openPass(); err != nil {
			return err
		}
	}
	if cl.pass == passOpen {
		cl.cmd().EndPass()
	}
	cl.pass = passClosed

	if sc := cl.swapChain; sc != nil {
		if img := sc.current(); img != nil {
			if err := img.transition(cl, backend.ImageLayoutPresent, AllMips, false); err != nil {
				return err
			}
		}
	}

	cmd := cl.cmd()
	cmd.PopDebugGroup()
	if err := cmd.End(); err != nil {
		return fmt.Errorf("rhi: end %q: %w", cl.label, err)
	}
	return nil
}

// Submit queues the ended pass and returns without waiting.
//
// The submission waits on the swap chain image if one was acquired, and
// signals the slot's semaphore (handed to the swap chain for
// presentation) and fence. Without End, ErrNotEnded is returned and the
// state is unchanged. A rejected submission drops the frame: the error is
// returned, tracked layouts are rolled back and the list returns to Idle.
func (cl *CommandList) Submit() error {
	if cl.state != StateEnded {
		return cl.misuse("Submit", ErrNotEnded)
	}
	sc := cl.swapChain
	if sc != nil && sc.ImageIndex() != cl.bufferIndex {
		if err := violated(cl.log, "Submit", "command list %q slot %d, swap chain %q image %d",
			cl.label, cl.bufferIndex, sc.label, sc.ImageIndex()); err != nil {
			return err
		}
	}

	s := cl.slot()
	info := &backend.SubmitInfo{
		CmdBuffer: s.cmd,
		Signal:    []backend.Semaphore{s.semaphore},
		Fence:     s.fence,
	}
	if cl.acquireSem != nil {
		info.Wait = []backend.Semaphore{cl.acquireSem}
	}

	if err := cl.gpu.Submit(info); err != nil {
		cl.log.Error("rhi: submit failed, frame dropped", "list", cl.label, "pass", cl.passName, "slot", cl.bufferIndex, "err", err)
		cl.stats.SubmitFailures++
		cl.abandon()
		return fmt.Errorf("rhi: submit %q: %w", cl.label, err)
	}

	s.inFlight = true
	if sc != nil {
		sc.setRenderFinished(s.semaphore)
	}
	clear(cl.journal)
	cl.stats.Frames++
	cl.state = StatePendingSync
	cl.releasePass()
	return nil
}

// Discard returns the list to Idle from any state without waiting for
// the GPU. An unsubmitted recording is dropped and the texture layouts it
// changed are restored. Work already submitted keeps running; its slot is
// still waited on before reuse.
func (cl *CommandList) Discard() {
	if cl.state == StateIdle {
		return
	}
	cl.log.Debug("rhi: command list discarded", "list", cl.label, "state", cl.state.String())
	cl.stats.Discards++
	cl.abandon()
}

// abandon drops the current recording and returns to Idle.
func (cl *CommandList) abandon() {
	for t, layouts := range cl.journal {
		if t.handle != nil {
			copy(t.layouts, layouts)
		}
	}
	clear(cl.journal)
	cl.state = StateIdle
	cl.releasePass()
}

// releasePass drops references to the resources of the last pass.
func (cl *CommandList) releasePass() {
	cl.pass = passClosed
	cl.cur = PipelineState{}
	cl.pipeline = nil
	cl.swapChain = nil
	cl.acquireSem = nil
	cl.bindings.reset()
	cl.vertex = [maxVertexBuffers]vertexBinding{}
	cl.index = vertexBinding{}
}

// Destroy waits for every frame in flight and releases the command
// buffers, fences and semaphores. Destroying twice has no effect.
func (cl *CommandList) Destroy() {
	if cl.destroyed {
		return
	}
	for i := range cl.slots {
		s := &cl.slots[i]
		if !s.inFlight {
			continue
		}
		if err := cl.gpu.WaitFence(s.fence, cl.device.cfg.FenceTimeout); err != nil {
			cl.log.Error("rhi: frame slot did not retire before destroy", "list", cl.label, "slot", i, "err", err)
		}
		s.inFlight = false
	}
	cl.abandon()
	cl.cache.releaseOwner(cl.id)
	cl.releaseSlots()
	cl.destroyed = true
	cl.device.removeList(cl)
	cl.log.Debug("rhi: command list destroyed", "list", cl.label, "frames", cl.stats.Frames)
}

func (cl *CommandList) releaseSlots() {
	for i := range cl.slots {
		s := &cl.slots[i]
		if s.cmd != nil {
			s.cmd.Destroy()
			s.cmd = nil
		}
		if s.fence != nil {
			s.fence.Destroy()
			s.fence = nil
		}
		if s.semaphore != nil {
			s.semaphore.Destroy()
			s.semaphore = nil
		}
		s.pipelines = nil
	}
}
