package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// Op identifies a recorded command.
type Op uint8

// Recorded command kinds.
const (
	OpBeginPass Op = iota
	OpEndPass
	OpSetPipeline
	OpSetBindingSet
	OpSetViewport
	OpSetScissor
	OpSetVertexBuffer
	OpSetIndexBuffer
	OpDraw
	OpDrawIndexed
	OpTransition
	OpCopyBufferToTexture
	OpPushDebugGroup
	OpPopDebugGroup
)

var opNames = [...]string{
	OpBeginPass:           "BeginPass",
	OpEndPass:             "EndPass",
	OpSetPipeline:         "SetPipeline",
	OpSetBindingSet:       "SetBindingSet",
	OpSetViewport:         "SetViewport",
	OpSetScissor:          "SetScissor",
	OpSetVertexBuffer:     "SetVertexBuffer",
	OpSetIndexBuffer:      "SetIndexBuffer",
	OpDraw:                "Draw",
	OpDrawIndexed:         "DrawIndexed",
	OpTransition:          "Transition",
	OpCopyBufferToTexture: "CopyBufferToTexture",
	OpPushDebugGroup:      "PushDebugGroup",
	OpPopDebugGroup:       "PopDebugGroup",
}

// String returns the op name.
func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Command is one recorded instruction. Only the fields relevant to Op
// are set.
type Command struct {
	Op Op

	Pass       *backend.PassDescriptor
	Pipeline   *Pipeline
	Group      uint32
	BindingSet *BindingSet
	Viewport   backend.Viewport
	Scissor    backend.Rect

	Slot        uint32
	Buffer      *Buffer
	IndexFormat gputypes.IndexFormat
	Offset      uint64

	Count         uint32
	Instances     uint32
	First         uint32
	BaseVertex    int32
	FirstInstance uint32

	Barriers []backend.Barrier
	Texture  *Texture
	Regions  []backend.BufferTextureCopy

	Label string
}

// CountOps returns the number of commands with the given op.
func CountOps(cmds []Command, op Op) int {
	n := 0
	for i := range cmds {
		if cmds[i].Op == op {
			n++
		}
	}
	return n
}

type cmdState uint8

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

// CmdBuffer is an emulated primary command buffer.
//
// State machine:
//
//	Initial    -> Begin() -> Recording
//	Recording  -> End()   -> Executable
//	Executable -> Submit  -> Pending
//	Pending    -> retire  -> Executable
//	Initial/Executable -> Reset() -> Initial
type CmdBuffer struct {
	object
	label string

	mu       sync.Mutex
	state    cmdState
	inPass   bool
	pipeline bool
	commands []Command
}

// Label returns the buffer label.
func (c *CmdBuffer) Label() string { return c.label }

// Commands returns a copy of the recorded commands.
func (c *CmdBuffer) Commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.commands...)
}

// Begin opens the buffer for recording.
func (c *CmdBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Destroyed() {
		return backend.ErrInvalidHandle
	}
	if c.state != cmdInitial {
		return fmt.Errorf("%w: begin from %s", backend.ErrCmdBufferState, c.state)
	}
	if err := c.gpu.takeFailure(&c.gpu.failBegin); err != nil {
		return err
	}
	c.state = cmdRecording
	c.commands = c.commands[:0]
	c.inPass = false
	c.pipeline = false
	return nil
}

// End finalizes the buffer.
func (c *CmdBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != cmdRecording {
		return fmt.Errorf("%w: end from %s", backend.ErrCmdBufferState, c.state)
	}
	if c.inPass {
		return fmt.Errorf("%w: end inside a render pass", backend.ErrCmdBufferState)
	}
	if err := c.gpu.takeFailure(&c.gpu.failEnd); err != nil {
		return err
	}
	c.state = cmdExecutable
	return nil
}

// Reset discards recorded commands.
func (c *CmdBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == cmdPending {
		return fmt.Errorf("%w: reset while pending", backend.ErrCmdBufferState)
	}
	c.state = cmdInitial
	c.commands = c.commands[:0]
	c.inPass = false
	c.pipeline = false
	return nil
}

// record appends cmd if the buffer is recording. Commands issued in any
// other state are dropped and reported.
func (c *CmdBuffer) record(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != cmdRecording {
		c.gpu.reportf("%s: %s recorded outside recording state", c.label, cmd.Op)
		return
	}

	switch cmd.Op {
	case OpBeginPass:
		if c.inPass {
			c.gpu.reportf("%s: nested render pass", c.label)
			return
		}
		c.inPass = true
		c.pipeline = false
	case OpEndPass:
		if !c.inPass {
			c.gpu.reportf("%s: EndPass without BeginPass", c.label)
			return
		}
		c.inPass = false
	case OpSetPipeline:
		c.pipeline = true
	case OpDraw, OpDrawIndexed:
		if !c.inPass {
			c.gpu.reportf("%s: %s outside a render pass", c.label, cmd.Op)
			return
		}
		if !c.pipeline {
			c.gpu.reportf("%s: %s without a pipeline", c.label, cmd.Op)
			return
		}
	case OpTransition, OpCopyBufferToTexture:
		if c.inPass {
			c.gpu.reportf("%s: %s inside a render pass", c.label, cmd.Op)
			return
		}
	}

	c.commands = append(c.commands, cmd)
}

// BeginPass starts a render pass.
func (c *CmdBuffer) BeginPass(desc *backend.PassDescriptor) {
	if desc == nil {
		c.gpu.reportf("%s: BeginPass with nil descriptor", c.label)
		return
	}
	d := *desc
	d.Color = append([]backend.ColorAttachment(nil), desc.Color...)
	if desc.Depth != nil {
		depth := *desc.Depth
		d.Depth = &depth
	}
	c.record(Command{Op: OpBeginPass, Pass: &d, Label: desc.Label})
}

// EndPass ends the current render pass.
func (c *CmdBuffer) EndPass() {
	c.record(Command{Op: OpEndPass})
}

// SetPipeline binds a pipeline.
func (c *CmdBuffer) SetPipeline(p backend.Pipeline) {
	sp, ok := p.(*Pipeline)
	if !ok || sp == nil {
		c.gpu.reportf("%s: SetPipeline with foreign or nil pipeline", c.label)
		return
	}
	c.record(Command{Op: OpSetPipeline, Pipeline: sp})
}

// SetBindingSet binds a resolved binding set.
func (c *CmdBuffer) SetBindingSet(group uint32, set backend.BindingSet) {
	ss, ok := set.(*BindingSet)
	if !ok || ss == nil {
		c.gpu.reportf("%s: SetBindingSet with foreign or nil set", c.label)
		return
	}
	c.record(Command{Op: OpSetBindingSet, Group: group, BindingSet: ss})
}

// SetViewport sets the viewport.
func (c *CmdBuffer) SetViewport(v backend.Viewport) {
	c.record(Command{Op: OpSetViewport, Viewport: v})
}

// SetScissor sets the scissor rectangle.
func (c *CmdBuffer) SetScissor(r backend.Rect) {
	c.record(Command{Op: OpSetScissor, Scissor: r})
}

// SetVertexBuffer binds a vertex buffer.
func (c *CmdBuffer) SetVertexBuffer(slot uint32, b backend.Buffer, offset uint64) {
	sb, _ := b.(*Buffer)
	c.record(Command{Op: OpSetVertexBuffer, Slot: slot, Buffer: sb, Offset: offset})
}

// SetIndexBuffer binds the index buffer.
func (c *CmdBuffer) SetIndexBuffer(b backend.Buffer, format gputypes.IndexFormat, offset uint64) {
	sb, _ := b.(*Buffer)
	c.record(Command{Op: OpSetIndexBuffer, Buffer: sb, IndexFormat: format, Offset: offset})
}

// Draw records a non-indexed draw.
func (c *CmdBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Command{
		Op:            OpDraw,
		Count:         vertexCount,
		Instances:     instanceCount,
		First:         firstVertex,
		FirstInstance: firstInstance,
	})
}

// DrawIndexed records an indexed draw.
func (c *CmdBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	c.record(Command{
		Op:            OpDrawIndexed,
		Count:         indexCount,
		Instances:     instanceCount,
		First:         firstIndex,
		BaseVertex:    baseVertex,
		FirstInstance: firstInstance,
	})
}

// Transition records one layout transition instruction.
func (c *CmdBuffer) Transition(barriers []backend.Barrier) {
	if len(barriers) == 0 {
		return
	}
	c.record(Command{Op: OpTransition, Barriers: append([]backend.Barrier(nil), barriers...)})
}

// CopyBufferToTexture records a staged copy.
func (c *CmdBuffer) CopyBufferToTexture(src backend.Buffer, dst backend.Texture, regions []backend.BufferTextureCopy) {
	sb, ok1 := src.(*Buffer)
	st, ok2 := dst.(*Texture)
	if !ok1 || !ok2 || sb == nil || st == nil {
		c.gpu.reportf("%s: CopyBufferToTexture with foreign or nil handles", c.label)
		return
	}
	c.record(Command{
		Op:      OpCopyBufferToTexture,
		Buffer:  sb,
		Texture: st,
		Regions: append([]backend.BufferTextureCopy(nil), regions...),
	})
}

// PushDebugGroup opens a debug region.
func (c *CmdBuffer) PushDebugGroup(label string) {
	c.record(Command{Op: OpPushDebugGroup, Label: label})
}

// PopDebugGroup closes a debug region.
func (c *CmdBuffer) PopDebugGroup() {
	c.record(Command{Op: OpPopDebugGroup})
}

// markPending moves an executable buffer to pending and returns a copy of
// its commands for execution.
func (c *CmdBuffer) markPending() ([]Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Destroyed() {
		return nil, backend.ErrInvalidHandle
	}
	if c.state != cmdExecutable {
		return nil, fmt.Errorf("%w: submit from %s", backend.ErrCmdBufferState, c.state)
	}
	c.state = cmdPending
	return append([]Command(nil), c.commands...), nil
}

func (c *CmdBuffer) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cmdPending {
		c.state = cmdExecutable
	}
}

func (s cmdState) String() string {
	switch s {
	case cmdInitial:
		return "initial"
	case cmdRecording:
		return "recording"
	case cmdExecutable:
		return "executable"
	case cmdPending:
		return "pending"
	}
	return "unknown"
}
