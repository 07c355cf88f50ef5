// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import "github.com/gogpu/gputypes"

// CmdBuffer records device instructions.
//
// State machine:
//
//	Initial   -> Begin()  -> Recording
//	Recording -> End()    -> Executable
//	Executable -> Submit  -> Pending (until the submission retires)
//	any       -> Reset()  -> Initial
//
// Recording methods called outside Recording are dropped by the backend;
// the core never issues them in that case.
type CmdBuffer interface {
	Destroyer

	// Begin opens the buffer for recording.
	Begin() error

	// End finalizes the buffer so it can be submitted.
	End() error

	// Reset discards recorded instructions. The buffer must not be pending.
	Reset() error

	// BeginPass starts a render pass on the given attachments.
	BeginPass(desc *PassDescriptor)

	// EndPass ends the current render pass.
	EndPass()

	// SetPipeline binds a compiled pipeline.
	SetPipeline(p Pipeline)

	// SetBindingSet binds resolved shader resources at the given group.
	SetBindingSet(group uint32, set BindingSet)

	// SetViewport sets the viewport transform.
	SetViewport(v Viewport)

	// SetScissor sets the scissor rectangle.
	SetScissor(r Rect)

	// SetVertexBuffer binds a vertex buffer to a slot.
	SetVertexBuffer(slot uint32, b Buffer, offset uint64)

	// SetIndexBuffer binds the index buffer.
	SetIndexBuffer(b Buffer, format gputypes.IndexFormat, offset uint64)

	// Draw draws non-indexed primitives.
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// DrawIndexed draws indexed primitives.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	// Transition records one layout transition instruction made of the
	// given barriers. It must not be called inside a render pass.
	Transition(barriers []Barrier)

	// CopyBufferToTexture copies staged data into texture subresources.
	// It must not be called inside a render pass.
	CopyBufferToTexture(src Buffer, dst Texture, regions []BufferTextureCopy)

	// PushDebugGroup opens a labeled region for debuggers and profilers.
	PushDebugGroup(label string)

	// PopDebugGroup closes the innermost debug region.
	PopDebugGroup()
}

// Viewport is a viewport transform.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is an integer rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// ColorAttachment is a render pass color target.
type ColorAttachment struct {
	Texture Texture
	Load    gputypes.LoadOp
	Store   gputypes.StoreOp
	Clear   gputypes.Color
}

// DepthAttachment is a render pass depth/stencil target.
type DepthAttachment struct {
	Texture      Texture
	DepthLoad    gputypes.LoadOp
	DepthStore   gputypes.StoreOp
	DepthClear   float32
	StencilLoad  gputypes.LoadOp
	StencilStore gputypes.StoreOp
	StencilClear uint32
}

// PassDescriptor describes a render pass.
type PassDescriptor struct {
	Label  string
	Color  []ColorAttachment
	Depth  *DepthAttachment
	Width  uint32
	Height uint32
}

// BufferTextureCopy describes one region of a buffer-to-texture copy.
type BufferTextureCopy struct {
	BufferOffset uint64
	BytesPerRow  uint32
	MipLevel     uint32
	ArrayLayer   uint32
	Width        uint32
	Height       uint32
}
