// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
)

type cmdState uint8

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

// CmdBuffer records into a hal command encoder. A fresh encoder is
// created on every Begin; the finished hal command buffer is freed on
// Reset once its submission retired.
type CmdBuffer struct {
	gpu   *GPU
	label string
	rel   release

	mu      sync.Mutex
	state   cmdState
	encoder hal.CommandEncoder
	raw     hal.CommandBuffer
	pass    hal.RenderPassEncoder
	value   uint64 // timeline value of the pending submission
	debug   int
}

var _ backend.CmdBuffer = (*CmdBuffer)(nil)

// Begin opens a new encoder.
func (c *CmdBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cmdInitial {
		return fmt.Errorf("native: begin %q: %w", c.label, backend.ErrCmdBufferState)
	}

	encoder, err := c.gpu.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: c.label})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(c.label); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	c.encoder = encoder
	c.state = cmdRecording
	return nil
}

// End finishes encoding.
func (c *CmdBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cmdRecording {
		return fmt.Errorf("native: end %q: %w", c.label, backend.ErrCmdBufferState)
	}
	if c.pass != nil {
		return ErrPassOpen
	}
	for ; c.debug > 0; c.debug-- {
		c.gpu.logger().Debug("native: unbalanced debug group closed at End", "label", c.label)
	}

	raw, err := c.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	c.raw = raw
	c.encoder = nil
	c.state = cmdExecutable
	return nil
}

// Reset discards recorded work. A pending buffer can be reset only after
// its submission retired.
func (c *CmdBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == cmdPending {
		done, err := c.gpu.reached(c.value, 0)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("native: reset %q: %w: submission pending", c.label, backend.ErrCmdBufferState)
		}
	}
	c.releaseLocked()
	return nil
}

func (c *CmdBuffer) releaseLocked() {
	if c.pass != nil {
		c.pass.End()
		c.pass = nil
	}
	if c.encoder != nil {
		c.encoder.DiscardEncoding()
		c.encoder = nil
	}
	if c.raw != nil {
		c.gpu.device.FreeCommandBuffer(c.raw)
		c.raw = nil
	}
	c.debug = 0
	c.value = 0
	c.state = cmdInitial
}

// Destroy frees the command buffer. A pending submission is waited for
// first.
func (c *CmdBuffer) Destroy() {
	c.rel.do(c.gpu, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == cmdPending {
			if _, err := c.gpu.reached(c.value, c.gpu.opts.idleTimeout); err != nil {
				c.gpu.logger().Warn("native: destroying command buffer of a lost device", "label", c.label)
			}
		}
		c.releaseLocked()
	})
}

func (c *CmdBuffer) executable() (hal.CommandBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cmdExecutable {
		return nil, fmt.Errorf("native: submit %q: %w", c.label, backend.ErrCmdBufferState)
	}
	return c.raw, nil
}

func (c *CmdBuffer) markPending(value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cmdPending
	c.value = value
}

// recording returns the encoder when the buffer records outside a pass.
func (c *CmdBuffer) recording() hal.CommandEncoder {
	if c.state != cmdRecording || c.pass != nil {
		return nil
	}
	return c.encoder
}

// inPass returns the open render pass encoder, or nil.
func (c *CmdBuffer) inPass() hal.RenderPassEncoder {
	if c.state != cmdRecording {
		return nil
	}
	return c.pass
}

// BeginPass opens a render pass on mip 0 of the attachments.
func (c *CmdBuffer) BeginPass(desc *backend.PassDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := c.recording()
	if enc == nil || desc == nil {
		return
	}

	rp := &hal.RenderPassDescriptor{Label: desc.Label}
	for i, a := range desc.Color {
		view, err := attachmentView(a.Texture)
		if err != nil {
			c.gpu.logger().Warn("native: color attachment dropped", "pass", desc.Label, "index", i, "err", err)
			continue
		}
		rp.ColorAttachments = append(rp.ColorAttachments, hal.RenderPassColorAttachment{
			View:       view,
			LoadOp:     a.Load,
			StoreOp:    a.Store,
			ClearValue: a.Clear,
		})
	}
	if d := desc.Depth; d != nil {
		view, err := attachmentView(d.Texture)
		if err != nil {
			c.gpu.logger().Warn("native: depth attachment dropped", "pass", desc.Label, "err", err)
		} else {
			rp.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
				View:              view,
				DepthLoadOp:       d.DepthLoad,
				DepthStoreOp:      d.DepthStore,
				DepthClearValue:   d.DepthClear,
				StencilLoadOp:     d.StencilLoad,
				StencilStoreOp:    d.StencilStore,
				StencilClearValue: d.StencilClear,
			}
		}
	}
	c.pass = enc.BeginRenderPass(rp)
}

func attachmentView(t backend.Texture) (hal.TextureView, error) {
	nt, ok := t.(*Texture)
	if !ok || nt == nil {
		return nil, backend.ErrInvalidHandle
	}
	return nt.mipView(0)
}

// EndPass ends the open render pass.
func (c *CmdBuffer) EndPass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.inPass(); p != nil {
		p.End()
		c.pass = nil
	}
}

// SetPipeline binds a pipeline.
func (c *CmdBuffer) SetPipeline(p backend.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.inPass()
	pl, ok := p.(*Pipeline)
	if pass == nil || !ok || pl == nil {
		return
	}
	pass.SetPipeline(pl.raw)
}

// SetBindingSet binds a bind group.
func (c *CmdBuffer) SetBindingSet(group uint32, set backend.BindingSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.inPass()
	bs, ok := set.(*BindingSet)
	if pass == nil || !ok || bs == nil {
		return
	}
	pass.SetBindGroup(group, bs.raw, nil)
}

// SetViewport sets the viewport transform.
func (c *CmdBuffer) SetViewport(v backend.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pass := c.inPass(); pass != nil {
		pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
}

// SetScissor sets the scissor rectangle. Negative origins are clamped to
// the attachment.
func (c *CmdBuffer) SetScissor(r backend.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.inPass()
	if pass == nil {
		return
	}
	x, y, w, h := r.X, r.Y, r.Width, r.Height
	if x < 0 {
		w = uint32(max(int64(w)+int64(x), 0))
		x = 0
	}
	if y < 0 {
		h = uint32(max(int64(h)+int64(y), 0))
		y = 0
	}
	pass.SetScissorRect(uint32(x), uint32(y), w, h)
}

// SetVertexBuffer binds a vertex buffer.
func (c *CmdBuffer) SetVertexBuffer(slot uint32, b backend.Buffer, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.inPass()
	buf, ok := b.(*Buffer)
	if pass == nil || !ok || buf == nil {
		return
	}
	pass.SetVertexBuffer(slot, buf.raw, offset)
}

// SetIndexBuffer binds the index buffer.
func (c *CmdBuffer) SetIndexBuffer(b backend.Buffer, format gputypes.IndexFormat, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.inPass()
	buf, ok := b.(*Buffer)
	if pass == nil || !ok || buf == nil {
		return
	}
	pass.SetIndexBuffer(buf.raw, format, offset)
}

// Draw draws non-indexed primitives.
func (c *CmdBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pass := c.inPass(); pass != nil {
		pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

// DrawIndexed draws indexed primitives.
func (c *CmdBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pass := c.inPass(); pass != nil {
		pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

// Transition records texture usage transitions.
func (c *CmdBuffer) Transition(barriers []backend.Barrier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := c.recording()
	if enc == nil {
		return
	}
	if hb := textureBarriers(barriers); len(hb) > 0 {
		enc.TransitionTextures(hb)
	}
}

// CopyBufferToTexture copies staged rows into texture mip levels.
func (c *CmdBuffer) CopyBufferToTexture(src backend.Buffer, dst backend.Texture, regions []backend.BufferTextureCopy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := c.recording()
	buf, ok := src.(*Buffer)
	tex, tok := dst.(*Texture)
	if enc == nil || !ok || !tok || buf == nil || tex == nil {
		return
	}
	raw := tex.Raw()
	if raw == nil {
		return
	}

	copies := make([]hal.BufferTextureCopy, 0, len(regions))
	for _, r := range regions {
		if r.ArrayLayer != 0 {
			c.gpu.logger().Warn("native: copy into array layer not supported", "layer", r.ArrayLayer)
			continue
		}
		copies = append(copies, hal.BufferTextureCopy{
			BufferLayout: hal.ImageDataLayout{Offset: r.BufferOffset, BytesPerRow: r.BytesPerRow, RowsPerImage: r.Height},
			TextureBase:  hal.ImageCopyTexture{Texture: raw, MipLevel: r.MipLevel},
			Size:         hal.Extent3D{Width: r.Width, Height: r.Height, DepthOrArrayLayers: 1},
		})
	}
	if len(copies) > 0 {
		enc.CopyBufferToTexture(buf.raw, raw, copies)
	}
}

// PushDebugGroup opens a debug region. hal encoders carry no markers, so
// regions are only logged.
func (c *CmdBuffer) PushDebugGroup(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cmdRecording {
		return
	}
	c.debug++
	c.gpu.logger().Debug("native: debug group", "cmd", c.label, "group", label, "depth", c.debug)
}

// PopDebugGroup closes the innermost debug region.
func (c *CmdBuffer) PopDebugGroup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cmdRecording && c.debug > 0 {
		c.debug--
	}
}
