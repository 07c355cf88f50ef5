// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"hash/fnv"

	"github.com/gogpu/gputypes"
)

// MaxRenderTargets is the number of color targets a pass can write.
const MaxRenderTargets = 8

// ClearFlags selects which attachments a pass clears when it begins.
type ClearFlags uint8

// Clear flags.
const (
	ClearColor ClearFlags = 1 << iota
	ClearDepth
	ClearStencil
)

// PipelineState is the declarative description of a pass: shaders, fixed
// function state, topology and attachments.
//
// It is assembled before CommandList.Begin, which resolves it to a
// Pipeline through the PipelineCache. Two descriptions that are Equal
// resolve to the same Pipeline.
//
// Equal and Hash cover the fields that affect the compiled pipeline:
// shaders, input layout, depth-stencil, rasterizer and blend state,
// topology, attachment formats and count, and sample count. Attachment
// identities, clear values and the pass name are per-pass and ignored.
type PipelineState struct {
	VertexShader  *Shader
	PixelShader   *Shader
	ComputeShader *Shader

	InputLayout  InputLayout
	DepthStencil DepthStencilState
	Rasterizer   RasterizerState
	Blend        BlendState
	Topology     gputypes.PrimitiveTopology

	// RenderTargets[:RenderTargetCount] are the color attachments. They
	// are ignored when SwapChain is set.
	RenderTargets     [MaxRenderTargets]*Texture
	RenderTargetCount int
	DepthTarget       *Texture

	// SwapChain, when set, makes the acquired swap chain image the only
	// color attachment and drives frame slot selection.
	SwapChain *SwapChain

	Clear        ClearFlags
	ClearValue   gputypes.Color
	ClearDepth   float32
	ClearStencil uint32

	// SampleCount is the multisample count; 0 means 1.
	SampleCount uint32

	// PassName labels the pass in debuggers.
	PassName string
}

// NewPipelineState returns a description with default values.
func NewPipelineState() PipelineState {
	var ps PipelineState
	ps.Reset()
	return ps
}

// Reset restores default values.
func (ps *PipelineState) Reset() {
	*ps = PipelineState{
		DepthStencil: DepthStencilOff,
		Rasterizer:   RasterizerCullNone,
		Blend:        BlendDisabled,
		Topology:     gputypes.PrimitiveTopologyTriangleList,
		ClearDepth:   1,
		SampleCount:  1,
	}
}

// IsComplete reports whether the description can be compiled.
func (ps *PipelineState) IsComplete() bool {
	return ps != nil && ps.VertexShader != nil
}

// pipelineKey is the compile-relevant projection of a PipelineState.
type pipelineKey struct {
	vs, fs, cs   *Shader
	input        InputLayout
	depthStencil DepthStencilState
	raster       RasterizerState
	blend        BlendState
	topology     gputypes.PrimitiveTopology
	colorFormats [MaxRenderTargets]gputypes.TextureFormat
	colorCount   int
	depthFormat  gputypes.TextureFormat
	sampleCount  uint32
}

func (ps *PipelineState) key() pipelineKey {
	k := pipelineKey{
		vs:           ps.VertexShader,
		fs:           ps.PixelShader,
		cs:           ps.ComputeShader,
		input:        ps.InputLayout,
		depthStencil: ps.DepthStencil,
		raster:       ps.Rasterizer,
		blend:        ps.Blend,
		topology:     ps.Topology,
		sampleCount:  ps.SampleCount,
	}
	if k.sampleCount == 0 {
		k.sampleCount = 1
	}

	if ps.SwapChain != nil {
		k.colorFormats[0] = ps.SwapChain.Format()
		k.colorCount = 1
	} else {
		n := min(max(ps.RenderTargetCount, 0), MaxRenderTargets)
		for i := range n {
			if t := ps.RenderTargets[i]; t != nil {
				k.colorFormats[i] = t.Format()
			}
		}
		k.colorCount = n
	}
	if ps.DepthTarget != nil {
		k.depthFormat = ps.DepthTarget.Format()
	}
	return k
}

func (k *pipelineKey) equal(o *pipelineKey) bool {
	return k.vs == o.vs && k.fs == o.fs && k.cs == o.cs &&
		k.input.Equal(o.input) &&
		k.depthStencil == o.depthStencil &&
		k.raster == o.raster &&
		k.blend == o.blend &&
		k.topology == o.topology &&
		k.colorFormats == o.colorFormats &&
		k.colorCount == o.colorCount &&
		k.depthFormat == o.depthFormat &&
		k.sampleCount == o.sampleCount
}

func (k *pipelineKey) hash() uint64 {
	h := fnv.New64a()

	for _, s := range [...]*Shader{k.vs, k.fs, k.cs} {
		if s != nil {
			hashWriteUint64(h, s.id)
			hashWriteUint64(h, s.codeHash)
		} else {
			hashWriteUint64(h, 0)
			hashWriteUint64(h, 0)
		}
	}

	//nolint:gosec // G115: vertex buffer count is bounded by device limits
	hashWriteUint32(h, uint32(len(k.input)))
	for i := range k.input {
		b := &k.input[i]
		hashWriteUint64(h, b.Stride)
		hashWriteUint32(h, uint32(b.StepMode))
		//nolint:gosec // G115: attribute count is bounded by device limits
		hashWriteUint32(h, uint32(len(b.Attributes)))
		for _, a := range b.Attributes {
			hashWriteUint32(h, a.Location)
			hashWriteUint32(h, uint32(a.Format))
			hashWriteUint64(h, a.Offset)
		}
	}

	ds := &k.depthStencil
	hashWriteBool(h, ds.DepthTest)
	hashWriteBool(h, ds.DepthWrite)
	hashWriteUint32(h, uint32(ds.DepthCompare))
	hashWriteBool(h, ds.StencilTest)
	hashWriteUint32(h, uint32(ds.StencilCompare))
	hashWriteUint32(h, uint32(ds.StencilPassOp))
	hashWriteUint32(h, uint32(ds.StencilFailOp))
	hashWriteUint32(h, uint32(ds.StencilDepthFailOp))
	hashWriteUint32(h, uint32(ds.StencilReadMask)<<8|uint32(ds.StencilWriteMask))

	hashWriteUint32(h, uint32(k.raster.CullMode))
	hashWriteUint32(h, uint32(k.raster.FrontFace))
	hashWriteUint32(h, uint32(k.raster.DepthBias))
	hashWriteFloat32(h, k.raster.DepthBiasSlopeScale)

	hashWriteBool(h, k.blend.Enabled)
	for _, c := range [...]BlendComponent{k.blend.Color, k.blend.Alpha} {
		hashWriteUint32(h, uint32(c.Src))
		hashWriteUint32(h, uint32(c.Dst))
		hashWriteUint32(h, uint32(c.Op))
	}
	hashWriteUint32(h, uint32(k.blend.WriteMask))

	hashWriteUint32(h, uint32(k.topology))

	//nolint:gosec // G115: bounded by MaxRenderTargets
	hashWriteUint32(h, uint32(k.colorCount))
	for i := range k.colorCount {
		hashWriteUint32(h, uint32(k.colorFormats[i]))
	}
	hashWriteUint32(h, uint32(k.depthFormat))
	hashWriteUint32(h, k.sampleCount)

	return h.Sum64()
}

// Hash returns an FNV-1a hash of the compile-relevant fields.
func (ps *PipelineState) Hash() uint64 {
	k := ps.key()
	return k.hash()
}

// Equal reports whether two descriptions resolve to the same Pipeline.
func (ps *PipelineState) Equal(o *PipelineState) bool {
	if ps == nil || o == nil {
		return ps == o
	}
	a, b := ps.key(), o.key()
	return a.equal(&b)
}

// colorTargets returns the color attachments of the pass.
func (ps *PipelineState) colorTargets() []*Texture {
	if ps.SwapChain != nil {
		if img := ps.SwapChain.current(); img != nil {
			return []*Texture{img}
		}
		return nil
	}
	n := min(max(ps.RenderTargetCount, 0), MaxRenderTargets)
	out := make([]*Texture, 0, n)
	for _, t := range ps.RenderTargets[:n] {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}
