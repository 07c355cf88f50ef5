// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi/backend"
)

const testVS = "@vertex fn vs_main() -> @builtin(position) vec4<f32> { return vec4<f32>(0.0, 0.0, 0.0, 1.0); }"

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newNoopGPU(t *testing.T, opts ...Option) *GPU {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	t.Cleanup(cleanup)
	g, err := New(device, queue, opts...)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func submitEmpty(t *testing.T, g *GPU, cb backend.CmdBuffer, f backend.Fence) {
	t.Helper()
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
}

func TestNewRejectsNilDevice(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, backend.ErrNotInitialized)
}

func TestNameAndLimits(t *testing.T) {
	limits := backend.Limits{MaxColorAttachments: 4, MaxBindings: 16, MaxTextureDimension: 4096, MaxMipLevels: 13}
	g := newNoopGPU(t, WithLimits(limits))
	assert.Equal(t, backend.BackendNative, g.Name())
	assert.Equal(t, limits, g.Limits())
	assert.NotNil(t, g.Device())
}

func TestObjectLifecycle(t *testing.T) {
	g := newNoopGPU(t)

	tex, err := g.NewTexture(&backend.TextureDescriptor{
		Label:  "tex",
		Width:  8,
		Height: 8,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	require.NoError(t, err)
	desc := tex.Descriptor()
	assert.Equal(t, uint32(1), desc.MipLevelCount, "mip count defaults to 1")
	assert.Equal(t, gputypes.TextureDimension2D, desc.Dimension)

	buf, err := g.NewBuffer(&backend.BufferDescriptor{Label: "buf", Size: 64, Usage: gputypes.BufferUsageUniform})
	require.NoError(t, err)
	assert.Equal(t, uint64(64), buf.Size())

	smp, err := g.NewSampler(&backend.SamplerDescriptor{Label: "smp", MagFilter: gputypes.FilterModeLinear})
	require.NoError(t, err)
	f, err := g.NewFence()
	require.NoError(t, err)
	sem, err := g.NewSemaphore()
	require.NoError(t, err)
	assert.Equal(t, 5, g.Live())

	for _, d := range []backend.Destroyer{tex, buf, smp, f, sem} {
		d.Destroy()
		d.Destroy()
	}
	assert.Equal(t, 0, g.Live())
}

func TestInvalidDescriptors(t *testing.T) {
	g := newNoopGPU(t)

	_, err := g.NewTexture(&backend.TextureDescriptor{Format: gputypes.TextureFormatRGBA8Unorm})
	assert.Error(t, err, "zero-sized texture")
	_, err = g.NewBuffer(&backend.BufferDescriptor{})
	assert.Error(t, err, "zero-sized buffer")
	_, err = g.NewShaderModule(&backend.ShaderModuleDescriptor{Label: "empty"})
	assert.Error(t, err, "shader without source")
	assert.Equal(t, 0, g.Live())
}

func TestShaderModuleSources(t *testing.T) {
	g := newNoopGPU(t)

	compiled, err := g.NewShaderModule(&backend.ShaderModuleDescriptor{
		Label: "compiled",
		Stage: gputypes.ShaderStageVertex,
		WGSL:  testVS,
	})
	require.NoError(t, err)
	defer compiled.Destroy()

	words, err := compileWGSL(testVS)
	require.NoError(t, err)
	require.NotEmpty(t, words)
	assert.Equal(t, uint32(0x07230203), words[0], "SPIR-V magic number")

	spirv, err := g.NewShaderModule(&backend.ShaderModuleDescriptor{Label: "spirv", SPIRV: words})
	require.NoError(t, err)
	defer spirv.Destroy()

	passthrough := newNoopGPU(t, WithWGSLSource())
	src, err := passthrough.shaderSource(&backend.ShaderModuleDescriptor{WGSL: testVS})
	require.NoError(t, err)
	assert.Equal(t, testVS, src.WGSL)
	assert.Empty(t, src.SPIRV)
}

func TestPipelineAndBindingSet(t *testing.T) {
	g := newNoopGPU(t, WithWGSLSource())

	vs, err := g.NewShaderModule(&backend.ShaderModuleDescriptor{Label: "vs", WGSL: testVS})
	require.NoError(t, err)
	defer vs.Destroy()

	bindings := []backend.BindingLayoutEntry{
		{Binding: 0, Kind: backend.BindingUniformBuffer, Visibility: gputypes.ShaderStageVertex},
		{Binding: 1, Kind: backend.BindingTexture, Visibility: gputypes.ShaderStageFragment},
		{Binding: 2, Kind: backend.BindingSampler, Visibility: gputypes.ShaderStageFragment},
	}
	p, err := g.NewPipeline(&backend.PipelineDescriptor{
		Label:       "pipe",
		Vertex:      vs,
		VertexEntry: "vs_main",
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
		DepthStencil: &backend.DepthStencilState{
			Format:       gputypes.TextureFormatDepth24PlusStencil8,
			DepthCompare: gputypes.CompareFunctionLess,
			StencilFront: backend.StencilFaceState{PassOp: backend.StencilOperationReplace},
		},
		Bindings: bindings,
	})
	require.NoError(t, err)
	assert.Equal(t, bindings, p.(*Pipeline).Layout())

	ub, err := g.NewBuffer(&backend.BufferDescriptor{Size: 256, Usage: gputypes.BufferUsageUniform})
	require.NoError(t, err)
	defer ub.Destroy()
	tex, err := g.NewTexture(&backend.TextureDescriptor{
		Width: 4, Height: 4, MipLevelCount: 3,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding,
	})
	require.NoError(t, err)
	defer tex.Destroy()
	smp, err := g.NewSampler(&backend.SamplerDescriptor{})
	require.NoError(t, err)
	defer smp.Destroy()

	set, err := g.NewBindingSet(p, []backend.BindingEntry{
		{Binding: 0, Kind: backend.BindingUniformBuffer, Buffer: ub},
		{Binding: 1, Kind: backend.BindingTexture, Texture: tex},
		{Binding: 2, Kind: backend.BindingSampler, Sampler: smp},
	})
	require.NoError(t, err)
	set.Destroy()

	_, err = g.NewBindingSet(p, []backend.BindingEntry{{Binding: 0, Kind: backend.BindingUniformBuffer}})
	assert.ErrorIs(t, err, backend.ErrInvalidHandle)

	p.Destroy()
	p.Destroy()
}

func TestForeignHandlesRejected(t *testing.T) {
	a := newNoopGPU(t, WithWGSLSource())
	b := newNoopGPU(t, WithWGSLSource())

	vs, err := a.NewShaderModule(&backend.ShaderModuleDescriptor{Label: "vs", WGSL: testVS})
	require.NoError(t, err)
	defer vs.Destroy()
	_, err = b.NewPipeline(&backend.PipelineDescriptor{Label: "foreign", Vertex: vs})
	assert.ErrorIs(t, err, backend.ErrInvalidHandle)

	f, err := a.NewFence()
	require.NoError(t, err)
	defer f.Destroy()
	assert.ErrorIs(t, b.WaitFence(f, time.Second), backend.ErrInvalidHandle)
}

func TestCmdBufferStateMachine(t *testing.T) {
	g := newNoopGPU(t)

	cb, err := g.NewCmdBuffer("cb")
	require.NoError(t, err)
	defer cb.Destroy()

	assert.ErrorIs(t, cb.End(), backend.ErrCmdBufferState, "End before Begin")
	assert.ErrorIs(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb}), backend.ErrCmdBufferState, "Submit before End")

	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.Begin(), backend.ErrCmdBufferState, "Begin twice")
	require.NoError(t, cb.End())

	f, err := g.NewFence()
	require.NoError(t, err)
	defer f.Destroy()
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
	assert.ErrorIs(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb}), backend.ErrCmdBufferState, "resubmit while pending")

	require.NoError(t, g.WaitFence(f, time.Second))
	signaled, err := g.FenceSignaled(f)
	require.NoError(t, err)
	assert.True(t, signaled)

	require.NoError(t, cb.Reset())
	require.NoError(t, g.ResetFence(f))
	signaled, err = g.FenceSignaled(f)
	require.NoError(t, err)
	assert.False(t, signaled, "reset fence")

	submitEmpty(t, g, cb, f)
	require.NoError(t, g.WaitIdle())
}

func TestEndWithOpenPass(t *testing.T) {
	g := newNoopGPU(t)

	tex, err := g.NewTexture(&backend.TextureDescriptor{
		Label: "target", Width: 4, Height: 4,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	require.NoError(t, err)
	defer tex.Destroy()

	cb, err := g.NewCmdBuffer("pass")
	require.NoError(t, err)
	defer cb.Destroy()

	require.NoError(t, cb.Begin())
	cb.BeginPass(&backend.PassDescriptor{
		Label:  "clear",
		Width:  4,
		Height: 4,
		Color: []backend.ColorAttachment{{
			Texture: tex,
			Load:    gputypes.LoadOpClear,
			Store:   gputypes.StoreOpStore,
			Clear:   gputypes.Color{A: 1},
		}},
	})
	cb.SetViewport(backend.Viewport{Width: 4, Height: 4, MaxDepth: 1})
	cb.SetScissor(backend.Rect{X: -2, Y: -2, Width: 4, Height: 4})
	assert.ErrorIs(t, cb.End(), ErrPassOpen)

	cb.EndPass()
	cb.Transition([]backend.Barrier{{
		Texture: tex, Old: backend.ImageLayoutColorAttachment, New: backend.ImageLayoutShaderReadOnly,
		MipCount: 1, LayerCount: 1,
	}})
	require.NoError(t, cb.End())
}

func TestFenceInUse(t *testing.T) {
	g := newNoopGPU(t)

	a, err := g.NewCmdBuffer("a")
	require.NoError(t, err)
	defer a.Destroy()
	b, err := g.NewCmdBuffer("b")
	require.NoError(t, err)
	defer b.Destroy()
	f, err := g.NewFence()
	require.NoError(t, err)
	defer f.Destroy()

	submitEmpty(t, g, a, f)
	require.NoError(t, b.Begin())
	require.NoError(t, b.End())
	assert.ErrorIs(t, g.Submit(&backend.SubmitInfo{CmdBuffer: b, Fence: f}), ErrFenceInUse)

	require.NoError(t, g.WaitFence(f, time.Second))
	require.NoError(t, g.ResetFence(f))
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: b, Fence: f}))
}

func TestWaitUnsubmittedFence(t *testing.T) {
	g := newNoopGPU(t)
	f, err := g.NewFence()
	require.NoError(t, err)
	defer f.Destroy()

	assert.ErrorIs(t, g.WaitFence(f, 10*time.Millisecond), backend.ErrTimeout)
	signaled, err := g.FenceSignaled(f)
	require.NoError(t, err)
	assert.False(t, signaled)
}

func TestSemaphoresRecordSignalValue(t *testing.T) {
	g := newNoopGPU(t)

	cb, err := g.NewCmdBuffer("cb")
	require.NoError(t, err)
	defer cb.Destroy()
	sem, err := g.NewSemaphore()
	require.NoError(t, err)
	defer sem.Destroy()

	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Signal: []backend.Semaphore{sem}}))
	assert.Equal(t, uint64(1), sem.(*Semaphore).value.Load())
}

func TestTextureBarriers(t *testing.T) {
	g := newNoopGPU(t)
	tex, err := g.NewTexture(&backend.TextureDescriptor{
		Width: 16, Height: 16, MipLevelCount: 5,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	require.NoError(t, err)
	defer tex.Destroy()

	got := textureBarriers([]backend.Barrier{
		{Texture: tex, Old: backend.ImageLayoutUndefined, New: backend.ImageLayoutTransferDst, MipCount: 5, LayerCount: 1},
		{Texture: tex, Old: backend.ImageLayoutTransferDst, New: backend.ImageLayoutShaderReadOnly, BaseMip: 1, MipCount: 2, LayerCount: 1},
		// Same usage on both sides: nothing for the device to do.
		{Texture: tex, Old: backend.ImageLayoutDepthStencilReadOnly, New: backend.ImageLayoutShaderReadOnly, MipCount: 1, LayerCount: 1},
	})
	require.Len(t, got, 2)
	assert.Equal(t, gputypes.TextureUsage(0), got[0].Usage.OldUsage)
	assert.Equal(t, gputypes.TextureUsageCopyDst, got[0].Usage.NewUsage)
	assert.Equal(t, uint32(1), got[1].Range.BaseMipLevel)
	assert.Equal(t, uint32(2), got[1].Range.MipLevelCount)
	assert.Equal(t, gputypes.TextureUsageTextureBinding, got[1].Usage.NewUsage)
}

func TestTextureViewsCached(t *testing.T) {
	g := newNoopGPU(t)
	bt, err := g.NewTexture(&backend.TextureDescriptor{
		Width: 16, Height: 16, MipLevelCount: 3,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment,
	})
	require.NoError(t, err)
	tex := bt.(*Texture)

	v1, err := tex.mipView(1)
	require.NoError(t, err)
	v2, err := tex.mipView(1)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	s1, err := tex.sampledView()
	require.NoError(t, err)
	s2, err := tex.sampledView()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	tex.Destroy()
	_, err = tex.mipView(0)
	assert.ErrorIs(t, err, ErrTextureDestroyed)
	_, err = tex.sampledView()
	assert.ErrorIs(t, err, ErrTextureDestroyed)
	assert.Nil(t, tex.Raw())
}

func TestStencilOpMapping(t *testing.T) {
	tests := []struct {
		in   backend.StencilOperation
		want hal.StencilOperation
	}{
		{backend.StencilOperationKeep, hal.StencilOperationKeep},
		{backend.StencilOperationZero, hal.StencilOperationZero},
		{backend.StencilOperationReplace, hal.StencilOperationReplace},
		{backend.StencilOperationInvert, hal.StencilOperationInvert},
		{backend.StencilOperationIncrementWrap, hal.StencilOperationIncrementWrap},
		{backend.StencilOperationDecrementWrap, hal.StencilOperationDecrementWrap},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stencilOp(tt.in), "stencilOp(%d)", tt.in)
	}
	assert.Equal(t, gputypes.CompareFunctionAlways, stencilFace(backend.StencilFaceState{}).Compare)
}

func TestClosedGPURejectsWork(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	g, err := New(device, queue)
	require.NoError(t, err)

	buf, err := g.NewBuffer(&backend.BufferDescriptor{Size: 16})
	require.NoError(t, err)
	buf.Destroy()

	g.Close()
	g.Close()
	assert.ErrorIs(t, g.WriteBuffer(buf, 0, make([]byte, 4)), backend.ErrNotInitialized)
}
