package software

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi/backend"
)

func newTestPipeline(t *testing.T, g *GPU, bindings ...backend.BindingLayoutEntry) backend.Pipeline {
	t.Helper()
	vs, err := g.NewShaderModule(&backend.ShaderModuleDescriptor{
		Label: "vs",
		Stage: gputypes.ShaderStageVertex,
		WGSL:  "@vertex fn vs_main() -> @builtin(position) vec4<f32> { return vec4<f32>(); }",
	})
	require.NoError(t, err)
	p, err := g.NewPipeline(&backend.PipelineDescriptor{
		Label:       "test",
		Vertex:      vs,
		VertexEntry: "vs_main",
		Bindings:    bindings,
	})
	require.NoError(t, err)
	return p
}

func newTestTexture(t *testing.T, g *GPU, mips uint32) *Texture {
	t.Helper()
	tex, err := g.NewTexture(&backend.TextureDescriptor{
		Label:         "tex",
		Width:         16,
		Height:        16,
		MipLevelCount: mips,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment,
	})
	require.NoError(t, err)
	return tex.(*Texture)
}

func submitEmpty(t *testing.T, g *GPU, cb backend.CmdBuffer, f backend.Fence) {
	t.Helper()
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
}

func TestCmdBufferStateMachine(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	cb, err := g.NewCmdBuffer("cb")
	require.NoError(t, err)

	assert.ErrorIs(t, cb.End(), backend.ErrCmdBufferState, "End before Begin")
	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.Begin(), backend.ErrCmdBufferState, "Begin twice")
	require.NoError(t, cb.End())

	f, _ := g.NewFence()
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
	assert.ErrorIs(t, cb.Reset(), backend.ErrCmdBufferState, "Reset while pending")

	assert.True(t, g.Retire())
	require.NoError(t, cb.Reset())
	require.NoError(t, cb.Begin())
}

func TestSubmitRequiresEndedBuffer(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	cb, _ := g.NewCmdBuffer("cb")
	require.NoError(t, cb.Begin())

	err := g.Submit(&backend.SubmitInfo{CmdBuffer: cb})
	assert.ErrorIs(t, err, backend.ErrCmdBufferState)
	assert.Equal(t, 0, g.Pending())
}

func TestFenceWaitManualRetire(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	cb, _ := g.NewCmdBuffer("cb")
	f, _ := g.NewFence()
	submitEmpty(t, g, cb, f)

	assert.ErrorIs(t, g.WaitFence(f, 10*time.Millisecond), backend.ErrTimeout)

	signaled, err := g.FenceSignaled(f)
	require.NoError(t, err)
	assert.False(t, signaled)

	done := make(chan error, 1)
	go func() { done <- g.WaitFence(f, 0) }()

	select {
	case <-done:
		t.Fatal("WaitFence returned before the submission retired")
	case <-time.After(20 * time.Millisecond):
	}

	g.Retire()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitFence did not return after Retire")
	}
}

func TestFenceReset(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	cb, _ := g.NewCmdBuffer("cb")
	f, _ := g.NewFence()
	submitEmpty(t, g, cb, f)

	assert.ErrorIs(t, g.ResetFence(f), ErrFenceInUse)
	g.Flush()

	// A signaled fence cannot be submitted again until reset.
	require.NoError(t, cb.Reset())
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	assert.ErrorIs(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}), ErrFenceInUse)

	require.NoError(t, g.ResetFence(f))
	signaled, _ := g.FenceSignaled(f)
	assert.False(t, signaled)
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
	g.Flush()
	signaled, _ = g.FenceSignaled(f)
	assert.True(t, signaled)
}

func TestAsyncQueueRetires(t *testing.T) {
	g := New(WithLatency(time.Millisecond))
	defer g.Close()

	cb, _ := g.NewCmdBuffer("cb")
	f, _ := g.NewFence()
	submitEmpty(t, g, cb, f)

	require.NoError(t, g.WaitFence(f, time.Second))
	require.NoError(t, g.WaitIdle())
	assert.Len(t, g.History(), 1)
}

func TestFailNextSubmit(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	injected := errors.New("queue rejected")
	g.FailNextSubmit(injected)

	cb, _ := g.NewCmdBuffer("cb")
	f, _ := g.NewFence()
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())

	assert.ErrorIs(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}), injected)
	assert.Equal(t, 0, g.Pending())

	// The failure is one-shot and leaves the fence usable.
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}))
}

func TestLoseDevice(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	f, _ := g.NewFence()
	g.LoseDevice()
	assert.ErrorIs(t, g.WaitFence(f, time.Millisecond), backend.ErrDeviceLost)
}

func TestTransitionValidation(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	tex := newTestTexture(t, g, 4)
	cb, _ := g.NewCmdBuffer("cb")

	require.NoError(t, cb.Begin())
	cb.Transition([]backend.Barrier{{
		Texture: tex, Old: backend.ImageLayoutUndefined, New: backend.ImageLayoutShaderReadOnly,
		MipCount: 4, LayerCount: 1,
	}})
	cb.Transition([]backend.Barrier{{
		Texture: tex, Old: backend.ImageLayoutShaderReadOnly, New: backend.ImageLayoutGeneral,
		BaseMip: 1, MipCount: 2, LayerCount: 1,
	}})
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb}))
	g.Flush()

	assert.Empty(t, g.ValidationErrors())
	assert.Equal(t, backend.ImageLayoutShaderReadOnly, tex.Layout(0))
	assert.Equal(t, backend.ImageLayoutGeneral, tex.Layout(1))
	assert.Equal(t, backend.ImageLayoutGeneral, tex.Layout(2))
	assert.Equal(t, backend.ImageLayoutShaderReadOnly, tex.Layout(3))

	// A stale old layout is reported.
	require.NoError(t, cb.Reset())
	require.NoError(t, cb.Begin())
	cb.Transition([]backend.Barrier{{
		Texture: tex, Old: backend.ImageLayoutShaderReadOnly, New: backend.ImageLayoutTransferDst,
		BaseMip: 1, MipCount: 1, LayerCount: 1,
	}})
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb}))
	g.Flush()

	assert.Len(t, g.ValidationErrors(), 1)
}

func TestRecordingRules(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	tex := newTestTexture(t, g, 1)
	p := newTestPipeline(t, g)
	cb, _ := g.NewCmdBuffer("cb")

	cb.Draw(3, 1, 0, 0) // not recording
	require.NoError(t, cb.Begin())
	cb.Draw(3, 1, 0, 0) // outside a pass
	cb.BeginPass(&backend.PassDescriptor{Color: []backend.ColorAttachment{{Texture: tex}}})
	cb.Draw(3, 1, 0, 0) // no pipeline
	cb.SetPipeline(p)
	cb.Draw(3, 1, 0, 0)
	cb.Transition([]backend.Barrier{{Texture: tex, MipCount: 1}}) // inside a pass
	assert.ErrorIs(t, cb.End(), backend.ErrCmdBufferState)
	cb.EndPass()
	require.NoError(t, cb.End())

	cmds := cb.(*CmdBuffer).Commands()
	assert.Equal(t, 1, CountOps(cmds, OpDraw))
	assert.Equal(t, 0, CountOps(cmds, OpTransition))
	assert.Len(t, g.ValidationErrors(), 4)
}

func TestBindingSetValidation(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	p := newTestPipeline(t, g,
		backend.BindingLayoutEntry{Binding: 0, Kind: backend.BindingUniformBuffer},
		backend.BindingLayoutEntry{Binding: 1, Kind: backend.BindingTexture},
	)
	buf, err := g.NewBuffer(&backend.BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageUniform})
	require.NoError(t, err)
	tex := newTestTexture(t, g, 1)

	_, err = g.NewBindingSet(p, []backend.BindingEntry{
		{Binding: 0, Kind: backend.BindingUniformBuffer, Buffer: buf, Size: 64},
		{Binding: 1, Kind: backend.BindingTexture, Texture: tex},
	})
	require.NoError(t, err)

	_, err = g.NewBindingSet(p, []backend.BindingEntry{{Binding: 1, Kind: backend.BindingTexture}})
	assert.ErrorIs(t, err, backend.ErrInvalidHandle, "nil texture")

	_, err = g.NewBindingSet(p, []backend.BindingEntry{{Binding: 5, Kind: backend.BindingTexture, Texture: tex}})
	assert.Error(t, err, "undeclared binding")

	_, err = g.NewBindingSet(p, []backend.BindingEntry{{Binding: 0, Kind: backend.BindingSampler}})
	assert.Error(t, err, "kind mismatch")
}

func TestCopyBufferToTexture(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	tex := newTestTexture(t, g, 1)
	staging, _ := g.NewBuffer(&backend.BufferDescriptor{Size: 16 * 16 * 4, Usage: gputypes.BufferUsageCopySrc})
	payload := make([]byte, 16*16*4)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, g.WriteBuffer(staging, 0, payload))
	assert.Error(t, g.WriteBuffer(staging, 1, payload), "overflow")

	cb, _ := g.NewCmdBuffer("upload")
	require.NoError(t, cb.Begin())
	cb.Transition([]backend.Barrier{{Texture: tex, New: backend.ImageLayoutTransferDst, MipCount: 1, LayerCount: 1}})
	cb.CopyBufferToTexture(staging, tex, []backend.BufferTextureCopy{{BytesPerRow: 64, Width: 16, Height: 16}})
	require.NoError(t, cb.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: cb}))
	g.Flush()

	assert.Empty(t, g.ValidationErrors())
	assert.Equal(t, payload, tex.Data(0))
}

func TestSemaphoreWaitWithoutSignal(t *testing.T) {
	g := New(WithManualRetire())
	defer g.Close()

	sem, _ := g.NewSemaphore()
	first, _ := g.NewCmdBuffer("first")
	second, _ := g.NewCmdBuffer("second")

	for _, cb := range []backend.CmdBuffer{first, second} {
		require.NoError(t, cb.Begin())
		require.NoError(t, cb.End())
	}
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: first, Signal: []backend.Semaphore{sem}}))
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: second, Wait: []backend.Semaphore{sem}}))
	g.Flush()
	assert.Empty(t, g.ValidationErrors())

	require.NoError(t, second.Reset())
	require.NoError(t, second.Begin())
	require.NoError(t, second.End())
	require.NoError(t, g.Submit(&backend.SubmitInfo{CmdBuffer: second, Wait: []backend.Semaphore{sem}}))
	g.Flush()
	assert.Len(t, g.ValidationErrors(), 1)
}

func TestLiveCounts(t *testing.T) {
	g := New()
	defer g.Close()

	cb, _ := g.NewCmdBuffer("cb")
	f, _ := g.NewFence()
	s, _ := g.NewSemaphore()
	tex := newTestTexture(t, g, 1)

	assert.Equal(t, Counts{CmdBuffers: 1, Fences: 1, Semaphores: 1, Textures: 1}, g.Live())

	for _, d := range []backend.Destroyer{cb, f, s, tex} {
		d.Destroy()
		d.Destroy()
	}
	assert.Equal(t, 0, g.Live().Total())
}

func TestTextureLimits(t *testing.T) {
	g := New(WithLimits(backend.Limits{MaxTextureDimension: 64, MaxMipLevels: 4, MaxBindings: 4, MaxColorAttachments: 1}))
	defer g.Close()

	_, err := g.NewTexture(&backend.TextureDescriptor{Width: 128, Height: 1})
	assert.Error(t, err)
	_, err = g.NewTexture(&backend.TextureDescriptor{Width: 8, Height: 8, MipLevelCount: 5})
	assert.Error(t, err)

	tex, err := g.NewTexture(&backend.TextureDescriptor{Width: 8, Height: 8})
	require.NoError(t, err)
	d := tex.Descriptor()
	assert.Equal(t, uint32(1), d.MipLevelCount)
	assert.Equal(t, uint32(1), d.DepthOrArrayLayers)
}

func TestConcurrentSubmit(t *testing.T) {
	g := New()
	defer g.Close()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb, _ := g.NewCmdBuffer("cb")
			f, _ := g.NewFence()
			if err := cb.Begin(); err != nil {
				t.Error(err)
				return
			}
			if err := cb.End(); err != nil {
				t.Error(err)
				return
			}
			if err := g.Submit(&backend.SubmitInfo{CmdBuffer: cb, Fence: f}); err != nil {
				t.Error(err)
				return
			}
			if err := g.WaitFence(f, time.Second); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, g.WaitIdle())
	assert.Len(t, g.History(), n)
}

func TestBackendRegistered(t *testing.T) {
	require.True(t, backend.IsRegistered(backend.BackendSoftware))

	b, err := backend.Open(backend.BackendSoftware)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, backend.BackendSoftware, b.Name())
	require.NotNil(t, b.GPU())
	assert.Equal(t, backend.BackendSoftware, b.GPU().Name())
}
