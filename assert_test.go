//go:build !rhi_noassert

package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// mustViolate runs fn and reports whether it panicked with an
// *InvariantError.
func mustViolate(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		err, ok := r.(error)
		var inv *InvariantError
		if !ok || !errors.As(err, &inv) {
			t.Errorf("%s: recovered %v, want *InvariantError", name, r)
		}
	}()
	fn()
	t.Errorf("%s: did not panic", name)
}

func TestSpecificMipWithoutPerMipViews(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "no views", TextureShaderRead, 3)
	f.begin(t)

	mustViolate(t, "TransitionTo(mip 1)", func() {
		_ = tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, 1, false)
	})
	if got := tex.Layout(1); got != backend.ImageLayoutShaderReadOnly {
		t.Errorf("Layout(1) = %v, want ShaderReadOnly", got)
	}
}

func TestMipZeroRangedWithoutPerMipViews(t *testing.T) {
	// Mip 0 is a specific level even when ranged; only AllMips skips the
	// per-mip view requirement.
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "whole", TextureShaderRead, 3)
	f.begin(t)
	mustViolate(t, "TransitionTo(0, ranged)", func() {
		_ = tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, 0, true)
	})
	for mip := range 3 {
		if got := tex.Layout(mip); got != backend.ImageLayoutShaderReadOnly {
			t.Errorf("Layout(%d) = %v, want ShaderReadOnly", mip, got)
		}
	}

	if err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, AllMips, true); err != nil {
		t.Fatalf("TransitionTo(AllMips, ranged) = %v", err)
	}
	for mip := range 3 {
		if got := tex.Layout(mip); got != backend.ImageLayoutGeneral {
			t.Errorf("Layout(%d) = %v, want General", mip, got)
		}
	}
}

func TestSwapChainImageMismatch(t *testing.T) {
	f := newFrameFixture(t, WithFramesInFlight(2))
	sc, err := f.d.NewSwapChain(SwapChainDescriptor{
		Label:  "window",
		Width:  8,
		Height: 8,
		Format: gputypes.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatalf("NewSwapChain() = %v", err)
	}
	t.Cleanup(sc.Destroy)

	ps := f.cl.PipelineState()
	ps.VertexShader, ps.PixelShader = f.vs, f.fs
	ps.SwapChain = sc
	if err := f.cl.Begin("present"); err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	if err := f.cl.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	// Acquiring again moves the swap chain to an image the recorded slot
	// does not own.
	sc.Acquire()

	mustViolate(t, "Submit()", func() { _ = f.cl.Submit() })
	if got := f.gpu.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	f.cl.Discard()
}
