package rhi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/backend/software"
)

func TestTextureInitialLayout(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		flags TextureFlags
		want  backend.ImageLayout
	}{
		{TextureShaderRead, backend.ImageLayoutShaderReadOnly},
		{TextureShaderRead | TextureRenderTarget, backend.ImageLayoutShaderReadOnly},
		{TextureStorage, backend.ImageLayoutGeneral},
		{TextureRenderTarget, backend.ImageLayoutColorAttachment},
		{0, backend.ImageLayoutShaderReadOnly},
	}
	for _, tt := range tests {
		tex := newTestTexture(t, d, "layout", tt.flags, 3)
		for mip := range tex.MipLevels() {
			if got := tex.Layout(mip); got != tt.want {
				t.Errorf("flags %b: Layout(%d) = %v, want %v", tt.flags, mip, got, tt.want)
			}
			sw := tex.Handle().(*software.Texture)
			if got := sw.Layout(uint32(mip)); got != tt.want {
				t.Errorf("flags %b: device layout of mip %d = %v, want %v", tt.flags, mip, got, tt.want)
			}
		}
	}
	if errs := softGPU(d).ValidationErrors(); len(errs) > 0 {
		t.Errorf("device validation errors:\n%v", errs)
	}
}

func TestTextureDescriptorValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc TextureDescriptor
	}{
		{"zero size", TextureDescriptor{Width: 0, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}},
		{"no format", TextureDescriptor{Width: 4, Height: 4}},
		{"too many mips", TextureDescriptor{Width: 4, Height: 4, MipLevels: 4, Format: gputypes.TextureFormatRGBA8Unorm}},
		{"too much data", TextureDescriptor{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, Data: [][]byte{nil, nil}}},
		{"short data", TextureDescriptor{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, Data: [][]byte{make([]byte, 15)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.desc.Label = tt.name
			if _, err := d.NewTexture(tt.desc); !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("NewTexture() = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestTextureFullMipChain(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.NewTexture(TextureDescriptor{
		Label:  "chain",
		Width:  64,
		Height: 16,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  TextureShaderRead | TextureGenerateMips,
	})
	if err != nil {
		t.Fatalf("NewTexture() = %v", err)
	}
	t.Cleanup(tex.Destroy)
	if got := tex.MipLevels(); got != 7 {
		t.Errorf("MipLevels() = %d, want 7", got)
	}
}

func TestTextureUpload(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 4, 2
	texels := make([]byte, w*h*4)
	for i := range texels {
		texels[i] = byte(i)
	}
	tex, err := d.NewTexture(TextureDescriptor{
		Label:  "upload",
		Width:  w,
		Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  TextureShaderRead,
		Data:   [][]byte{texels},
	})
	if err != nil {
		t.Fatalf("NewTexture() = %v", err)
	}
	t.Cleanup(tex.Destroy)

	data := tex.Handle().(*software.Texture).Data(0)
	if len(data) != copyRowAlignment*h {
		t.Fatalf("device mip 0 holds %d bytes, want %d", len(data), copyRowAlignment*h)
	}
	for y := range h {
		got := data[y*copyRowAlignment : y*copyRowAlignment+w*4]
		want := texels[y*w*4 : (y+1)*w*4]
		if !bytes.Equal(got, want) {
			t.Errorf("row %d = %v, want %v", y, got, want)
		}
	}
	if got := tex.Layout(0); got != backend.ImageLayoutShaderReadOnly {
		t.Errorf("Layout(0) = %v, want ShaderReadOnly", got)
	}

	gpu := softGPU(d)
	if errs := gpu.ValidationErrors(); len(errs) > 0 {
		t.Errorf("device validation errors:\n%v", errs)
	}
	// Staging buffers are released once the upload retired.
	if got := gpu.Live().Buffers; got != 1 {
		t.Errorf("live buffers = %d, want 1 (fallback constants)", got)
	}
}

func TestTextureGenerateMips(t *testing.T) {
	d := newTestDevice(t)
	const size = 4
	white := bytes.Repeat([]byte{0xff}, size*size*4)
	tex, err := d.NewTexture(TextureDescriptor{
		Label:  "white",
		Width:  size,
		Height: size,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  TextureShaderRead | TextureGenerateMips,
		Data:   [][]byte{white},
	})
	if err != nil {
		t.Fatalf("NewTexture() = %v", err)
	}
	t.Cleanup(tex.Destroy)

	sw := tex.Handle().(*software.Texture)
	for mip := 1; mip < tex.MipLevels(); mip++ {
		data := sw.Data(uint32(mip))
		if len(data) == 0 {
			t.Fatalf("mip %d was not uploaded", mip)
		}
		mw, _ := mipExtent(size, size, mip)
		for i, b := range data[:mw*4] {
			if b != 0xff {
				t.Fatalf("mip %d byte %d = %#x, want 0xff", mip, i, b)
			}
		}
	}
}

func TestTextureGenerateMipsUnsupportedFormat(t *testing.T) {
	d := newTestDevice(t)
	_, err := d.NewTexture(TextureDescriptor{
		Label:  "float",
		Width:  4,
		Height: 4,
		Format: gputypes.TextureFormatR32Float,
		Flags:  TextureGenerateMips,
		Data:   [][]byte{make([]byte, 64)},
	})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("NewTexture() = %v, want ErrInvalidDescriptor", err)
	}
}

func TestTransitionElided(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "sampled", TextureShaderRead|TexturePerMipViews, 4)
	f.begin(t)
	before := countOps(f.cl, software.OpTransition)

	for _, mip := range []int{AllMips, 0, 2} {
		if err := tex.TransitionTo(backend.ImageLayoutShaderReadOnly, f.cl, mip, false); err != nil {
			t.Fatalf("TransitionTo(mip %d) = %v", mip, err)
		}
	}
	if err := tex.TransitionTo(backend.ImageLayoutShaderReadOnly, f.cl, 1, true); err != nil {
		t.Fatalf("TransitionTo(ranged) = %v", err)
	}

	if got := countOps(f.cl, software.OpTransition) - before; got != 0 {
		t.Errorf("recorded %d transitions for textures already in place", got)
	}
	if got := f.cl.Stats().BarriersElided; got < 4 {
		t.Errorf("BarriersElided = %d, want at least 4", got)
	}
	// The pass was not interrupted.
	if got := countOps(f.cl, software.OpEndPass); got != 0 {
		t.Errorf("EndPass count = %d, want 0", got)
	}
}

func TestTransitionSubRange(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "mips", TextureShaderRead|TexturePerMipViews, 4)
	f.begin(t)

	// mips 0 and 3 already General: only [1,3) differs.
	for _, mip := range []int{0, 3} {
		if err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, mip, false); err != nil {
			t.Fatalf("TransitionTo(mip %d) = %v", mip, err)
		}
	}
	before := countOps(f.cl, software.OpTransition)

	if err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, AllMips, false); err != nil {
		t.Fatalf("TransitionTo(AllMips) = %v", err)
	}
	if got := countOps(f.cl, software.OpTransition) - before; got != 1 {
		t.Fatalf("recorded %d transition instructions, want 1", got)
	}
	c := lastOp(f.cl, software.OpTransition)
	if len(c.Barriers) != 1 {
		t.Fatalf("instruction has %d barriers, want 1", len(c.Barriers))
	}
	b := c.Barriers[0]
	if b.BaseMip != 1 || b.MipCount != 2 || b.Old != backend.ImageLayoutShaderReadOnly || b.New != backend.ImageLayoutGeneral {
		t.Errorf("barrier = %+v, want mips [1,3) ShaderReadOnly -> General", b)
	}
	for mip := range 4 {
		if got := tex.Layout(mip); got != backend.ImageLayoutGeneral {
			t.Errorf("Layout(%d) = %v, want General", mip, got)
		}
	}

	if err := f.cl.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if err := f.cl.Submit(); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	f.checkValid(t)
	sw := tex.Handle().(*software.Texture)
	for mip := range uint32(4) {
		if got := sw.Layout(mip); got != backend.ImageLayoutGeneral {
			t.Errorf("device layout of mip %d = %v, want General", mip, got)
		}
	}
}

func TestTransitionMixedRange(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "mixed", TextureShaderRead|TexturePerMipViews, 4)
	f.begin(t)

	// mip 1 General, mip 2 already TransferSrc: one instruction with a
	// barrier per run of equal source layouts.
	if err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, 1, false); err != nil {
		t.Fatalf("TransitionTo(1) = %v", err)
	}
	if err := tex.TransitionTo(backend.ImageLayoutTransferSrc, f.cl, 2, false); err != nil {
		t.Fatalf("TransitionTo(2) = %v", err)
	}
	before := countOps(f.cl, software.OpTransition)
	if err := tex.TransitionTo(backend.ImageLayoutTransferSrc, f.cl, 0, true); err != nil {
		t.Fatalf("TransitionTo(ranged) = %v", err)
	}
	if got := countOps(f.cl, software.OpTransition) - before; got != 1 {
		t.Fatalf("recorded %d transition instructions, want 1", got)
	}
	c := lastOp(f.cl, software.OpTransition)
	if len(c.Barriers) != 3 {
		t.Fatalf("instruction has %d barriers, want 3: %+v", len(c.Barriers), c.Barriers)
	}
	want := []struct {
		base, count uint32
		old         backend.ImageLayout
	}{
		{0, 1, backend.ImageLayoutShaderReadOnly},
		{1, 1, backend.ImageLayoutGeneral},
		{3, 1, backend.ImageLayoutShaderReadOnly},
	}
	for i, w := range want {
		b := c.Barriers[i]
		if b.BaseMip != w.base || b.MipCount != w.count || b.Old != w.old {
			t.Errorf("barrier %d = %+v, want base %d count %d old %v", i, b, w.base, w.count, w.old)
		}
	}

	f.cl.Discard()
	for mip := range 4 {
		if got := tex.Layout(mip); got != backend.ImageLayoutShaderReadOnly {
			t.Errorf("Layout(%d) after Discard = %v, want ShaderReadOnly", mip, got)
		}
	}
}

func TestTransitionNotRecording(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "idle", TextureShaderRead, 1)

	err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, AllMips, false)
	if !errors.Is(err, ErrNotRecording) {
		t.Fatalf("TransitionTo() while idle = %v, want ErrNotRecording", err)
	}
	if got := tex.Layout(0); got != backend.ImageLayoutShaderReadOnly {
		t.Errorf("Layout(0) = %v, want ShaderReadOnly", got)
	}
}

func TestTransitionMipOutOfRange(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "two mips", TextureShaderRead|TexturePerMipViews, 2)
	f.begin(t)

	for _, mip := range []int{2, -2} {
		err := tex.TransitionTo(backend.ImageLayoutGeneral, f.cl, mip, false)
		if !errors.Is(err, ErrMipOutOfRange) {
			t.Errorf("TransitionTo(mip %d) = %v, want ErrMipOutOfRange", mip, err)
		}
	}
}

func TestTransitionDestroyedTexture(t *testing.T) {
	f := newFrameFixture(t)
	tex := newTestTexture(t, f.d, "gone", TextureShaderRead, 1)
	tex.Destroy()
	f.begin(t)
	if err := f.cl.TransitionLayout(tex, backend.ImageLayoutGeneral, AllMips, false); !errors.Is(err, ErrDestroyed) {
		t.Errorf("TransitionLayout() on destroyed texture = %v, want ErrDestroyed", err)
	}
}
