package rhi

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/backend/software"
)

// newTestDevice creates a Device on a software GPU that holds submissions
// until Retire or Flush is called.
func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	return newTestDeviceOn(t, software.New(software.WithManualRetire()), opts...)
}

func newTestDeviceOn(t *testing.T, gpu *software.GPU, opts ...Option) *Device {
	t.Helper()
	t.Cleanup(gpu.Close)
	d, err := NewDevice(gpu, opts...)
	if err != nil {
		t.Fatalf("NewDevice() = %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func softGPU(d *Device) *software.GPU {
	return d.GPU().(*software.GPU)
}

// recorded returns the commands recorded so far into the active slot.
func recorded(cl *CommandList) []software.Command {
	return cl.cmd().(*software.CmdBuffer).Commands()
}

func countOps(cl *CommandList, op software.Op) int {
	return software.CountOps(recorded(cl), op)
}

func lastOp(cl *CommandList, op software.Op) *software.Command {
	cmds := recorded(cl)
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Op == op {
			return &cmds[i]
		}
	}
	return nil
}

func newTestShaders(t *testing.T, d *Device) (vs, fs *Shader) {
	t.Helper()
	var err error
	vs, err = d.NewShader(ShaderDescriptor{
		Label: "test vs",
		Stage: gputypes.ShaderStageVertex,
		WGSL:  "@vertex fn vs_main() -> @builtin(position) vec4<f32> { return vec4<f32>(); }",
	})
	if err != nil {
		t.Fatalf("NewShader(vs) = %v", err)
	}
	fs, err = d.NewShader(ShaderDescriptor{
		Label: "test fs",
		Stage: gputypes.ShaderStageFragment,
		WGSL:  "@fragment fn fs_main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }",
		Bindings: []ShaderBinding{
			{Slot: 0, Kind: backend.BindingTexture},
			{Slot: 1, Kind: backend.BindingSampler},
		},
	})
	if err != nil {
		t.Fatalf("NewShader(fs) = %v", err)
	}
	return vs, fs
}

func newTestTexture(t *testing.T, d *Device, label string, flags TextureFlags, mips uint32) *Texture {
	t.Helper()
	tex, err := d.NewTexture(TextureDescriptor{
		Label:     label,
		Width:     16,
		Height:    16,
		MipLevels: mips,
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Flags:     flags,
	})
	if err != nil {
		t.Fatalf("NewTexture(%q) = %v", label, err)
	}
	t.Cleanup(tex.Destroy)
	return tex
}

// frameFixture is a device with one command list rendering into an
// offscreen target.
type frameFixture struct {
	d      *Device
	gpu    *software.GPU
	cl     *CommandList
	vs, fs *Shader
	target *Texture
}

func newFrameFixture(t *testing.T, opts ...Option) *frameFixture {
	t.Helper()
	d := newTestDevice(t, opts...)
	f := &frameFixture{d: d, gpu: softGPU(d)}
	f.vs, f.fs = newTestShaders(t, d)
	f.target = newTestTexture(t, d, "target", TextureRenderTarget, 1)

	cl, err := d.NewCommandList("main")
	if err != nil {
		t.Fatalf("NewCommandList() = %v", err)
	}
	f.cl = cl
	f.gpu.ClearHistory()
	return f
}

// describe fills the list's next pipeline description.
func (f *frameFixture) describe() *PipelineState {
	ps := f.cl.PipelineState()
	ps.VertexShader = f.vs
	ps.PixelShader = f.fs
	ps.RenderTargets[0] = f.target
	ps.RenderTargetCount = 1
	return ps
}

func (f *frameFixture) begin(t *testing.T) {
	t.Helper()
	f.describe()
	if err := f.cl.Begin("frame"); err != nil {
		t.Fatalf("Begin() = %v", err)
	}
}

// frame records and submits one pass with a single draw.
func (f *frameFixture) frame(t *testing.T) {
	t.Helper()
	f.begin(t)
	if err := f.cl.Draw(3); err != nil {
		t.Fatalf("Draw() = %v", err)
	}
	if err := f.cl.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if err := f.cl.Submit(); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
}

func (f *frameFixture) checkValid(t *testing.T) {
	t.Helper()
	f.gpu.Flush()
	if errs := f.gpu.ValidationErrors(); len(errs) > 0 {
		t.Errorf("device validation errors:\n%v", errs)
	}
}
