package rhi

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestPipelineStateReset(t *testing.T) {
	ps := PipelineState{
		Topology:    gputypes.PrimitiveTopologyPointList,
		Blend:       BlendAlpha,
		PassName:    "old",
		SampleCount: 4,
	}
	ps.Reset()

	want := NewPipelineState()
	if !ps.Equal(&want) {
		t.Error("Reset() state differs from NewPipelineState()")
	}
	if ps.PassName != "" || ps.ClearDepth != 1 || ps.SampleCount != 1 {
		t.Errorf("Reset() = %+v", ps)
	}
	if ps.Topology != gputypes.PrimitiveTopologyTriangleList {
		t.Errorf("Topology = %v, want TriangleList", ps.Topology)
	}
	if ps.IsComplete() {
		t.Error("IsComplete() = true without a vertex shader")
	}
}

func TestPipelineStateEqualIgnoresPerPassFields(t *testing.T) {
	vs := &Shader{id: 1, codeHash: 10}
	a := NewPipelineState()
	a.VertexShader = vs
	b := a

	b.Clear = ClearColor | ClearDepth
	b.ClearValue = gputypes.Color{R: 1}
	b.ClearDepth = 0
	b.ClearStencil = 7
	b.PassName = "shadow"

	if !a.Equal(&b) {
		t.Error("Equal() = false for descriptions differing only in per-pass fields")
	}
	if a.Hash() != b.Hash() {
		t.Error("Hash() differs for equal descriptions")
	}
}

func TestPipelineStateEqualTargets(t *testing.T) {
	vs := &Shader{id: 1, codeHash: 10}
	rgba1 := &Texture{desc: TextureDescriptor{Format: gputypes.TextureFormatRGBA8Unorm}}
	rgba2 := &Texture{desc: TextureDescriptor{Format: gputypes.TextureFormatRGBA8Unorm}}
	bgra := &Texture{desc: TextureDescriptor{Format: gputypes.TextureFormatBGRA8Unorm}}

	a := NewPipelineState()
	a.VertexShader = vs
	a.RenderTargets[0], a.RenderTargetCount = rgba1, 1

	// Attachment identity does not matter, its format does.
	b := a
	b.RenderTargets[0] = rgba2
	if !a.Equal(&b) || a.Hash() != b.Hash() {
		t.Error("targets of the same format compare unequal")
	}

	c := a
	c.RenderTargets[0] = bgra
	if a.Equal(&c) {
		t.Error("targets of different formats compare equal")
	}

	d := a
	d.RenderTargets[1], d.RenderTargetCount = rgba2, 2
	if a.Equal(&d) {
		t.Error("different target counts compare equal")
	}
}

func TestPipelineStateEqualFields(t *testing.T) {
	vs := &Shader{id: 1, codeHash: 10}
	vs2 := &Shader{id: 2, codeHash: 10}
	fs := &Shader{id: 3, codeHash: 30}
	base := NewPipelineState()
	base.VertexShader = vs

	tests := []struct {
		name   string
		mutate func(ps *PipelineState)
	}{
		{"vertex shader", func(ps *PipelineState) { ps.VertexShader = vs2 }},
		{"pixel shader", func(ps *PipelineState) { ps.PixelShader = fs }},
		{"topology", func(ps *PipelineState) { ps.Topology = gputypes.PrimitiveTopologyLineStrip }},
		{"blend", func(ps *PipelineState) { ps.Blend = BlendAdditive }},
		{"rasterizer", func(ps *PipelineState) { ps.Rasterizer = RasterizerCullBack }},
		{"depth", func(ps *PipelineState) { ps.DepthStencil = DepthReadOnly }},
		{"depth bias", func(ps *PipelineState) { ps.Rasterizer.DepthBias = 2 }},
		{"sample count", func(ps *PipelineState) { ps.SampleCount = 4 }},
		{"input layout", func(ps *PipelineState) {
			ps.InputLayout = InputLayout{{Stride: 16}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := base
			tt.mutate(&ps)
			if base.Equal(&ps) {
				t.Error("Equal() = true")
			}
			if base.Hash() == ps.Hash() {
				t.Error("Hash() unchanged")
			}
		})
	}
}

func TestPipelineStateSampleCountDefault(t *testing.T) {
	vs := &Shader{id: 1}
	a := NewPipelineState()
	a.VertexShader = vs
	b := a
	b.SampleCount = 0
	if !a.Equal(&b) {
		t.Error("sample count 0 should mean 1")
	}
}

func TestPipelineStateEqualNil(t *testing.T) {
	var a *PipelineState
	b := NewPipelineState()
	if a.Equal(&b) || b.Equal(a) {
		t.Error("nil compares equal to a description")
	}
	if !a.Equal(nil) {
		t.Error("nil does not compare equal to nil")
	}
}

func TestInputLayoutEqual(t *testing.T) {
	a := InputLayout{{
		Stride:     12,
		Attributes: []VertexAttribute{{Location: 0, Format: gputypes.VertexFormatFloat32x3}},
	}}
	b := a.clone()
	if !a.Equal(b) {
		t.Fatal("clone() differs")
	}
	b[0].Attributes[0].Offset = 4
	if a.Equal(b) {
		t.Error("Equal() = true after changing an attribute offset")
	}
	if a[0].Attributes[0].Offset != 0 {
		t.Error("clone() shares attribute storage")
	}
	if !InputLayout(nil).Equal(InputLayout{}) {
		t.Error("nil and empty layouts differ")
	}
}
