package rhi

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// VertexAttribute describes one vertex attribute.
type VertexAttribute struct {
	Location uint32
	Format   gputypes.VertexFormat
	Offset   uint64
}

// VertexBufferLayout describes one vertex buffer.
type VertexBufferLayout struct {
	Stride     uint64
	StepMode   gputypes.VertexStepMode
	Attributes []VertexAttribute
}

// InputLayout describes the vertex buffers a pipeline reads, by slot.
type InputLayout []VertexBufferLayout

// Equal reports whether two layouts are structurally equal.
func (l InputLayout) Equal(o InputLayout) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		a, b := &l[i], &o[i]
		if a.Stride != b.Stride || a.StepMode != b.StepMode || len(a.Attributes) != len(b.Attributes) {
			return false
		}
		for j := range a.Attributes {
			if a.Attributes[j] != b.Attributes[j] {
				return false
			}
		}
	}
	return true
}

func (l InputLayout) clone() InputLayout {
	if l == nil {
		return nil
	}
	out := make(InputLayout, len(l))
	for i, b := range l {
		out[i] = VertexBufferLayout{
			Stride:     b.Stride,
			StepMode:   b.StepMode,
			Attributes: append([]VertexAttribute(nil), b.Attributes...),
		}
	}
	return out
}

func (l InputLayout) toBackend() []gputypes.VertexBufferLayout {
	out := make([]gputypes.VertexBufferLayout, len(l))
	for i, b := range l {
		attrs := make([]gputypes.VertexAttribute, len(b.Attributes))
		for j, a := range b.Attributes {
			attrs[j] = gputypes.VertexAttribute{
				Format:         a.Format,
				Offset:         a.Offset,
				ShaderLocation: a.Location,
			}
		}
		out[i] = gputypes.VertexBufferLayout{
			ArrayStride: b.Stride,
			StepMode:    b.StepMode,
			Attributes:  attrs,
		}
	}
	return out
}

// DepthStencilState configures depth and stencil testing.
type DepthStencilState struct {
	DepthTest    bool
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	StencilTest        bool
	StencilCompare     gputypes.CompareFunction
	StencilPassOp      backend.StencilOperation
	StencilFailOp      backend.StencilOperation
	StencilDepthFailOp backend.StencilOperation
	StencilReadMask    uint8
	StencilWriteMask   uint8
}

// Depth-stencil presets.
var (
	DepthStencilOff = DepthStencilState{
		DepthCompare:   gputypes.CompareFunctionAlways,
		StencilCompare: gputypes.CompareFunctionAlways,
	}
	DepthReadWrite = DepthStencilState{
		DepthTest:      true,
		DepthWrite:     true,
		DepthCompare:   gputypes.CompareFunctionLess,
		StencilCompare: gputypes.CompareFunctionAlways,
	}
	DepthReadOnly = DepthStencilState{
		DepthTest:      true,
		DepthCompare:   gputypes.CompareFunctionLessEqual,
		StencilCompare: gputypes.CompareFunctionAlways,
	}
)

// RasterizerState configures rasterization.
type RasterizerState struct {
	CullMode            gputypes.CullMode
	FrontFace           gputypes.FrontFace
	DepthBias           int32
	DepthBiasSlopeScale float32
}

// Rasterizer presets.
var (
	RasterizerCullNone = RasterizerState{CullMode: gputypes.CullModeNone, FrontFace: gputypes.FrontFaceCCW}
	RasterizerCullBack = RasterizerState{CullMode: gputypes.CullModeBack, FrontFace: gputypes.FrontFaceCCW}
)

// BlendComponent configures color or alpha blending.
type BlendComponent struct {
	Src gputypes.BlendFactor
	Dst gputypes.BlendFactor
	Op  gputypes.BlendOperation
}

// BlendState configures blending for every color target.
type BlendState struct {
	Enabled   bool
	Color     BlendComponent
	Alpha     BlendComponent
	WriteMask gputypes.ColorWriteMask
}

// Blend presets.
var (
	BlendDisabled = BlendState{WriteMask: gputypes.ColorWriteMaskAll}
	BlendAlpha    = BlendState{
		Enabled:   true,
		Color:     BlendComponent{Src: gputypes.BlendFactorSrcAlpha, Dst: gputypes.BlendFactorOneMinusSrcAlpha, Op: gputypes.BlendOperationAdd},
		Alpha:     BlendComponent{Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorOneMinusSrcAlpha, Op: gputypes.BlendOperationAdd},
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	BlendAdditive = BlendState{
		Enabled:   true,
		Color:     BlendComponent{Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorOne, Op: gputypes.BlendOperationAdd},
		Alpha:     BlendComponent{Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorOne, Op: gputypes.BlendOperationAdd},
		WriteMask: gputypes.ColorWriteMaskAll,
	}
)

func (b BlendState) toBackend() *gputypes.BlendState {
	if !b.Enabled {
		return nil
	}
	return &gputypes.BlendState{
		Color: gputypes.BlendComponent{SrcFactor: b.Color.Src, DstFactor: b.Color.Dst, Operation: b.Color.Op},
		Alpha: gputypes.BlendComponent{SrcFactor: b.Alpha.Src, DstFactor: b.Alpha.Dst, Operation: b.Alpha.Op},
	}
}
