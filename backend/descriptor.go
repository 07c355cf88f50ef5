// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import "github.com/gogpu/gputypes"

// ShaderModuleDescriptor describes prepared shader source. Exactly one of
// WGSL or SPIRV is set.
type ShaderModuleDescriptor struct {
	Label      string
	Stage      gputypes.ShaderStage
	EntryPoint string
	WGSL       string
	SPIRV      []uint32
}

// BindingKind is the kind of resource a binding slot expects.
type BindingKind uint8

// Binding kinds.
const (
	BindingUniformBuffer BindingKind = iota
	BindingSampler
	BindingTexture
	BindingStorageTexture
)

// String returns the binding kind name.
func (k BindingKind) String() string {
	switch k {
	case BindingUniformBuffer:
		return "UniformBuffer"
	case BindingSampler:
		return "Sampler"
	case BindingTexture:
		return "Texture"
	case BindingStorageTexture:
		return "StorageTexture"
	}
	return "BindingKind(?)"
}

// BindingLayoutEntry declares one slot of a pipeline's binding layout.
type BindingLayoutEntry struct {
	Binding    uint32
	Kind       BindingKind
	Visibility gputypes.ShaderStage
}

// BindingEntry assigns a resource to a binding slot. Only the field
// matching Kind is read.
type BindingEntry struct {
	Binding uint32
	Kind    BindingKind
	Buffer  Buffer
	Offset  uint64
	Size    uint64
	Texture Texture
	Sampler Sampler
}

// StencilOperation is a stencil buffer update.
type StencilOperation uint8

// Stencil operations.
const (
	StencilOperationKeep StencilOperation = iota
	StencilOperationZero
	StencilOperationReplace
	StencilOperationInvert
	StencilOperationIncrementClamp
	StencilOperationDecrementClamp
	StencilOperationIncrementWrap
	StencilOperationDecrementWrap
)

// StencilFaceState configures stencil testing for one face.
type StencilFaceState struct {
	Compare     gputypes.CompareFunction
	FailOp      StencilOperation
	DepthFailOp StencilOperation
	PassOp      StencilOperation
}

// DepthStencilState configures depth and stencil testing.
type DepthStencilState struct {
	Format              gputypes.TextureFormat
	DepthWriteEnabled   bool
	DepthCompare        gputypes.CompareFunction
	StencilFront        StencilFaceState
	StencilBack         StencilFaceState
	StencilReadMask     uint32
	StencilWriteMask    uint32
	DepthBias           int32
	DepthBiasSlopeScale float32
}

// PipelineDescriptor describes a render pipeline to compile.
type PipelineDescriptor struct {
	Label string

	Vertex        ShaderModule
	VertexEntry   string
	Fragment      ShaderModule
	FragmentEntry string

	VertexBuffers []gputypes.VertexBufferLayout
	Primitive     gputypes.PrimitiveState
	DepthStencil  *DepthStencilState
	Targets       []gputypes.ColorTargetState
	SampleCount   uint32

	// Bindings is the resource binding layout (group 0).
	Bindings []BindingLayoutEntry
}

// TextureDescriptor describes a texture.
type TextureDescriptor struct {
	Label              string
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevelCount      uint32
	SampleCount        uint32
	Dimension          gputypes.TextureDimension
	Format             gputypes.TextureFormat
	Usage              gputypes.TextureUsage
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	Compare      gputypes.CompareFunction
}
