// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
)

func layoutEntries(entries []backend.BindingLayoutEntry) []gputypes.BindGroupLayoutEntry {
	out := make([]gputypes.BindGroupLayoutEntry, 0, len(entries))
	for _, e := range entries {
		le := gputypes.BindGroupLayoutEntry{Binding: e.Binding, Visibility: e.Visibility}
		switch e.Kind {
		case backend.BindingUniformBuffer:
			le.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case backend.BindingSampler:
			le.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		case backend.BindingTexture:
			le.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case backend.BindingStorageTexture:
			le.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        gputypes.TextureFormatRGBA8Unorm,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		out = append(out, le)
	}
	return out
}

func stencilOp(op backend.StencilOperation) hal.StencilOperation {
	switch op {
	case backend.StencilOperationZero:
		return hal.StencilOperationZero
	case backend.StencilOperationReplace:
		return hal.StencilOperationReplace
	case backend.StencilOperationInvert:
		return hal.StencilOperationInvert
	case backend.StencilOperationIncrementClamp:
		return hal.StencilOperationIncrementClamp
	case backend.StencilOperationDecrementClamp:
		return hal.StencilOperationDecrementClamp
	case backend.StencilOperationIncrementWrap:
		return hal.StencilOperationIncrementWrap
	case backend.StencilOperationDecrementWrap:
		return hal.StencilOperationDecrementWrap
	}
	return hal.StencilOperationKeep
}

func stencilFace(f backend.StencilFaceState) hal.StencilFaceState {
	compare := f.Compare
	if compare == gputypes.CompareFunctionUndefined {
		compare = gputypes.CompareFunctionAlways
	}
	return hal.StencilFaceState{
		Compare:     compare,
		FailOp:      stencilOp(f.FailOp),
		DepthFailOp: stencilOp(f.DepthFailOp),
		PassOp:      stencilOp(f.PassOp),
	}
}

func depthStencilState(ds *backend.DepthStencilState) *hal.DepthStencilState {
	if ds == nil {
		return nil
	}
	return &hal.DepthStencilState{
		Format:            ds.Format,
		DepthWriteEnabled: ds.DepthWriteEnabled,
		DepthCompare:      ds.DepthCompare,
		StencilFront:      stencilFace(ds.StencilFront),
		StencilBack:       stencilFace(ds.StencilBack),
		StencilReadMask:   ds.StencilReadMask,
		StencilWriteMask:  ds.StencilWriteMask,
	}
}

// textureBarriers maps layout barriers to hal usage transitions. Barriers
// whose layouts imply the same usage need no device work and are dropped.
func textureBarriers(barriers []backend.Barrier) []hal.TextureBarrier {
	out := make([]hal.TextureBarrier, 0, len(barriers))
	for _, b := range barriers {
		t, ok := b.Texture.(*Texture)
		if !ok || t == nil {
			continue
		}
		raw := t.Raw()
		if raw == nil {
			continue
		}
		oldUsage, newUsage := b.Old.Usage(), b.New.Usage()
		if oldUsage == newUsage && b.Old != backend.ImageLayoutUndefined {
			continue
		}
		out = append(out, hal.TextureBarrier{
			Texture: raw,
			Range: hal.TextureRange{
				Aspect:          gputypes.TextureAspectAll,
				BaseMipLevel:    b.BaseMip,
				MipLevelCount:   b.MipCount,
				BaseArrayLayer:  b.BaseLayer,
				ArrayLayerCount: b.LayerCount,
			},
			Usage: hal.TextureUsageTransition{
				OldUsage: oldUsage,
				NewUsage: newUsage,
			},
		})
	}
	return out
}
