// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ImageLayout is the access state of an image subresource as last
// instructed to the device.
type ImageLayout uint8

// Image layouts.
const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutPreinitialized
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutDepthStencilReadOnly
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresent
)

var layoutNames = [...]string{
	ImageLayoutUndefined:              "Undefined",
	ImageLayoutGeneral:                "General",
	ImageLayoutPreinitialized:         "Preinitialized",
	ImageLayoutColorAttachment:        "ColorAttachment",
	ImageLayoutDepthStencilAttachment: "DepthStencilAttachment",
	ImageLayoutDepthStencilReadOnly:   "DepthStencilReadOnly",
	ImageLayoutShaderReadOnly:         "ShaderReadOnly",
	ImageLayoutTransferSrc:            "TransferSrc",
	ImageLayoutTransferDst:            "TransferDst",
	ImageLayoutPresent:                "Present",
}

// String returns the layout name.
func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("ImageLayout(%d)", uint8(l))
}

// Usage maps a layout to the WebGPU texture usage that implies it.
// Undefined and Preinitialized map to zero, which backends treat as
// "contents may be discarded".
func (l ImageLayout) Usage() gputypes.TextureUsage {
	switch l {
	case ImageLayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case ImageLayoutColorAttachment, ImageLayoutDepthStencilAttachment:
		return gputypes.TextureUsageRenderAttachment
	case ImageLayoutDepthStencilReadOnly, ImageLayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case ImageLayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case ImageLayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	case ImageLayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	}
	return 0
}

// Barrier transitions a contiguous range of mip levels and array layers
// of one texture from Old to New.
type Barrier struct {
	Texture    Texture
	Old        ImageLayout
	New        ImageLayout
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}
