// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"
	"log/slog"
	"math/bits"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// AllMips selects every mip level in Texture.TransitionTo.
const AllMips = -1

// TextureFlags declares how a texture is used. The initial layout of a
// texture is derived from them.
type TextureFlags uint16

// Texture flags.
const (
	// TextureShaderRead allows sampling in shaders.
	TextureShaderRead TextureFlags = 1 << iota
	// TextureStorage allows read/write storage access.
	TextureStorage
	// TextureRenderTarget allows use as a color attachment.
	TextureRenderTarget
	// TextureDepthStencil allows use as a depth/stencil attachment.
	TextureDepthStencil
	// TexturePerMipViews makes each mip level independently addressable,
	// which TransitionTo requires for a specific mip.
	TexturePerMipViews
	// TextureGenerateMips fills mips 1.. from mip 0 at creation.
	TextureGenerateMips
)

// TextureDescriptor describes a texture.
type TextureDescriptor struct {
	Label       string
	Width       uint32
	Height      uint32
	ArrayLayers uint32 // 0 means 1
	MipLevels   uint32 // 0 means 1, or a full chain with TextureGenerateMips
	Format      gputypes.TextureFormat
	SampleCount uint32 // 0 means 1
	Flags       TextureFlags

	// Data optionally holds tightly packed texels of layer 0, one slice
	// per mip level.
	Data [][]byte
}

// Texture is device image memory with one tracked layout per mip level.
//
// The tracked layout always equals the layout last instructed to the
// device. Textures are not safe for concurrent transitions; the
// CommandList recording the pass that references a texture owns its
// transitions.
type Texture struct {
	id      uint64
	device  *Device
	desc    TextureDescriptor
	handle  backend.Texture
	layouts []backend.ImageLayout
}

var textureIDCounter atomic.Uint64

// NewTexture creates a texture, uploads desc.Data and moves every mip to
// the layout its flags call for.
func (d *Device) NewTexture(desc TextureDescriptor) (*Texture, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	desc, err := normalizeTextureDescriptor(desc)
	if err != nil {
		return nil, err
	}

	handle, err := d.gpu.NewTexture(&backend.TextureDescriptor{
		Label:              desc.Label,
		Width:              desc.Width,
		Height:             desc.Height,
		DepthOrArrayLayers: desc.ArrayLayers,
		MipLevelCount:      desc.MipLevels,
		SampleCount:        desc.SampleCount,
		Dimension:          gputypes.TextureDimension2D,
		Format:             desc.Format,
		Usage:              textureUsage(desc.Flags),
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: create texture %q: %w", desc.Label, err)
	}

	t := &Texture{
		id:      textureIDCounter.Add(1),
		device:  d,
		handle:  handle,
		layouts: make([]backend.ImageLayout, desc.MipLevels),
	}

	data := desc.Data
	desc.Data = nil
	t.desc = desc

	if err := d.initTexture(t, data); err != nil {
		handle.Destroy()
		return nil, err
	}
	return t, nil
}

func normalizeTextureDescriptor(desc TextureDescriptor) (TextureDescriptor, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return desc, fmt.Errorf("%w: texture %q has zero size", ErrInvalidDescriptor, desc.Label)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return desc, fmt.Errorf("%w: texture %q has no format", ErrInvalidDescriptor, desc.Label)
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	full := fullMipCount(desc.Width, desc.Height)
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
		if desc.Flags&TextureGenerateMips != 0 {
			desc.MipLevels = full
		}
	}
	if desc.MipLevels > full {
		return desc, fmt.Errorf("%w: texture %q asks for %d mips, %dx%d has %d",
			ErrInvalidDescriptor, desc.Label, desc.MipLevels, desc.Width, desc.Height, full)
	}
	if len(desc.Data) > int(desc.MipLevels) {
		return desc, fmt.Errorf("%w: texture %q has data for %d mips, %d allocated",
			ErrInvalidDescriptor, desc.Label, len(desc.Data), desc.MipLevels)
	}
	return desc, nil
}

func fullMipCount(w, h uint32) uint32 {
	//nolint:gosec // G115: bits.Len32 is at most 32
	return uint32(bits.Len32(max(w, h)))
}

func textureUsage(f TextureFlags) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if f&TextureShaderRead != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if f&TextureStorage != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if f&(TextureRenderTarget|TextureDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	return u
}

// ID returns the texture's unique identifier.
func (t *Texture) ID() uint64 { return t.id }

// Label returns the texture's debug label.
func (t *Texture) Label() string { return t.desc.Label }

// Width returns the width of mip 0.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height returns the height of mip 0.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// MipLevels returns the number of mip levels.
func (t *Texture) MipLevels() int { return len(t.layouts) }

// Flags returns the usage flags the texture was created with.
func (t *Texture) Flags() TextureFlags { return t.desc.Flags }

// HasPerMipViews reports whether mips can be transitioned individually.
func (t *Texture) HasPerMipViews() bool { return t.desc.Flags&TexturePerMipViews != 0 }

// Handle returns the backend texture.
func (t *Texture) Handle() backend.Texture { return t.handle }

// Layout returns the tracked layout of a mip level.
func (t *Texture) Layout(mip int) backend.ImageLayout {
	if mip < 0 || mip >= len(t.layouts) {
		return backend.ImageLayoutUndefined
	}
	return t.layouts[mip]
}

// Layouts returns the tracked layout of every mip level.
func (t *Texture) Layouts() []backend.ImageLayout {
	return slices.Clone(t.layouts)
}

// AppropriateLayout returns the layout the texture rests in between
// passes, derived from its flags.
func (t *Texture) AppropriateLayout() backend.ImageLayout {
	f := t.desc.Flags
	switch {
	case f&TextureShaderRead != 0:
		return backend.ImageLayoutShaderReadOnly
	case f&TextureStorage != 0:
		return backend.ImageLayoutGeneral
	case f&TextureRenderTarget != 0:
		return backend.ImageLayoutColorAttachment
	case f&TextureDepthStencil != 0:
		return backend.ImageLayoutDepthStencilAttachment
	}
	return backend.ImageLayoutShaderReadOnly
}

// barrierRecorder is where a texture emits its transitions: a recording
// CommandList, or the device's immediate command buffer.
type barrierRecorder interface {
	checkRecording(op string) error
	recordBarriers(t *Texture, barriers []backend.Barrier)
	barrierElided()
	logger() *slog.Logger
}

// TransitionTo moves mip levels of t to layout, recording the transition
// into cl.
//
// mip is AllMips or a specific level. With ranged set, the levels from
// mip to the last are transitioned; otherwise only mip. A specific mip
// requires TexturePerMipViews; asking for one without it is a fatal
// invariant violation.
//
// Levels already in layout are not touched. If none differ nothing is
// recorded. Otherwise a single transition instruction covering the
// smallest contiguous range holding every differing level is recorded and
// the tracked layouts are updated. Outside Recording ErrNotRecording is
// returned and nothing changes.
func (t *Texture) TransitionTo(layout backend.ImageLayout, cl *CommandList, mip int, ranged bool) error {
	return t.transition(cl, layout, mip, ranged)
}

func (t *Texture) transition(rec barrierRecorder, layout backend.ImageLayout, mip int, ranged bool) error {
	if err := rec.checkRecording("TransitionTo"); err != nil {
		return err
	}
	if t.handle == nil {
		return fmt.Errorf("%w: texture %q", ErrDestroyed, t.desc.Label)
	}

	lo, hi, err := t.mipRange(rec.logger(), mip, ranged)
	if err != nil {
		return err
	}

	// Shrink to the minimal differing range.
	for lo < hi && t.layouts[lo] == layout {
		lo++
	}
	for hi > lo && t.layouts[hi-1] == layout {
		hi--
	}
	if lo == hi {
		rec.barrierElided()
		return nil
	}

	layers := t.desc.ArrayLayers
	var barriers []backend.Barrier
	for i := lo; i < hi; {
		old := t.layouts[i]
		j := i + 1
		for j < hi && t.layouts[j] == old {
			j++
		}
		if old != layout {
			barriers = append(barriers, backend.Barrier{
				Texture:    t.handle,
				Old:        old,
				New:        layout,
				BaseMip:    uint32(i), //nolint:gosec // G115: bounded by mip count
				MipCount:   uint32(j - i),
				BaseLayer:  0,
				LayerCount: layers,
			})
		}
		i = j
	}

	rec.recordBarriers(t, barriers)
	for i := lo; i < hi; i++ {
		t.layouts[i] = layout
	}
	return nil
}

// mipRange resolves the mip selection to [lo, hi).
func (t *Texture) mipRange(l *slog.Logger, mip int, ranged bool) (lo, hi int, err error) {
	n := len(t.layouts)
	if mip == AllMips {
		return 0, n, nil
	}
	if mip < 0 || mip >= n {
		return 0, 0, fmt.Errorf("%w: texture %q mip %d of %d", ErrMipOutOfRange, t.desc.Label, mip, n)
	}
	if !t.HasPerMipViews() {
		if err := violated(l, "TransitionTo", "texture %q has no per-mip views, mip %d requested", t.desc.Label, mip); err != nil {
			return 0, 0, err
		}
	}
	if ranged {
		return mip, n, nil
	}
	return mip, mip + 1, nil
}

// Destroy releases the texture. It must not be referenced by work in
// flight.
func (t *Texture) Destroy() {
	if t.handle != nil {
		t.handle.Destroy()
		t.handle = nil
	}
}
