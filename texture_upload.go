// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// copyRowAlignment is the row pitch alignment of buffer to texture copies.
const copyRowAlignment = 256

// texelSize returns the size of one texel in bytes, or 0 for formats that
// cannot be uploaded.
func texelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	}
	return 0
}

func mipExtent(w, h uint32, mip int) (uint32, uint32) {
	return max(w>>mip, 1), max(h>>mip, 1)
}

// initTexture uploads data and moves every mip to the texture's resting
// layout on the immediate command buffer.
func (d *Device) initTexture(t *Texture, data [][]byte) error {
	if t.desc.Flags&TextureGenerateMips != 0 && len(data) == 1 && t.desc.MipLevels > 1 {
		var err error
		if data, err = generateMips(t.desc, data[0]); err != nil {
			return err
		}
	}

	return d.immediate("init "+t.desc.Label, func(r *immediateRecorder) error {
		if len(data) > 0 {
			if err := t.transition(r, backend.ImageLayoutTransferDst, AllMips, false); err != nil {
				return err
			}
			for mip, texels := range data {
				if len(texels) == 0 {
					continue
				}
				if err := r.upload(t, mip, texels); err != nil {
					return err
				}
			}
		}
		return t.transition(r, t.AppropriateLayout(), AllMips, false)
	})
}

// generateMips builds mips 1.. of an 8-bit four channel texture from mip
// 0 by repeated bilinear downscaling.
func generateMips(desc TextureDescriptor, base []byte) ([][]byte, error) {
	switch desc.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
	default:
		return nil, fmt.Errorf("%w: texture %q: cannot generate mips for format %v",
			ErrInvalidDescriptor, desc.Label, desc.Format)
	}

	w, h := int(desc.Width), int(desc.Height)
	if len(base) != w*h*4 {
		return nil, fmt.Errorf("%w: texture %q mip 0 has %d bytes, want %d",
			ErrInvalidDescriptor, desc.Label, len(base), w*h*4)
	}

	out := make([][]byte, 1, desc.MipLevels)
	out[0] = base

	// Channel order does not matter to a per-channel filter, so BGRA data
	// goes through image.RGBA unchanged.
	var src image.Image = &image.RGBA{Pix: base, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	for mip := 1; mip < int(desc.MipLevels); mip++ {
		mw, mh := mipExtent(desc.Width, desc.Height, mip)
		dst := image.NewRGBA(image.Rect(0, 0, int(mw), int(mh)))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out = append(out, dst.Pix)
		src = dst
	}
	return out, nil
}

// immediateRecorder records resource initialization outside any
// CommandList. Its work is waited on before the creating call returns.
type immediateRecorder struct {
	d       *Device
	cmd     backend.CmdBuffer
	staging []backend.Buffer
}

func (r *immediateRecorder) checkRecording(string) error { return nil }

func (r *immediateRecorder) recordBarriers(_ *Texture, barriers []backend.Barrier) {
	r.cmd.Transition(barriers)
}

func (r *immediateRecorder) barrierElided() {}

func (r *immediateRecorder) logger() *slog.Logger { return r.d.log }

// upload stages texels of one mip of layer 0 and records the copy. The
// texture must be in TransferDst.
func (r *immediateRecorder) upload(t *Texture, mip int, texels []byte) error {
	ts := texelSize(t.desc.Format)
	if ts == 0 {
		return fmt.Errorf("%w: texture %q: cannot upload format %v", ErrInvalidDescriptor, t.desc.Label, t.desc.Format)
	}
	w, h := mipExtent(t.desc.Width, t.desc.Height, mip)
	row := w * ts
	if uint64(len(texels)) != uint64(row)*uint64(h) {
		return fmt.Errorf("%w: texture %q mip %d has %d bytes, want %d",
			ErrInvalidDescriptor, t.desc.Label, mip, len(texels), uint64(row)*uint64(h))
	}

	pitch := (row + copyRowAlignment - 1) / copyRowAlignment * copyRowAlignment
	staged := texels
	if pitch != row {
		staged = make([]byte, int(pitch)*int(h))
		for y := range int(h) {
			copy(staged[y*int(pitch):], texels[y*int(row):(y+1)*int(row)])
		}
	}

	buf, err := r.d.gpu.NewBuffer(&backend.BufferDescriptor{
		Label: fmt.Sprintf("%s staging mip %d", t.desc.Label, mip),
		Size:  uint64(len(staged)),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("rhi: staging buffer for %q: %w", t.desc.Label, err)
	}
	r.staging = append(r.staging, buf)
	if err := r.d.gpu.WriteBuffer(buf, 0, staged); err != nil {
		return fmt.Errorf("rhi: stage %q mip %d: %w", t.desc.Label, mip, err)
	}

	r.cmd.CopyBufferToTexture(buf, t.handle, []backend.BufferTextureCopy{{
		BytesPerRow: pitch,
		MipLevel:    uint32(mip), //nolint:gosec // G115: bounded by mip count
		Width:       w,
		Height:      h,
	}})
	return nil
}

func (r *immediateRecorder) release() {
	for _, b := range r.staging {
		b.Destroy()
	}
	r.staging = nil
}

// immediate records fn into the device's immediate command buffer,
// submits it and waits for the device to go idle. Calls are serialized.
func (d *Device) immediate(label string, fn func(r *immediateRecorder) error) error {
	d.immMu.Lock()
	defer d.immMu.Unlock()

	cmd := d.immCmd
	if err := cmd.Reset(); err != nil {
		return fmt.Errorf("rhi: reset immediate buffer: %w", err)
	}
	if err := cmd.Begin(); err != nil {
		return fmt.Errorf("rhi: begin immediate buffer: %w", err)
	}

	r := &immediateRecorder{d: d, cmd: cmd}
	defer r.release()

	cmd.PushDebugGroup(label)
	ferr := fn(r)
	cmd.PopDebugGroup()
	if err := cmd.End(); err != nil {
		return fmt.Errorf("rhi: end immediate buffer: %w", err)
	}
	if ferr != nil {
		return ferr
	}

	if err := d.gpu.Submit(&backend.SubmitInfo{CmdBuffer: cmd}); err != nil {
		d.log.Error("rhi: immediate submit failed", "label", label, "err", err)
		return fmt.Errorf("rhi: submit %s: %w", label, err)
	}
	if err := d.gpu.WaitIdle(); err != nil {
		d.log.Error("rhi: immediate wait failed", "label", label, "err", err)
		return fmt.Errorf("rhi: wait %s: %w", label, err)
	}
	return nil
}
