// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
)

// Texture wraps a hal texture together with the views the backend needs:
// one covering every mip level for sampling and one per mip level for
// attachments and storage writes.
//
// Views are created lazily and destroyed with the texture.
type Texture struct {
	gpu  *GPU
	desc backend.TextureDescriptor

	mu        sync.RWMutex
	raw       hal.Texture
	destroyed bool

	sampledOnce sync.Once
	sampled     hal.TextureView
	sampledErr  error

	mipViews map[uint32]hal.TextureView
}

var _ backend.Texture = (*Texture)(nil)

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() backend.TextureDescriptor { return t.desc }

// Raw returns the underlying hal texture, or nil after Destroy.
func (t *Texture) Raw() hal.Texture {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.raw
}

// sampledView returns the view over all mip levels, creating it exactly
// once.
func (t *Texture) sampledView() (hal.TextureView, error) {
	t.mu.RLock()
	destroyed := t.destroyed
	t.mu.RUnlock()
	if destroyed {
		return nil, ErrTextureDestroyed
	}

	t.sampledOnce.Do(func() {
		t.sampled, t.sampledErr = t.createView(t.desc.Label+" (sampled)", 0, t.desc.MipLevelCount)
	})
	return t.sampled, t.sampledErr
}

// mipView returns a single-level view of mip.
func (t *Texture) mipView(mip uint32) (hal.TextureView, error) {
	t.mu.RLock()
	if t.destroyed {
		t.mu.RUnlock()
		return nil, ErrTextureDestroyed
	}
	if v, ok := t.mipViews[mip]; ok {
		t.mu.RUnlock()
		return v, nil
	}
	t.mu.RUnlock()

	v, err := t.createView(fmt.Sprintf("%s (mip %d)", t.desc.Label, mip), mip, 1)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		t.gpu.device.DestroyTextureView(v)
		return nil, ErrTextureDestroyed
	}
	if existing, ok := t.mipViews[mip]; ok {
		// Lost the race; keep the first view.
		t.gpu.device.DestroyTextureView(v)
		return existing, nil
	}
	if t.mipViews == nil {
		t.mipViews = make(map[uint32]hal.TextureView)
	}
	t.mipViews[mip] = v
	return v, nil
}

func (t *Texture) createView(label string, baseMip, mipCount uint32) (hal.TextureView, error) {
	raw := t.Raw()
	if raw == nil {
		return nil, ErrTextureDestroyed
	}
	v, err := t.gpu.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           label,
		Format:          t.desc.Format,
		Dimension:       viewDimension(t.desc.Dimension),
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    baseMip,
		MipLevelCount:   mipCount,
		BaseArrayLayer:  0,
		ArrayLayerCount: 0, // all remaining layers
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture view %q: %w", label, err)
	}
	return v, nil
}

// Destroy releases the texture and its views. Destroying twice has no
// effect.
func (t *Texture) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	raw := t.raw
	views := t.mipViews
	t.raw = nil
	t.mipViews = nil
	t.mu.Unlock()

	// Blocks until a concurrent sampledView call finished.
	t.sampledOnce.Do(func() {})

	device := t.gpu.device
	if t.sampled != nil {
		device.DestroyTextureView(t.sampled)
	}
	for _, v := range views {
		device.DestroyTextureView(v)
	}
	if raw != nil {
		device.DestroyTexture(raw)
	}
	t.gpu.live.Add(-1)
}

// viewDimension returns the default view dimension for a texture dimension.
func viewDimension(dim gputypes.TextureDimension) gputypes.TextureViewDimension {
	switch dim {
	case gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	default:
		return gputypes.TextureViewDimension2D
	}
}
