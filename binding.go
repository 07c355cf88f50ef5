// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"hash/fnv"
	"log/slog"

	"github.com/gogpu/rhi/backend"
)

// boundResource is the content of one binding slot. Only the field
// matching kind is set; a nil resource resolves to a fallback.
type boundResource struct {
	kind    backend.BindingKind
	buffer  *Buffer
	texture *Texture
	sampler *Sampler
}

// bindingTable accumulates binding calls between draws. It is resolved
// into a backend.BindingSet only when dirty, at the next draw.
type bindingTable struct {
	slots []boundResource
	dirty bool
}

func newBindingTable(n int) bindingTable {
	return bindingTable{slots: make([]boundResource, n), dirty: true}
}

func (b *bindingTable) reset() {
	clear(b.slots)
	b.dirty = true
}

// set stores r in slot. Storing what the slot already holds keeps the
// table clean.
func (b *bindingTable) set(slot uint32, r boundResource) {
	if b.slots[slot] == r {
		return
	}
	b.slots[slot] = r
	b.dirty = true
}

// resolve builds the entries for a pipeline layout, substituting the
// device fallbacks for missing resources, and hashes the result.
func (b *bindingTable) resolve(layout []backend.BindingLayoutEntry, d *Device, log *slog.Logger) ([]backend.BindingEntry, uint64) {
	h := fnv.New64a()
	entries := make([]backend.BindingEntry, 0, len(layout))

	for _, le := range layout {
		var r boundResource
		if int(le.Binding) < len(b.slots) {
			r = b.slots[le.Binding]
		}
		e := backend.BindingEntry{Binding: le.Binding, Kind: le.Kind}
		hashWriteUint32(h, le.Binding)
		hashWriteUint32(h, uint32(le.Kind))

		switch le.Kind {
		case backend.BindingUniformBuffer:
			buf := r.buffer
			if buf == nil || buf.handle == nil {
				log.Debug("rhi: fallback constant buffer bound", "slot", le.Binding)
				buf = d.fallbackBuffer
			}
			e.Buffer = buf.handle
			e.Size = buf.Size()
			hashWriteUint64(h, buf.id)

		case backend.BindingSampler:
			s := r.sampler
			if s == nil || s.handle == nil {
				s = d.defaultSampler
			}
			e.Sampler = s.handle
			hashWriteUint64(h, s.id)

		case backend.BindingTexture, backend.BindingStorageTexture:
			t := r.texture
			if t == nil || t.handle == nil {
				log.Debug("rhi: fallback texture bound", "slot", le.Binding, "kind", le.Kind.String())
				t = d.fallbackTexture
				if le.Kind == backend.BindingStorageTexture {
					t = d.fallbackStorage
				}
			}
			e.Texture = t.handle
			hashWriteUint64(h, t.id)
		}
		entries = append(entries, e)
	}
	return entries, h.Sum64()
}
