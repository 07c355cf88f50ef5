// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// PipelineCache maps pipeline descriptions to compiled Pipelines.
//
// Pipeline compilation is expensive, so the cache guarantees at most one
// Pipeline per distinct description for its lifetime. Pipelines are
// never evicted; they are destroyed by DestroyAll when the Device is torn
// down after every CommandList is idle.
//
// Thread Safety:
// PipelineCache is safe for concurrent use. Lookups take a read lock;
// concurrent misses for the same description are collapsed into one
// compile by a singleflight group, and the insert is double-checked under
// the write lock.
type PipelineCache struct {
	gpu       backend.GPU
	log       *slog.Logger
	label     string
	arenaSize int

	mu      sync.RWMutex
	buckets map[uint64][]*Pipeline

	compiles singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineCache creates an empty cache compiling on gpu.
func NewPipelineCache(gpu backend.GPU, opts ...Option) *PipelineCache {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	return &PipelineCache{
		gpu:       gpu,
		log:       log,
		label:     cfg.Label,
		arenaSize: max(cfg.BindingCacheSize, 1),
		buckets:   make(map[uint64][]*Pipeline),
	}
}

// GetPipeline returns the Pipeline for ps, compiling it on first use.
// Descriptions that are Equal get the identical *Pipeline.
func (c *PipelineCache) GetPipeline(ps *PipelineState) (*Pipeline, error) {
	if !ps.IsComplete() {
		return nil, ErrIncompleteState
	}

	key := ps.key()
	h := key.hash()

	// Fast path: read lock
	if p := c.lookup(h, &key); p != nil {
		c.hits.Add(1)
		return p, nil
	}

	// Slow path: one compile per hash. Distinct descriptions that collide
	// on the hash are compiled one after another.
	for {
		compiled := false
		v, err, _ := c.compiles.Do(strconv.FormatUint(h, 16), func() (any, error) {
			if p := c.lookup(h, &key); p != nil {
				return p, nil
			}
			p, err := c.compile(h, key, ps.PassName)
			if err != nil {
				return nil, err
			}

			c.mu.Lock()
			c.buckets[h] = append(c.buckets[h], p)
			c.mu.Unlock()

			compiled = true
			return p, nil
		})
		if err != nil {
			return nil, err
		}

		p := v.(*Pipeline)
		if !p.key.equal(&key) {
			continue
		}
		if compiled {
			c.misses.Add(1)
		} else {
			c.hits.Add(1)
		}
		return p, nil
	}
}

func (c *PipelineCache) lookup(h uint64, key *pipelineKey) *Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.buckets[h] {
		if p.key.equal(key) {
			return p
		}
	}
	return nil
}

// compile creates a pipeline for key. It runs without the cache lock held.
func (c *PipelineCache) compile(h uint64, key pipelineKey, passName string) (*Pipeline, error) {
	start := time.Now()

	label := passName
	if label == "" {
		label = key.vs.label
	}
	label = fmt.Sprintf("%s:%s:%016x", c.label, label, h)

	key.input = key.input.clone()
	layout := bindingLayout(key.vs, key.fs)

	desc := &backend.PipelineDescriptor{
		Label:         label,
		Vertex:        key.vs.module,
		VertexEntry:   key.vs.entry,
		VertexBuffers: key.input.toBackend(),
		Primitive: gputypes.PrimitiveState{
			Topology:  key.topology,
			FrontFace: key.raster.FrontFace,
			CullMode:  key.raster.CullMode,
		},
		SampleCount: key.sampleCount,
		Bindings:    layout,
	}
	if key.fs != nil {
		desc.Fragment = key.fs.module
		desc.FragmentEntry = key.fs.entry
		desc.Targets = make([]gputypes.ColorTargetState, key.colorCount)
		for i := range key.colorCount {
			desc.Targets[i] = gputypes.ColorTargetState{
				Format:    key.colorFormats[i],
				Blend:     key.blend.toBackend(),
				WriteMask: key.blend.WriteMask,
			}
		}
	}
	if key.depthFormat != gputypes.TextureFormatUndefined {
		desc.DepthStencil = depthStencilToBackend(key.depthFormat, key.depthStencil, key.raster)
	}

	handle, err := c.gpu.NewPipeline(desc)
	if err != nil {
		c.log.Error("rhi: pipeline compile failed", "label", label, "err", err)
		return nil, fmt.Errorf("rhi: compile pipeline %q: %w", label, err)
	}

	c.log.Debug("rhi: pipeline compiled",
		"label", label,
		"bindings", len(layout),
		"duration", time.Since(start))

	return &Pipeline{
		id:        pipelineIDCounter.Add(1),
		hash:      h,
		label:     label,
		key:       key,
		layout:    layout,
		handle:    handle,
		arenaSize: c.arenaSize,
	}, nil
}

// bindingLayout merges the declared bindings of the vertex and fragment
// stages, ordered by slot.
func bindingLayout(vs, fs *Shader) []backend.BindingLayoutEntry {
	var out []backend.BindingLayoutEntry
	add := func(s *Shader) {
		if s == nil {
			return
		}
		for _, b := range s.bindings {
			i := slices.IndexFunc(out, func(e backend.BindingLayoutEntry) bool { return e.Binding == b.Slot })
			if i >= 0 {
				out[i].Visibility |= s.stage
				continue
			}
			out = append(out, backend.BindingLayoutEntry{Binding: b.Slot, Kind: b.Kind, Visibility: s.stage})
		}
	}
	add(vs)
	add(fs)
	slices.SortFunc(out, func(a, b backend.BindingLayoutEntry) int { return cmp.Compare(a.Binding, b.Binding) })
	return out
}

func depthStencilToBackend(format gputypes.TextureFormat, ds DepthStencilState, rs RasterizerState) *backend.DepthStencilState {
	out := &backend.DepthStencilState{
		Format:              format,
		DepthWriteEnabled:   ds.DepthTest && ds.DepthWrite,
		DepthCompare:        gputypes.CompareFunctionAlways,
		DepthBias:           rs.DepthBias,
		DepthBiasSlopeScale: rs.DepthBiasSlopeScale,
	}
	if ds.DepthTest {
		out.DepthCompare = ds.DepthCompare
	}
	face := backend.StencilFaceState{Compare: gputypes.CompareFunctionAlways}
	if ds.StencilTest {
		face = backend.StencilFaceState{
			Compare:     ds.StencilCompare,
			FailOp:      ds.StencilFailOp,
			DepthFailOp: ds.StencilDepthFailOp,
			PassOp:      ds.StencilPassOp,
		}
		out.StencilReadMask = uint32(ds.StencilReadMask)
		out.StencilWriteMask = uint32(ds.StencilWriteMask)
	}
	out.StencilFront = face
	out.StencilBack = face
	return out
}

// OnCommandListConsumed reclaims the binding sets p retired in the
// (owner, slot) arena. It is called by a CommandList once the slot's fence
// confirmed that the GPU finished the slot's previous submission.
func (c *PipelineCache) OnCommandListConsumed(p *Pipeline, owner uint64, slot int) {
	if p == nil {
		return
	}
	if n := p.releaseRetired(owner, slot); n > 0 {
		c.log.Debug("rhi: binding sets reclaimed", "pipeline", p.label, "owner", owner, "slot", slot, "count", n)
	}
}

// releaseOwner drops every binding arena of a destroyed CommandList.
func (c *PipelineCache) releaseOwner(owner uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, bucket := range c.buckets {
		for _, p := range bucket {
			p.releaseOwner(owner)
		}
	}
}

// Stats returns cache statistics.
//
// Returns the number of cache hits and misses.
// These values are read atomically and may not be perfectly synchronized.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns the cache hit rate as a fraction (0.0 to 1.0).
//
// Returns 0.0 if no requests have been made.
func (c *PipelineCache) HitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached pipelines.
func (c *PipelineCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// DestroyAll destroys all cached pipelines and clears the cache.
//
// Every CommandList that used the cache must be idle.
func (c *PipelineCache) DestroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, bucket := range c.buckets {
		for _, p := range bucket {
			p.destroy()
			n++
		}
	}

	c.buckets = make(map[uint64][]*Pipeline)
	c.hits.Store(0)
	c.misses.Store(0)
	c.log.Debug("rhi: pipeline cache destroyed", "pipelines", n)
}
