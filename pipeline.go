// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/rhi/backend"
)

// Pipeline is a compiled pipeline and its resource binding layout. It is
// owned by the PipelineCache, immutable after creation and safe to use
// from several CommandLists.
//
// Resolved binding sets are cached per (CommandList, frame slot) arena.
// A set evicted from an arena may still be read by the GPU, so it is
// retired and destroyed only when the slot's fence confirms completion.
type Pipeline struct {
	id     uint64
	hash   uint64
	label  string
	key    pipelineKey
	layout []backend.BindingLayoutEntry
	handle backend.Pipeline

	arenaSize int

	mu     sync.Mutex
	arenas map[arenaKey]*bindingArena
}

type arenaKey struct {
	owner uint64
	slot  int
}

type bindingArena struct {
	sets    *lru.Cache[uint64, backend.BindingSet]
	retired []backend.BindingSet
}

var pipelineIDCounter atomic.Uint64

// ID returns the pipeline's unique identifier.
func (p *Pipeline) ID() uint64 { return p.id }

// Hash returns the hash of the description the pipeline was compiled from.
func (p *Pipeline) Hash() uint64 { return p.hash }

// Label returns the pipeline's debug label.
func (p *Pipeline) Label() string { return p.label }

// Handle returns the backend pipeline.
func (p *Pipeline) Handle() backend.Pipeline { return p.handle }

// Layout returns the resource binding layout, ordered by binding.
func (p *Pipeline) Layout() []backend.BindingLayoutEntry {
	return slices.Clone(p.layout)
}

func (p *Pipeline) layoutKind(binding uint32) (backend.BindingKind, bool) {
	for _, e := range p.layout {
		if e.Binding == binding {
			return e.Kind, true
		}
	}
	return 0, false
}

// bindingSet returns the set cached under hash in the (owner, slot)
// arena, creating it from entries on a miss. created reports a miss.
func (p *Pipeline) bindingSet(gpu backend.GPU, owner uint64, slot int, hash uint64,
	entries []backend.BindingEntry) (set backend.BindingSet, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.arenaLocked(arenaKey{owner, slot})
	if err != nil {
		return nil, false, err
	}
	if set, ok := a.sets.Get(hash); ok {
		return set, false, nil
	}

	set, err = gpu.NewBindingSet(p.handle, entries)
	if err != nil {
		return nil, false, fmt.Errorf("rhi: resolve bindings for %q: %w", p.label, err)
	}
	a.sets.Add(hash, set)
	return set, true, nil
}

// arenaLocked returns the arena for k, creating it. The caller must hold p.mu.
func (p *Pipeline) arenaLocked(k arenaKey) (*bindingArena, error) {
	if a, ok := p.arenas[k]; ok {
		return a, nil
	}
	a := &bindingArena{}
	sets, err := lru.NewWithEvict[uint64, backend.BindingSet](p.arenaSize, func(_ uint64, s backend.BindingSet) {
		// Called from within a.sets methods while p.mu is held.
		a.retired = append(a.retired, s)
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: binding arena: %w", err)
	}
	a.sets = sets
	if p.arenas == nil {
		p.arenas = make(map[arenaKey]*bindingArena)
	}
	p.arenas[k] = a
	return a, nil
}

// releaseRetired destroys sets evicted from the (owner, slot) arena. The
// slot's previous submission must have retired.
func (p *Pipeline) releaseRetired(owner uint64, slot int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.arenas[arenaKey{owner, slot}]
	if !ok {
		return 0
	}
	n := len(a.retired)
	for _, s := range a.retired {
		s.Destroy()
	}
	a.retired = a.retired[:0]
	return n
}

// releaseOwner destroys every set owned by a CommandList. All of the
// owner's submissions must have retired.
func (p *Pipeline) releaseOwner(owner uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, a := range p.arenas {
		if k.owner != owner {
			continue
		}
		a.destroyAll()
		delete(p.arenas, k)
	}
}

func (a *bindingArena) destroyAll() {
	a.sets.Purge()
	for _, s := range a.retired {
		s.Destroy()
	}
	a.retired = nil
}

// cachedSets returns the number of live sets across all arenas.
func (p *Pipeline) cachedSets() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, a := range p.arenas {
		n += a.sets.Len() + len(a.retired)
	}
	return n
}

// destroy releases every binding set and the compiled pipeline.
func (p *Pipeline) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, a := range p.arenas {
		a.destroyAll()
		delete(p.arenas, k)
	}
	if p.handle != nil {
		p.handle.Destroy()
		p.handle = nil
	}
}
