package rhi

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label     string
	Address   gputypes.AddressMode
	MagFilter gputypes.FilterMode
	MinFilter gputypes.FilterMode
	MipFilter gputypes.FilterMode
}

// LinearClampSampler is the default sampler bound to unset sampler slots.
var LinearClampSampler = SamplerDescriptor{
	Label:     "linear clamp",
	Address:   gputypes.AddressModeClampToEdge,
	MagFilter: gputypes.FilterModeLinear,
	MinFilter: gputypes.FilterModeLinear,
	MipFilter: gputypes.FilterModeLinear,
}

// Sampler is a texture sampling state object.
type Sampler struct {
	id     uint64
	label  string
	handle backend.Sampler
}

var samplerIDCounter atomic.Uint64

// NewSampler creates a sampler.
func (d *Device) NewSampler(desc SamplerDescriptor) (*Sampler, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	handle, err := d.gpu.NewSampler(&backend.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.Address,
		AddressModeV: desc.Address,
		AddressModeW: desc.Address,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: create sampler %q: %w", desc.Label, err)
	}
	return &Sampler{id: samplerIDCounter.Add(1), label: desc.Label, handle: handle}, nil
}

// ID returns the sampler's unique identifier.
func (s *Sampler) ID() uint64 { return s.id }

// Label returns the sampler's debug label.
func (s *Sampler) Label() string { return s.label }

// Handle returns the backend sampler.
func (s *Sampler) Handle() backend.Sampler { return s.handle }

// Destroy releases the sampler.
func (s *Sampler) Destroy() {
	if s.handle != nil {
		s.handle.Destroy()
		s.handle = nil
	}
}
