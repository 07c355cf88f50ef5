// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// init registers the native backend on package import.
func init() {
	backend.Register(backend.BackendNative, func() backend.Backend {
		return NewBackend()
	})
}

// Option configures a native GPU.
type Option func(*options)

type options struct {
	api         gputypes.Backend
	wgslSource  bool
	limits      backend.Limits
	idleTimeout time.Duration
}

func defaultOptions() options {
	return options{
		api:         gputypes.BackendVulkan,
		limits:      backend.DefaultLimits(),
		idleTimeout: 10 * time.Second,
	}
}

// WithAPI selects the hal backend Open uses. Defaults to Vulkan.
func WithAPI(api gputypes.Backend) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithWGSLSource hands WGSL to the device unchanged instead of compiling
// it to SPIR-V first.
func WithWGSLSource() Option {
	return func(o *options) {
		o.wgslSource = true
	}
}

// WithLimits overrides the reported device limits.
func WithLimits(l backend.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithIdleTimeout bounds WaitIdle.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// Open creates a hal instance, picks an adapter and opens a device the
// returned GPU owns. Discrete and integrated GPUs are preferred.
func Open(opts ...Option) (*GPU, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	api, ok := hal.GetBackend(o.api)
	if !ok {
		return nil, fmt.Errorf("%w: hal backend %v", backend.ErrBackendNotAvailable, o.api)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	g, err := newGPU(openDev.Device, openDev.Queue, o)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	g.instance = instance
	g.owned = true
	g.logger().Info("native: device opened", "adapter", selected.Info.Name, "api", o.api)
	return g, nil
}

// halProvider is implemented by device providers that expose their hal
// device and queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewFromProvider wraps the device of a host application. The provider
// must also expose HalDevice and HalQueue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*GPU, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return New(device, queue, opts...)
}

// New wraps an opened hal device and queue. The caller keeps ownership of
// both.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*GPU, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newGPU(device, queue, o)
}

// Backend is the registry entry for the hal backend.
type Backend struct {
	mu   sync.Mutex
	opts []Option
	gpu  *GPU
}

// NewBackend creates an uninitialized native backend.
func NewBackend(opts ...Option) *Backend {
	return &Backend{opts: opts}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendNative
}

// Init opens the device.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gpu != nil {
		return nil
	}
	g, err := Open(b.opts...)
	if err != nil {
		return err
	}
	b.gpu = g
	return nil
}

// GPU returns the opened device, or nil before Init.
func (b *Backend) GPU() backend.GPU {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gpu == nil {
		return nil
	}
	return b.gpu
}

// Close releases the device.
func (b *Backend) Close() {
	b.mu.Lock()
	g := b.gpu
	b.gpu = nil
	b.mu.Unlock()

	if g != nil {
		g.Close()
	}
}
