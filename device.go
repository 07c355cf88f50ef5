package rhi

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// fallbackBufferSize is the size of the constant buffer bound to unset
// constant buffer slots.
const fallbackBufferSize = 256

// Device owns the connection to a GPU and everything shared by its
// CommandLists: the PipelineCache, fallback resources and the immediate
// command buffer used for resource initialization.
//
// Teardown runs in reverse order of ownership: CommandLists (after their
// frames retire), then the PipelineCache, then the Device's resources and
// finally the backend. Resources created by the caller must be destroyed
// by the caller once no work in flight references them.
type Device struct {
	cfg     Config
	gpu     backend.GPU
	backend backend.Backend // set when the Device opened the backend itself
	log     *slog.Logger
	cache   *PipelineCache

	fallbackTexture *Texture
	fallbackStorage *Texture
	fallbackBuffer  *Buffer
	defaultSampler  *Sampler

	immMu  sync.Mutex
	immCmd backend.CmdBuffer

	mu    sync.Mutex
	lists map[*CommandList]struct{}

	destroyed atomic.Bool
}

// Open opens the named backend ("" selects the default) and creates a
// Device on its GPU. Destroy closes the backend.
func Open(name string, opts ...Option) (*Device, error) {
	b, err := backend.Open(name)
	if err != nil {
		return nil, fmt.Errorf("rhi: open backend %q: %w", name, err)
	}
	d, err := NewDevice(b.GPU(), opts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	d.backend = b
	return d, nil
}

// NewDevice creates a Device on gpu.
func NewDevice(gpu backend.GPU, opts ...Option) (*Device, error) {
	if gpu == nil {
		return nil, ErrNilDevice
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	propagateLogger(gpu, log)

	d := &Device{
		cfg:   cfg,
		gpu:   gpu,
		log:   log,
		lists: make(map[*CommandList]struct{}),
	}
	d.cache = NewPipelineCache(gpu, WithLabel(cfg.Label), WithBindingCacheSize(cfg.BindingCacheSize), WithLogger(log))

	var err error
	if d.immCmd, err = gpu.NewCmdBuffer(cfg.Label + " immediate"); err != nil {
		return nil, fmt.Errorf("rhi: immediate command buffer: %w", err)
	}
	if err := d.createFallbacks(); err != nil {
		d.releaseOwned()
		return nil, err
	}

	log.Info("rhi: device created",
		"label", cfg.Label,
		"backend", gpu.Name(),
		"frames_in_flight", cfg.FramesInFlight)
	return d, nil
}

func (d *Device) createFallbacks() error {
	var err error
	d.fallbackTexture, err = d.NewTexture(TextureDescriptor{
		Label:  d.cfg.Label + " fallback texture",
		Width:  1,
		Height: 1,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  TextureShaderRead,
		Data:   [][]byte{{0, 0, 0, 0xff}},
	})
	if err != nil {
		return fmt.Errorf("rhi: fallback texture: %w", err)
	}
	// Storage slots need a texture resting in General with storage usage.
	d.fallbackStorage, err = d.NewTexture(TextureDescriptor{
		Label:  d.cfg.Label + " fallback storage texture",
		Width:  1,
		Height: 1,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  TextureStorage,
	})
	if err != nil {
		return fmt.Errorf("rhi: fallback storage texture: %w", err)
	}
	d.fallbackBuffer, err = d.NewBuffer(BufferDescriptor{
		Label: d.cfg.Label + " fallback constants",
		Kind:  BufferConstant,
		Size:  fallbackBufferSize,
	})
	if err != nil {
		return fmt.Errorf("rhi: fallback constant buffer: %w", err)
	}
	desc := LinearClampSampler
	desc.Label = d.cfg.Label + " default sampler"
	if d.defaultSampler, err = d.NewSampler(desc); err != nil {
		return fmt.Errorf("rhi: default sampler: %w", err)
	}
	return nil
}

// Config returns the configuration the Device was created with.
func (d *Device) Config() Config { return d.cfg }

// GPU returns the backend GPU.
func (d *Device) GPU() backend.GPU { return d.gpu }

// Logger returns the Device's logger.
func (d *Device) Logger() *slog.Logger { return d.log }

// PipelineCache returns the Device's pipeline cache.
func (d *Device) PipelineCache() *PipelineCache { return d.cache }

// FallbackTexture returns the 1x1 opaque black texture bound to texture
// slots left empty.
func (d *Device) FallbackTexture() *Texture { return d.fallbackTexture }

// FallbackStorageTexture returns the 1x1 texture bound to storage texture
// slots left empty.
func (d *Device) FallbackStorageTexture() *Texture { return d.fallbackStorage }

// DefaultSampler returns the sampler bound to sampler slots left empty.
func (d *Device) DefaultSampler() *Sampler { return d.defaultSampler }

// CommandLists returns the number of live CommandLists.
func (d *Device) CommandLists() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lists)
}

func (d *Device) checkAlive() error {
	if d == nil {
		return ErrNilDevice
	}
	if d.destroyed.Load() {
		return fmt.Errorf("%w: device %q", ErrDestroyed, d.cfg.Label)
	}
	return nil
}

func (d *Device) addList(cl *CommandList) {
	d.mu.Lock()
	d.lists[cl] = struct{}{}
	d.mu.Unlock()
}

func (d *Device) removeList(cl *CommandList) {
	d.mu.Lock()
	delete(d.lists, cl)
	d.mu.Unlock()
}

// WaitIdle blocks until the GPU finished every submission.
func (d *Device) WaitIdle() error {
	if err := d.gpu.WaitIdle(); err != nil {
		return fmt.Errorf("rhi: wait idle: %w", err)
	}
	return nil
}

// Destroy waits for the GPU, destroys the remaining CommandLists, the
// cached pipelines and the Device's resources, and closes the backend if
// Open created it. Destroying twice has no effect.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}

	if err := d.gpu.WaitIdle(); err != nil {
		d.log.Error("rhi: wait idle before destroy failed", "label", d.cfg.Label, "err", err)
	}

	d.mu.Lock()
	lists := make([]*CommandList, 0, len(d.lists))
	for cl := range d.lists {
		lists = append(lists, cl)
	}
	d.mu.Unlock()
	for _, cl := range lists {
		cl.Destroy()
	}

	d.cache.DestroyAll()
	d.releaseOwned()
	if d.backend != nil {
		d.backend.Close()
	}
	d.log.Info("rhi: device destroyed", "label", d.cfg.Label, "command_lists", len(lists))
}

func (d *Device) releaseOwned() {
	if d.fallbackTexture != nil {
		d.fallbackTexture.Destroy()
	}
	if d.fallbackStorage != nil {
		d.fallbackStorage.Destroy()
	}
	if d.fallbackBuffer != nil {
		d.fallbackBuffer.Destroy()
	}
	if d.defaultSampler != nil {
		d.defaultSampler.Destroy()
	}
	if d.immCmd != nil {
		d.immCmd.Destroy()
		d.immCmd = nil
	}
}
