package software

import (
	"sync"
	"time"

	"github.com/gogpu/rhi/backend"
)

// init registers the software backend on package import.
func init() {
	backend.Register(backend.BackendSoftware, func() backend.Backend {
		return NewBackend()
	})
}

// Option configures an emulated GPU.
type Option func(*options)

type options struct {
	manual       bool
	latency      time.Duration
	compileDelay time.Duration
	historyLimit int
	limits       backend.Limits
}

func defaultOptions() options {
	return options{
		historyLimit: 256,
		limits:       backend.DefaultLimits(),
	}
}

// WithManualRetire holds submissions until Retire or Flush is called.
func WithManualRetire() Option {
	return func(o *options) {
		o.manual = true
	}
}

// WithLatency delays the execution of every submission by d, emulating
// GPU work. Ignored in manual mode.
func WithLatency(d time.Duration) Option {
	return func(o *options) {
		o.latency = d
	}
}

// WithCompileDelay makes NewPipeline take at least d.
func WithCompileDelay(d time.Duration) Option {
	return func(o *options) {
		o.compileDelay = d
	}
}

// WithHistoryLimit bounds the number of retired submissions kept for
// inspection. Zero disables history.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.historyLimit = n
	}
}

// WithLimits overrides the reported device limits.
func WithLimits(l backend.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// Backend is the registry entry for the emulator.
type Backend struct {
	mu   sync.Mutex
	opts []Option
	gpu  *GPU
}

// NewBackend creates an uninitialized software backend.
func NewBackend(opts ...Option) *Backend {
	return &Backend{opts: opts}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendSoftware
}

// Init creates the emulated GPU.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gpu == nil {
		b.gpu = New(b.opts...)
	}
	return nil
}

// GPU returns the emulated GPU, or nil before Init.
func (b *Backend) GPU() backend.GPU {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gpu == nil {
		return nil
	}
	return b.gpu
}

// Close stops the emulated GPU.
func (b *Backend) Close() {
	b.mu.Lock()
	g := b.gpu
	b.gpu = nil
	b.mu.Unlock()

	if g != nil {
		g.Close()
	}
}
