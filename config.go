package rhi

import (
	"fmt"
	"log/slog"
	"time"
)

// Configuration defaults and limits.
const (
	// DefaultFramesInFlight is the number of frame slots per CommandList.
	DefaultFramesInFlight = 2

	// MaxFramesInFlight bounds Config.FramesInFlight.
	MaxFramesInFlight = 8

	// DefaultFenceTimeout bounds the fence wait in Begin. A device that
	// does not retire a frame within it is treated as lost.
	DefaultFenceTimeout = 10 * time.Second

	// DefaultBindingCacheSize is the number of resolved binding sets kept
	// per pipeline, CommandList and frame slot.
	DefaultBindingCacheSize = 64

	// DefaultMaxBindingSlots is the number of binding slots a CommandList
	// accepts.
	DefaultMaxBindingSlots = 16
)

// Config holds Device configuration. Build it with options:
//
//	dev, err := rhi.NewDevice(gpu,
//	    rhi.WithFramesInFlight(3),
//	    rhi.WithLabel("main"),
//	)
type Config struct {
	// FramesInFlight is the number of command buffer, fence and semaphore
	// triples each CommandList allocates (1..MaxFramesInFlight).
	FramesInFlight int

	// Label prefixes debug labels of objects the Device creates.
	Label string

	// FenceTimeout bounds the wait for a slot's fence. Zero waits forever.
	FenceTimeout time.Duration

	// BindingCacheSize is the LRU capacity of each binding-set arena.
	BindingCacheSize int

	// MaxBindingSlots bounds the slot argument of binding calls.
	MaxBindingSlots int

	// Logger overrides the package logger for this Device.
	Logger *slog.Logger
}

// Option configures a Device during creation.
type Option func(*Config)

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		FramesInFlight:   DefaultFramesInFlight,
		Label:            "rhi",
		FenceTimeout:     DefaultFenceTimeout,
		BindingCacheSize: DefaultBindingCacheSize,
		MaxBindingSlots:  DefaultMaxBindingSlots,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight:
		return fmt.Errorf("%w: frames in flight %d not in [1, %d]", ErrInvalidConfig, c.FramesInFlight, MaxFramesInFlight)
	case c.FenceTimeout < 0:
		return fmt.Errorf("%w: negative fence timeout %v", ErrInvalidConfig, c.FenceTimeout)
	case c.BindingCacheSize < 1:
		return fmt.Errorf("%w: binding cache size %d", ErrInvalidConfig, c.BindingCacheSize)
	case c.MaxBindingSlots < 1:
		return fmt.Errorf("%w: max binding slots %d", ErrInvalidConfig, c.MaxBindingSlots)
	}
	return nil
}

// WithFramesInFlight sets the number of frames in flight.
func WithFramesInFlight(n int) Option {
	return func(c *Config) {
		c.FramesInFlight = n
	}
}

// WithLabel sets the Device label.
func WithLabel(label string) Option {
	return func(c *Config) {
		c.Label = label
	}
}

// WithFenceTimeout sets the bound on fence waits in Begin.
func WithFenceTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FenceTimeout = d
	}
}

// WithBindingCacheSize sets the capacity of binding-set arenas.
func WithBindingCacheSize(n int) Option {
	return func(c *Config) {
		c.BindingCacheSize = n
	}
}

// WithMaxBindingSlots sets the number of binding slots.
func WithMaxBindingSlots(n int) Option {
	return func(c *Config) {
		c.MaxBindingSlots = n
	}
}

// WithLogger sets a Device-specific logger. The logger is also handed to
// the backend GPU when it accepts one.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
