// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"time"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the in-process GPU emulator.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU backend (gogpu/wgpu hal).
	BackendNative = "native"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrDeviceLost means the device stopped making forward progress or
	// reported an unrecoverable failure.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrTimeout is returned when a fence wait exceeds its timeout.
	ErrTimeout = errors.New("backend: wait timed out")

	// ErrInvalidHandle is returned when a handle created by another
	// backend, or an already destroyed handle, is passed to a GPU.
	ErrInvalidHandle = errors.New("backend: invalid handle")

	// ErrCmdBufferState is returned when a command buffer is begun, ended,
	// reset or submitted out of order.
	ErrCmdBufferState = errors.New("backend: command buffer in wrong state")
)

// Backend is the interface for GPU backends.
// A Backend owns the connection to one device; the GPU it returns after
// Init stays valid until Close.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// Init opens the device. Calling Init on an initialized backend has
	// no effect.
	Init() error

	// GPU returns the opened device, or nil before Init.
	GPU() GPU

	// Close releases the device.
	// The backend should not be used after Close is called.
	Close()
}

// GPU is the device collaborator consumed by the command recording core:
// command buffer allocation, synchronization objects, pipeline compilation
// entry points, resource memory and queue submission.
//
// Object creation and Submit are safe for concurrent use. A CmdBuffer is
// used by one goroutine at a time.
type GPU interface {
	// Name identifies the backend that created the GPU.
	Name() string

	// Limits reports device limits relevant to recording.
	Limits() Limits

	// NewCmdBuffer allocates a primary command buffer in the initial state.
	NewCmdBuffer(label string) (CmdBuffer, error)

	// NewFence creates an unsignaled fence.
	NewFence() (Fence, error)

	// NewSemaphore creates a queue-ordering semaphore.
	NewSemaphore() (Semaphore, error)

	// NewShaderModule creates a shader module from prepared source.
	NewShaderModule(desc *ShaderModuleDescriptor) (ShaderModule, error)

	// NewPipeline compiles a render pipeline together with its binding layout.
	NewPipeline(desc *PipelineDescriptor) (Pipeline, error)

	// NewBindingSet resolves binding entries against a pipeline's layout.
	NewBindingSet(p Pipeline, entries []BindingEntry) (BindingSet, error)

	// NewTexture allocates a texture. Its contents and layout are undefined.
	NewTexture(desc *TextureDescriptor) (Texture, error)

	// NewBuffer allocates a buffer.
	NewBuffer(desc *BufferDescriptor) (Buffer, error)

	// NewSampler creates a sampler.
	NewSampler(desc *SamplerDescriptor) (Sampler, error)

	// WriteBuffer copies data into a buffer through the queue.
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// Submit schedules an ended command buffer for execution and returns
	// without waiting for it.
	Submit(info *SubmitInfo) error

	// WaitFence blocks until f is signaled or timeout elapses
	// (ErrTimeout). A timeout <= 0 waits without a bound.
	WaitFence(f Fence, timeout time.Duration) error

	// FenceSignaled polls f.
	FenceSignaled(f Fence) (bool, error)

	// ResetFence returns a signaled fence to the unsignaled state.
	ResetFence(f Fence) error

	// WaitIdle blocks until every submission retired.
	WaitIdle() error
}

// Limits holds device limits.
type Limits struct {
	MaxColorAttachments uint32
	MaxBindings         uint32
	MaxTextureDimension uint32
	MaxMipLevels        uint32
}

// DefaultLimits returns limits every backend is expected to support.
func DefaultLimits() Limits {
	return Limits{
		MaxColorAttachments: 8,
		MaxBindings:         48,
		MaxTextureDimension: 8192,
		MaxMipLevels:        14,
	}
}

// SubmitInfo describes a queue submission.
type SubmitInfo struct {
	// CmdBuffer must be in the ended state.
	CmdBuffer CmdBuffer

	// Wait lists semaphores the submission waits on before executing.
	Wait []Semaphore

	// Signal lists semaphores signaled when the submission completes.
	Signal []Semaphore

	// Fence, if not nil, is signaled once all work of the submission retired.
	Fence Fence
}

// Destroyer is implemented by every backend object.
type Destroyer interface {
	// Destroy releases the object. Destroying twice has no effect.
	Destroy()
}

// Fence is a CPU-observable synchronization object.
type Fence interface{ Destroyer }

// Semaphore orders one queue operation after another without CPU involvement.
type Semaphore interface{ Destroyer }

// ShaderModule is a compiled shader stage.
type ShaderModule interface{ Destroyer }

// Pipeline is a compiled pipeline with its binding layout.
type Pipeline interface{ Destroyer }

// BindingSet is a resolved set of shader-visible resources.
type BindingSet interface{ Destroyer }

// Texture is device image memory.
type Texture interface {
	Destroyer

	// Descriptor returns the descriptor the texture was created with.
	Descriptor() TextureDescriptor
}

// Buffer is device buffer memory.
type Buffer interface {
	Destroyer

	// Size returns the buffer size in bytes.
	Size() uint64
}

// Sampler is a texture sampling state object.
type Sampler interface{ Destroyer }
