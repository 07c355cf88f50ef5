package rhi

import (
	"errors"
	"fmt"

	"github.com/gogpu/rhi/backend"
)

// CommandList protocol errors. Every state error wraps ErrInvalidState.
var (
	// ErrInvalidState is returned when a CommandList call is made in a
	// state that does not allow it. The call has no effect.
	ErrInvalidState = errors.New("rhi: invalid command list state")

	// ErrNotRecording is returned by draw, state-setting and binding calls
	// made outside Recording.
	ErrNotRecording = fmt.Errorf("%w: not recording", ErrInvalidState)

	// ErrNotEnded is returned by Submit when End was not called.
	ErrNotEnded = fmt.Errorf("%w: not ended", ErrInvalidState)

	// ErrPassSkipped is returned by Begin when the pipeline state is
	// incomplete (no vertex shader). Nothing was recorded and the state
	// did not change.
	ErrPassSkipped = errors.New("rhi: pass skipped: pipeline state has no vertex shader")

	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = errors.New("rhi: object destroyed")
)

// Argument and resource errors.
var (
	// ErrNilDevice is returned when a Device is created without a GPU.
	ErrNilDevice = errors.New("rhi: gpu is nil")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("rhi: invalid config")

	// ErrIncompleteState is returned by PipelineCache.GetPipeline for a
	// description without a vertex shader.
	ErrIncompleteState = errors.New("rhi: incomplete pipeline state")

	// ErrInvalidSlot is returned when a binding slot exceeds the configured
	// maximum.
	ErrInvalidSlot = errors.New("rhi: binding slot out of range")

	// ErrNoIndexBuffer is returned by indexed draws without an index buffer.
	ErrNoIndexBuffer = errors.New("rhi: no index buffer bound")

	// ErrMipOutOfRange is returned when a mip level does not exist.
	ErrMipOutOfRange = errors.New("rhi: mip level out of range")

	// ErrInvalidDescriptor is returned for malformed resource descriptors.
	ErrInvalidDescriptor = errors.New("rhi: invalid descriptor")
)

// ErrDeviceLost is the backend's device-lost error. A fence wait that
// fails or times out inside Begin panics with an error wrapping it.
var ErrDeviceLost = backend.ErrDeviceLost

// InvariantError reports a broken internal invariant: a logic bug in the
// caller or in rhi, never a recoverable runtime condition.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("rhi: invariant violated in %s: %s", e.Op, e.Detail)
}
