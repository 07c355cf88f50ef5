package rhi

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// BufferKind selects how a buffer is bound.
type BufferKind uint8

// Buffer kinds.
const (
	BufferVertex BufferKind = iota
	BufferIndex
	BufferConstant
)

// String returns the kind name.
func (k BufferKind) String() string {
	switch k {
	case BufferVertex:
		return "Vertex"
	case BufferIndex:
		return "Index"
	case BufferConstant:
		return "Constant"
	}
	return fmt.Sprintf("BufferKind(%d)", uint8(k))
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label string
	Kind  BufferKind
	Size  uint64 // 0 means len(Data)

	// IndexFormat is the index type of index buffers.
	IndexFormat gputypes.IndexFormat

	// Data is copied into the buffer at creation.
	Data []byte
}

// Buffer is device buffer memory.
type Buffer struct {
	id     uint64
	device *Device
	desc   BufferDescriptor
	handle backend.Buffer
}

var bufferIDCounter atomic.Uint64

// NewBuffer creates a buffer and writes desc.Data into it.
func (d *Device) NewBuffer(desc BufferDescriptor) (*Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		desc.Size = uint64(len(desc.Data))
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, desc.Label)
	}
	if uint64(len(desc.Data)) > desc.Size {
		return nil, fmt.Errorf("%w: buffer %q data exceeds size %d", ErrInvalidDescriptor, desc.Label, desc.Size)
	}

	usage := gputypes.BufferUsageCopyDst
	switch desc.Kind {
	case BufferVertex:
		usage |= gputypes.BufferUsageVertex
	case BufferIndex:
		usage |= gputypes.BufferUsageIndex
	case BufferConstant:
		usage |= gputypes.BufferUsageUniform
	default:
		return nil, fmt.Errorf("%w: buffer %q kind %v", ErrInvalidDescriptor, desc.Label, desc.Kind)
	}

	handle, err := d.gpu.NewBuffer(&backend.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: create buffer %q: %w", desc.Label, err)
	}

	data := desc.Data
	desc.Data = nil
	b := &Buffer{id: bufferIDCounter.Add(1), device: d, desc: desc, handle: handle}
	if len(data) > 0 {
		if err := b.Update(0, data); err != nil {
			handle.Destroy()
			return nil, err
		}
	}
	return b, nil
}

// ID returns the buffer's unique identifier.
func (b *Buffer) ID() uint64 { return b.id }

// Label returns the buffer's debug label.
func (b *Buffer) Label() string { return b.desc.Label }

// Kind returns the buffer kind.
func (b *Buffer) Kind() BufferKind { return b.desc.Kind }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// IndexFormat returns the index type of an index buffer.
func (b *Buffer) IndexFormat() gputypes.IndexFormat { return b.desc.IndexFormat }

// Handle returns the backend buffer.
func (b *Buffer) Handle() backend.Buffer { return b.handle }

// Update writes data at offset through the queue. The write is ordered
// before work submitted afterwards; callers must not update a buffer that
// work in flight still reads.
func (b *Buffer) Update(offset uint64, data []byte) error {
	if b.handle == nil {
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.desc.Label)
	}
	if err := b.device.gpu.WriteBuffer(b.handle, offset, data); err != nil {
		return fmt.Errorf("rhi: update buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// Destroy releases the buffer.
func (b *Buffer) Destroy() {
	if b.handle != nil {
		b.handle.Destroy()
		b.handle = nil
	}
}
