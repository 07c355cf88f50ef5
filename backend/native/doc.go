// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements backend.GPU on the gogpu/wgpu hardware
// abstraction layer (Vulkan, Metal, DX12, GLES).
//
// # Device Ownership
//
// Open creates its own hal instance and device. NewFromProvider shares a
// device owned by a host application:
//
//	gpu, err := native.NewFromProvider(app.DeviceProvider())
//	if err != nil {
//		return err
//	}
//	dev, err := rhi.NewDevice(gpu)
//
// A shared device is never destroyed by the GPU.
//
// # Synchronization
//
// The device drives a single timeline fence. Every submission signals the
// next timeline value; a backend.Fence remembers the value its
// submission will reach. Semaphores order submissions on the one queue
// the backend uses and carry no device object.
//
// # Image Layouts
//
// hal tracks texture usage instead of image layouts. Barriers are mapped
// through backend.ImageLayout.Usage and recorded as usage transitions on
// the barrier's mip range.
//
// # Shaders
//
// WGSL is compiled to SPIR-V with naga unless WithWGSLSource is given.
package native
