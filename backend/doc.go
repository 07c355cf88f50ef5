// Package backend defines the device collaborator consumed by the rhi
// command recording core, together with a registry of implementations.
//
// A backend exposes a GPU: command buffer allocation and reset, fences and
// semaphores, pipeline and shader module creation, resource memory and
// queue submission. The core never talks to a graphics API directly.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import _ "github.com/gogpu/rhi/backend/software"
//	import _ "github.com/gogpu/rhi/backend/native"
//
// # Backend Selection
//
// Use Open to get an initialized backend, either the best available one
// or a specific one by name:
//
//	b, err := backend.Open("")         // best available
//	b, err := backend.Open("software") // in-process emulator
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
// # Available Backends
//
//   - "software": in-process GPU emulator, always available, deterministic
//   - "native": gogpu/wgpu hal (Vulkan, Metal, DX12, GLES)
//
// # Image Layouts
//
// Every texture subresource has an ImageLayout. Transitions are recorded
// as Barrier values through CmdBuffer.Transition; backends without
// explicit layouts map them to texture usage transitions.
package backend
