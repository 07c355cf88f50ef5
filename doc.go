// Package rhi is the command recording and GPU synchronization core of a
// real-time renderer.
//
// # Overview
//
// rhi turns draw and state-setting calls into correctly ordered,
// correctly synchronized command streams while several frames are in
// flight between the application and the GPU. It covers three things:
//
//   - the CommandList state machine and its multi-buffered
//     recording/submission protocol
//   - the PipelineCache, which turns a declarative PipelineState into a
//     reusable compiled Pipeline
//   - per-mip image layout tracking with barrier elision
//
// The GPU itself is reached through the [backend.GPU] interface. The
// "software" backend emulates a device in-process; the "native" backend
// drives gogpu/wgpu hal.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/rhi"
//	    _ "github.com/gogpu/rhi/backend/software"
//	)
//
//	dev, err := rhi.Open("software", rhi.WithFramesInFlight(2))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	cl, _ := dev.NewCommandList("main")
//	for frame := 0; frame < 100; frame++ {
//	    ps := cl.PipelineState()
//	    ps.VertexShader = vs
//	    ps.PixelShader = fs
//	    ps.RenderTargets[0] = target
//	    ps.RenderTargetCount = 1
//
//	    if err := cl.Begin("scene"); err != nil {
//	        continue
//	    }
//	    _ = cl.SetTexture(0, albedo)
//	    _ = cl.Draw(3)
//	    _ = cl.End()
//	    _ = cl.Submit()
//	}
//
// # Frames in Flight
//
// A CommandList owns one command buffer, fence and semaphore per frame in
// flight. Submit never blocks. The next Begin that lands on a slot whose
// previous submission has not retired waits on that slot's fence; this
// is the only blocking point.
//
// # Errors
//
// Calls made in the wrong state return ErrInvalidState, ErrNotRecording or
// ErrNotEnded and change nothing. Device failures are returned to the
// caller and the frame is dropped. Broken invariants (a slot index that
// disagrees with the swap chain, addressing one mip of a texture created
// without per-mip views) panic with an *InvariantError unless the package
// is built with the rhi_noassert tag.
package rhi
