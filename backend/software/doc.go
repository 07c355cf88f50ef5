// Package software provides an in-process GPU emulator implementing
// backend.GPU.
//
// The emulator records commands into command buffers and executes
// submissions in order on a queue goroutine, signaling semaphores and
// fences as submissions retire. Execution validates what a real device
// would silently corrupt on: transitions whose old layout does not match
// the subresource's true layout, passes begun on attachments in the wrong
// layout, sampled textures bound in a non-sampled layout, and command
// buffers reset or resubmitted while pending. Problems are collected and
// available through GPU.ValidationErrors.
//
// Manual retirement (WithManualRetire) holds submissions until Retire or
// Flush is called, which makes fence waits deterministic in tests.
//
// Importing the package registers the "software" backend:
//
//	import _ "github.com/gogpu/rhi/backend/software"
package software
