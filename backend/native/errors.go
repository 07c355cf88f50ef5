// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import "errors"

// Package errors for the hal backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoHAL is returned when a device provider does not expose hal types.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrTextureDestroyed is returned when a view is requested from a
	// destroyed texture.
	ErrTextureDestroyed = errors.New("native: texture destroyed")

	// ErrPassOpen is returned by End while a render pass is still open.
	ErrPassOpen = errors.New("native: render pass still open")
)

// ErrFenceInUse is returned when a fence whose submission has not retired
// is reset or submitted again.
var ErrFenceInUse = errors.New("native: fence in use by a pending submission")
