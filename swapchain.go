// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// SwapChainDescriptor describes a SwapChain.
type SwapChainDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat

	// ImageCount is the number of images; 0 means the Device's frames in
	// flight. It cannot exceed the frames in flight.
	ImageCount int
}

// SwapChain is a ring of presentable images. A CommandList whose
// PipelineState references a SwapChain renders into the acquired image
// and follows the swap chain's image index when picking its frame slot.
//
// The images are offscreen; a presentation layer reads the image after
// waiting on the semaphore handed over by CommandList.Submit.
type SwapChain struct {
	device *Device
	label  string
	format gputypes.TextureFormat
	images []*Texture

	index          int
	acquired       bool
	renderFinished backend.Semaphore
	presents       uint64
}

// NewSwapChain creates a swap chain and its images.
func (d *Device) NewSwapChain(desc SwapChainDescriptor) (*SwapChain, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	n := desc.ImageCount
	if n == 0 {
		n = d.cfg.FramesInFlight
	}
	if n < 1 || n > d.cfg.FramesInFlight {
		return nil, fmt.Errorf("%w: swap chain %q has %d images, frames in flight is %d",
			ErrInvalidDescriptor, desc.Label, n, d.cfg.FramesInFlight)
	}

	sc := &SwapChain{device: d, label: desc.Label, format: desc.Format, index: -1}
	for i := range n {
		img, err := d.NewTexture(TextureDescriptor{
			Label:  fmt.Sprintf("%s image %d", desc.Label, i),
			Width:  desc.Width,
			Height: desc.Height,
			Format: desc.Format,
			Flags:  TextureRenderTarget,
		})
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.images = append(sc.images, img)
	}
	return sc, nil
}

// Format returns the image format.
func (s *SwapChain) Format() gputypes.TextureFormat { return s.format }

// ImageCount returns the number of images.
func (s *SwapChain) ImageCount() int { return len(s.images) }

// Image returns image i.
func (s *SwapChain) Image(i int) *Texture { return s.images[i] }

// ImageIndex returns the index of the acquired image, or -1 before the
// first Acquire.
func (s *SwapChain) ImageIndex() int { return s.index }

// Presents returns the number of Present calls.
func (s *SwapChain) Presents() uint64 { return s.presents }

// Acquire advances to the next image and returns its index together with
// the semaphore signaled when the image is ready for rendering. Offscreen
// images are always ready, so the semaphore is nil.
//
// CommandList.Begin calls Acquire for the pass it opens.
func (s *SwapChain) Acquire() (int, backend.Semaphore) {
	s.index = (s.index + 1) % len(s.images)
	s.acquired = true
	return s.index, nil
}

// next returns the index Acquire will hand out.
func (s *SwapChain) next() int {
	return (s.index + 1) % len(s.images)
}

// unacquire undoes an Acquire whose pass never opened.
func (s *SwapChain) unacquire(index int, acquired bool) {
	s.index, s.acquired = index, acquired
}

func (s *SwapChain) current() *Texture {
	if s.index < 0 {
		return nil
	}
	return s.images[s.index]
}

func (s *SwapChain) setRenderFinished(sem backend.Semaphore) {
	s.renderFinished = sem
}

// RenderFinished returns the semaphore signaled by the last submission
// that rendered into the acquired image.
func (s *SwapChain) RenderFinished() backend.Semaphore { return s.renderFinished }

// Present releases the acquired image to the presentation layer.
func (s *SwapChain) Present() error {
	if !s.acquired {
		return fmt.Errorf("%w: swap chain %q: no acquired image", ErrInvalidState, s.label)
	}
	s.acquired = false
	s.renderFinished = nil
	s.presents++
	return nil
}

// Destroy releases the images. No work referencing them may be in flight.
func (s *SwapChain) Destroy() {
	for _, img := range s.images {
		img.Destroy()
	}
	s.images = nil
}
