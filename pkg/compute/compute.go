// Package compute defines the narrow contract the transform pipelines use to
// talk to an accelerator: image allocation, host/device transfers, named
// kernels bound by argument index, and a single in-order command queue.
//
// Nothing in this package knows what a kernel computes. Backends (see
// compute/soft) supply the behaviour.
package compute

import (
	"fmt"
)

// SampleType is the element type of a device image channel.
type SampleType int

const (
	Int16   SampleType = iota // signed 16-bit integer samples (5/3 path)
	Float32                   // 32-bit float samples (9/7 path)
)

// String returns the sample type name
func (s SampleType) String() string {
	switch s {
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleType(%d)", int(s))
	}
}

// Format describes the layout of a device image.
type Format struct {
	Channels int        // 1 (R) or 4 (RGBA)
	Type     SampleType // element type of each channel
}

// Region is a rectangle in pixels inside a device image.
type Region struct {
	X, Y          int
	Width, Height int
}

// Full returns the region covering a whole w x h image.
func Full(w, h int) Region {
	return Region{Width: w, Height: h}
}

// Buffer is a device resident 2D image.
type Buffer interface {
	ID() uint64
	Width() int
	Height() int
	Format() Format
	Release() error
}

// Queue is the in-order command queue every dispatch is submitted to.
type Queue interface {
	// Flush submits queued work without waiting for it.
	Flush() error
	// Finish blocks until all previously enqueued work has completed.
	Finish() error
}

// Kernel is a compiled entry point whose arguments are bound by index.
type Kernel interface {
	Name() string
	// SetArg binds a value to argument index. Accepted values are Buffer,
	// uint32, int32 and float32.
	SetArg(index int, value any) error
	// Enqueue submits the kernel over nd. It never waits for completion.
	Enqueue(nd NDRange) error
	Release() error
}

// Device is a compute context with one in-order queue.
type Device interface {
	Name() string
	NewImage(width, height int, f Format) (Buffer, error)
	// Write copies interleaved host samples into r of dst. When blocking is
	// false the call returns once the transfer is queued.
	Write(dst Buffer, r Region, src []float32, blocking bool) error
	// Read copies r of src into dst after all queued work has finished.
	Read(src Buffer, r Region, dst []float32) error
	NewKernel(program, entry, options string) (Kernel, error)
	Queue
}
