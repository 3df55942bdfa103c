// Package dwt drives the multi-level wavelet transform on a compute device.
//
// A pipeline never owns device memory. It reads the pyramid and output
// buffers through Buffers, binds them to the level kernel, computes the
// tiled dispatch geometry and enqueues one dispatch per level. Enqueueing
// is asynchronous; callers synchronize through the device queue.
package dwt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// Buffers is the index based view of the resources a pipeline runs over.
type Buffers interface {
	Width() int
	Height() int
	Levels() int
	Precision() int
	// Input returns pyramid buffer level.
	Input(level int) (compute.Buffer, error)
	// Output returns the combined transform output.
	Output() compute.Buffer
	// Ready waits until pending uploads have been submitted to the device.
	Ready(ctx context.Context) error
}

// Pass records one submitted level dispatch.
type Pass struct {
	Kernel string
	Level  int
	Width  int
	Height int
	Steps  int
	Range  compute.NDRange
	Quant  *Quantizers // nil unless the pass quantized
}

// Trace is the ordered list of passes a Run submitted.
type Trace []Pass

// Levels returns the level of every pass in submission order.
func (t Trace) Levels() []int {
	out := make([]int, len(t))
	for i, p := range t {
		out[i] = p.Level
	}
	return out
}

// pipeline holds what forward and reverse passes share: the device, the
// fixed configuration and the single compiled level kernel.
type pipeline struct {
	dev    compute.Device
	cfg    Config
	kernel compute.Kernel
	log    *slog.Logger
}

func newPipeline(dev compute.Device, cfg Config, program, entry string) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k, err := dev.NewKernel(program, entry, cfg.BuildOptions())
	if err != nil {
		return nil, compute.Wrap("build", program, err)
	}
	return &pipeline{
		dev:    dev,
		cfg:    cfg,
		kernel: k,
		log:    slog.Default().With(slog.String("kernel", k.Name())),
	}, nil
}

// bind sets args on the kernel starting at index 0.
func (p *pipeline) bind(args ...any) error {
	for i, a := range args {
		if err := p.kernel.SetArg(i, a); err != nil {
			return compute.Wrap("set-arg", p.kernel.Name(), fmt.Errorf("arg %d: %w", i, err))
		}
	}
	return nil
}

// submit enqueues nd and logs the failure once, at the point it happened.
func (p *pipeline) submit(ctx context.Context, level int, nd compute.NDRange) error {
	if err := p.kernel.Enqueue(nd); err != nil {
		err = compute.Wrap("enqueue", p.kernel.Name(), err)
		p.log.ErrorContext(ctx, "dispatch failed",
			slog.Int("level", level),
			slog.String("range", nd.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

// check validates the resources before any dispatch is built.
func check(bufs Buffers) error {
	if bufs == nil || bufs.Levels() <= 0 || bufs.Width() <= 0 || bufs.Height() <= 0 {
		return ErrNotConfigured
	}
	if bufs.Output() == nil {
		return ErrNotConfigured
	}
	return nil
}

// Close releases the compiled kernel.
func (p *pipeline) Close() error {
	return p.kernel.Release()
}
