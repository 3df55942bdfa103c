package post

import (
	"context"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

const planarGroup = 16

// Planarizer copies each lane of the combined output into its own
// single channel image.
type Planarizer struct {
	dev    compute.Device
	kernel compute.Kernel
	bound  int // channel outputs the kernel was built for
}

// NewPlanarizer compiles the planarization kernel.
func NewPlanarizer(dev compute.Device) (*Planarizer, error) {
	p := &Planarizer{dev: dev}
	if err := p.build(); err != nil {
		return nil, err
	}
	return p, nil
}

// build replaces the kernel so no output from an earlier run stays bound.
func (p *Planarizer) build() error {
	if p.kernel != nil {
		if err := p.kernel.Release(); err != nil {
			return err
		}
	}
	k, err := p.dev.NewKernel(compute.ProgramPlanar, compute.EntryRun, "")
	if err != nil {
		return compute.Wrap("build", compute.ProgramPlanar, err)
	}
	p.kernel, p.bound = k, 0
	return nil
}

// Run enqueues one dispatch covering the image. Single channel sources have
// nothing to split and submit nothing; ok reports whether a dispatch was made.
func (p *Planarizer) Run(ctx context.Context, src Source) (nd compute.NDRange, ok bool, err error) {
	chans := src.OutputChannels()
	if len(chans) == 0 {
		return compute.NDRange{}, false, nil
	}
	if p.bound != 0 && p.bound != len(chans) {
		if err := p.build(); err != nil {
			return compute.NDRange{}, false, err
		}
	}
	p.bound = len(chans)
	w, h := src.Width(), src.Height()
	args := []any{src.Output(), uint32(w), uint32(h)}
	for _, c := range chans {
		args = append(args, c)
	}
	for i, a := range args {
		if err := p.kernel.SetArg(i, a); err != nil {
			err = compute.Wrap("set-arg", p.kernel.Name(), err)
			slog.ErrorContext(ctx, "planar bind failed", slog.Int("arg", i), slog.Any("error", err))
			return compute.NDRange{}, false, err
		}
	}
	nd = compute.NewNDRange2D([2]int{}, [2]int{roundUp(w, planarGroup), roundUp(h, planarGroup)}, [2]int{planarGroup, planarGroup})
	if err := p.kernel.Enqueue(nd); err != nil {
		err = compute.Wrap("enqueue", p.kernel.Name(), err)
		slog.ErrorContext(ctx, "planar dispatch failed", slog.String("range", nd.String()), slog.Any("error", err))
		return compute.NDRange{}, false, err
	}
	return nd, true, nil
}

// Close releases the kernel.
func (p *Planarizer) Close() error { return p.kernel.Release() }
