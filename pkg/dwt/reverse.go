package dwt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// Reverse rebuilds an image from Mallat ordered coefficients held in pyramid
// buffer 0.
type Reverse struct {
	*pipeline
}

// NewReverse compiles the reverse kernel selected by cfg.
func NewReverse(dev compute.Device, cfg Config) (*Reverse, error) {
	program := compute.ProgramReverse53
	if cfg.Lossy {
		program = compute.ProgramReverse97
	}
	p, err := newPipeline(dev, cfg, program, compute.EntryRun)
	if err != nil {
		return nil, err
	}
	return &Reverse{pipeline: p}, nil
}

// Run enqueues the reverse transform from the coarsest level to the finest.
// Each pass takes its detail bands from buffer 0 and its LL band from the
// reconstruction of the coarser level (buffer level+1), and writes its
// reconstruction into buffer level; the finest pass writes the output.
func (r *Reverse) Run(ctx context.Context, bufs Buffers) (Trace, error) {
	if err := check(bufs); err != nil {
		return nil, err
	}
	if err := bufs.Ready(ctx); err != nil {
		return nil, err
	}
	levels := bufs.Levels()
	dims := LevelDims(bufs.Width(), bufs.Height(), levels)
	coeffs, err := bufs.Input(0)
	if err != nil {
		return nil, err
	}
	trace := make(Trace, 0, levels)
	for level := levels - 1; level >= 0; level-- {
		if err := ctx.Err(); err != nil {
			return trace, err
		}
		d := dims[level]
		ll := coeffs
		if level < levels-1 {
			if ll, err = bufs.Input(level + 1); err != nil {
				return trace, err
			}
		}
		out := bufs.Output()
		if level > 0 {
			if out, err = bufs.Input(level); err != nil {
				return trace, err
			}
		}
		steps, nd := ReverseRange(r.cfg.Lossy, d.Width, d.Height, r.cfg.TileX, r.cfg.TileY)
		if err := r.bind(coeffs, ll, out,
			uint32(d.Width), uint32(d.Height), uint32(steps), uint32(level)); err != nil {
			r.log.ErrorContext(ctx, "bind failed", slog.Int("level", level), slog.Any("error", err))
			return trace, err
		}
		if err := r.submit(ctx, level, nd); err != nil {
			return trace, err
		}
		r.log.DebugContext(ctx, "reverse level",
			slog.Int("level", level),
			slog.String("dims", fmt.Sprintf("%dx%d", d.Width, d.Height)),
			slog.Int("steps", steps),
			slog.String("range", nd.String()))
		trace = append(trace, Pass{
			Kernel: r.kernel.Name(),
			Level:  level,
			Width:  d.Width,
			Height: d.Height,
			Steps:  steps,
			Range:  nd,
		})
	}
	return trace, nil
}
