package dwt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// Forward decomposes the pyramid input into sub-bands, one dispatch per level.
type Forward struct {
	*pipeline
}

// NewForward compiles the forward kernel selected by cfg.
func NewForward(dev compute.Device, cfg Config) (*Forward, error) {
	program, entry := compute.ProgramForward53, compute.EntryRun
	if cfg.Lossy {
		program = compute.ProgramForward97
		if cfg.Quantize() {
			entry = compute.EntryRunQuantization
		}
	}
	p, err := newPipeline(dev, cfg, program, entry)
	if err != nil {
		return nil, err
	}
	return &Forward{pipeline: p}, nil
}

// Run enqueues every level of the forward transform over bufs. Level i reads
// pyramid buffer i and writes its LL band into buffer i+1; the last level
// writes into the output. All levels also write their bands into the
// combined output. Run returns once everything is enqueued; the caller
// decides when to Finish the queue.
func (f *Forward) Run(ctx context.Context, bufs Buffers) (Trace, error) {
	if err := check(bufs); err != nil {
		return nil, err
	}
	if err := bufs.Ready(ctx); err != nil {
		return nil, err
	}
	levels, precision := bufs.Levels(), bufs.Precision()
	dims := LevelDims(bufs.Width(), bufs.Height(), levels)
	combined := bufs.Output()
	trace := make(Trace, 0, levels)
	for level, d := range dims {
		if err := ctx.Err(); err != nil {
			return trace, err
		}
		in, err := bufs.Input(level)
		if err != nil {
			return trace, err
		}
		out := combined
		if level < levels-1 {
			if out, err = bufs.Input(level + 1); err != nil {
				return trace, err
			}
		}
		steps, nd := ForwardRange(f.cfg.Lossy, d.Width, d.Height, f.cfg.TileX, f.cfg.TileY)
		args := []any{in, out, combined,
			uint32(d.Width), uint32(d.Height), uint32(steps),
			uint32(level), uint32(levels)}
		var quant *Quantizers
		if f.cfg.Quantize() {
			q, err := QuantizersFor(levels, level, precision, f.cfg.StepMode)
			if err != nil {
				return trace, err
			}
			quant = &q
			args = append(args, q.LL, q.LH, q.HH)
		}
		if err := f.bind(args...); err != nil {
			f.log.ErrorContext(ctx, "bind failed", slog.Int("level", level), slog.Any("error", err))
			return trace, err
		}
		if err := f.submit(ctx, level, nd); err != nil {
			return trace, err
		}
		f.log.DebugContext(ctx, "forward level",
			slog.Int("level", level),
			slog.String("dims", fmt.Sprintf("%dx%d", d.Width, d.Height)),
			slog.Int("steps", steps),
			slog.String("range", nd.String()))
		trace = append(trace, Pass{
			Kernel: f.kernel.Name(),
			Level:  level,
			Width:  d.Width,
			Height: d.Height,
			Steps:  steps,
			Range:  nd,
			Quant:  quant,
		})
	}
	return trace, nil
}
