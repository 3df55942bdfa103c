// Package codec drives a complete transform on a compute device: it owns the
// resource manager, the forward or reverse pipeline, the post stages and,
// optionally, a transfer queue, and converts between images and coefficient
// planes.
package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/jpfielding/dwtgpu.go/pkg/logging"
	"github.com/jpfielding/dwtgpu.go/pkg/post"
	"github.com/jpfielding/dwtgpu.go/pkg/resource"
	"github.com/jpfielding/dwtgpu.go/pkg/transfer"
	"github.com/jpfielding/dwtgpu.go/pkg/util"
)

// Coefficients are the Mallat ordered transform output of one image, one
// plane per component.
type Coefficients struct {
	Width          int
	Height         int
	Levels         int
	Precision      int
	Lossy          bool
	Quantized      bool // samples are quantization indices
	StepMode       dwt.StepMode
	ColorTransform bool
	Planes         [][]float32
}

// Validate checks the planes against the geometry.
func (c *Coefficients) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no coefficients", ErrInvalidImage)
	}
	if c.Width <= 0 || c.Height <= 0 || c.Levels <= 0 || c.Precision <= 0 {
		return fmt.Errorf("%w: %dx%d levels %d precision %d", ErrInvalidImage, c.Width, c.Height, c.Levels, c.Precision)
	}
	switch len(c.Planes) {
	case 1, 3, 4:
	default:
		return fmt.Errorf("%w: %d planes", ErrInvalidImage, len(c.Planes))
	}
	for i, p := range c.Planes {
		if len(p) != c.Width*c.Height {
			return fmt.Errorf("%w: plane %d has %d samples", ErrInvalidImage, i, len(p))
		}
	}
	return nil
}

// Encoder runs forward transforms. Buffers are reused while the image
// geometry stays the same. An Encoder is not safe for concurrent use.
type Encoder struct {
	dev   compute.Device
	opts  Options
	runID string

	queue *transfer.Queue
	res   *resource.Manager
	fwd   *dwt.Forward
	pl    *post.Planarizer
	bpc   *post.BitPlaneCoder

	shifted [][]int32
	last    *Image
}

// NewEncoder compiles the kernels opts needs.
func NewEncoder(dev compute.Device, opts Options) (*Encoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{dev: dev, opts: opts, runID: util.NewRunID()}
	var err error
	if e.fwd, err = dwt.NewForward(dev, opts.Config); err != nil {
		return nil, err
	}
	if opts.BitPlaneCoding {
		if e.pl, err = post.NewPlanarizer(dev); err != nil {
			return nil, errors.Join(err, e.Close())
		}
		if e.bpc, err = post.NewBitPlaneCoder(dev, opts.CodeBlockW, opts.CodeBlockH); err != nil {
			return nil, errors.Join(err, e.Close())
		}
	}
	if opts.Async {
		e.queue = transfer.New(dev)
	}
	e.res = resource.New(dev, resource.Options{
		Config:         opts.Config,
		ColorTransform: opts.ColorTransform,
		Transfer:       e.queue,
	})
	return e, nil
}

// RunID identifies this encoder in logs.
func (e *Encoder) RunID() string { return e.runID }

// Resources exposes the buffer manager, mostly for its statistics.
func (e *Encoder) Resources() *resource.Manager { return e.res }

func (e *Encoder) context(ctx context.Context) context.Context {
	return logging.AppendCtx(ctx, slog.String("run", e.runID))
}

// limit is the highest precision the configured output can hold.
func (o Options) limit() int {
	switch {
	case !o.Config.Lossy:
		return MaxPrecision
	case o.Config.OnlyDWTOut:
		return 16
	}
	return 8
}

// Encode enqueues the forward transform of img and, when enabled, the post
// stages. It returns once everything is submitted; Output and Blocks wait
// for completion.
func (e *Encoder) Encode(ctx context.Context, img *Image) (dwt.Trace, error) {
	ctx = e.context(ctx)
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Precision > e.opts.limit() {
		return nil, fmt.Errorf("%w: precision %d above %d", ErrInvalidImage, img.Precision, e.opts.limit())
	}
	e.shifted = levelShift(e.shifted, img.Components, img.Precision)
	if err := e.res.Configure(ctx, e.shifted, img.Width, img.Height, e.opts.Levels, img.Precision); err != nil {
		return nil, err
	}
	e.last = img
	trace, err := e.fwd.Run(ctx, e.res)
	if err != nil {
		return trace, err
	}
	if e.opts.BitPlaneCoding {
		if _, _, err := e.pl.Run(ctx, e.res); err != nil {
			return trace, err
		}
		if _, err := e.bpc.Run(ctx, e.res); err != nil {
			return trace, err
		}
	}
	if err := e.dev.Flush(); err != nil {
		return trace, compute.Wrap("flush", "", err)
	}
	slog.DebugContext(ctx, "encode submitted",
		slog.Int("width", img.Width),
		slog.Int("height", img.Height),
		slog.Int("components", len(img.Components)),
		slog.Any("levels", trace.Levels()))
	return trace, nil
}

// Finish waits for every submitted dispatch.
func (e *Encoder) Finish() error {
	if err := e.res.Ready(context.Background()); err != nil {
		return err
	}
	if err := e.dev.Finish(); err != nil {
		return compute.Wrap("finish", "", err)
	}
	return nil
}

// Output reads back the coefficients of the last Encode.
func (e *Encoder) Output() (*Coefficients, error) {
	if e.last == nil {
		return nil, dwt.ErrNotConfigured
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}
	data, err := e.res.ReadOutput()
	if err != nil {
		return nil, err
	}
	cfg := e.opts.Config
	n := len(e.last.Components)
	return &Coefficients{
		Width:          e.res.Width(),
		Height:         e.res.Height(),
		Levels:         e.res.Levels(),
		Precision:      e.res.Precision(),
		Lossy:          cfg.Lossy,
		Quantized:      cfg.Quantize(),
		StepMode:       cfg.StepMode,
		ColorTransform: e.opts.ColorTransform && !cfg.Lossy && n >= 3,
		Planes:         resource.Deinterleave(data, e.res.Channels(), n),
	}, nil
}

// Blocks returns the bit-plane results of the last Encode, one slice per
// component.
func (e *Encoder) Blocks() ([][]post.BlockInfo, error) {
	if e.bpc == nil {
		return nil, fmt.Errorf("%w: bit-plane coding disabled", dwt.ErrConfig)
	}
	if e.last == nil {
		return nil, dwt.ErrNotConfigured
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}
	out := make([][]post.BlockInfo, e.bpc.Channels())
	for c := range out {
		res, err := e.bpc.Results(c)
		if err != nil {
			return nil, err
		}
		out[c] = res
	}
	return out, nil
}

// Close waits for queued uploads and releases every device object.
func (e *Encoder) Close() error {
	var errs []error
	if e.res != nil {
		errs = append(errs, e.res.Close())
	}
	if e.queue != nil {
		errs = append(errs, e.queue.Close())
	}
	if e.bpc != nil {
		errs = append(errs, e.bpc.Close())
	}
	if e.pl != nil {
		errs = append(errs, e.pl.Close())
	}
	if e.fwd != nil {
		errs = append(errs, e.fwd.Close())
	}
	return errors.Join(errs...)
}

// levelShift centers unsigned samples around zero, reusing dst.
func levelShift(dst [][]int32, src [][]int32, precision int) [][]int32 {
	offset := int32(1) << (precision - 1)
	if len(dst) != len(src) {
		dst = make([][]int32, len(src))
	}
	for c, plane := range src {
		if len(dst[c]) != len(plane) {
			dst[c] = make([]int32, len(plane))
		}
		for i, v := range plane {
			dst[c][i] = v - offset
		}
	}
	return dst
}
