package codec

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/jpfielding/dwtgpu.go/pkg/logging"
	"github.com/jpfielding/dwtgpu.go/pkg/resource"
	"github.com/jpfielding/dwtgpu.go/pkg/util"
)

// Decoder runs reverse transforms. The reversible and irreversible paths
// each get their own kernel and buffers, built on first use.
type Decoder struct {
	dev   compute.Device
	cfg   dwt.Config
	runID string
	paths map[bool]*reversePath
}

type reversePath struct {
	res *resource.Manager
	rev *dwt.Reverse
}

// NewDecoder uses the tile sizes of cfg; Lossy is taken from the
// coefficients being decoded.
func NewDecoder(dev compute.Device, cfg dwt.Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{dev: dev, cfg: cfg, runID: util.NewRunID(), paths: map[bool]*reversePath{}}, nil
}

// RunID identifies this decoder in logs.
func (d *Decoder) RunID() string { return d.runID }

func (d *Decoder) path(lossy bool) (*reversePath, error) {
	if p, ok := d.paths[lossy]; ok {
		return p, nil
	}
	cfg := d.cfg
	cfg.Lossy, cfg.OnlyDWTOut = lossy, false
	rev, err := dwt.NewReverse(d.dev, cfg)
	if err != nil {
		return nil, err
	}
	p := &reversePath{res: resource.New(d.dev, resource.Options{Config: cfg}), rev: rev}
	d.paths[lossy] = p
	return p, nil
}

// Decode reconstructs the image c was produced from.
func (d *Decoder) Decode(ctx context.Context, c *Coefficients) (*Image, error) {
	ctx = logging.AppendCtx(ctx, slog.String("run", d.runID))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p, err := d.path(c.Lossy)
	if err != nil {
		return nil, err
	}
	planes := c.Planes
	if c.Quantized {
		if planes, err = Dequantize(c); err != nil {
			return nil, err
		}
	}
	if err := p.res.ConfigureCoefficients(ctx, planes, c.Width, c.Height, c.Levels, c.Precision); err != nil {
		return nil, err
	}
	if _, err := p.rev.Run(ctx, p.res); err != nil {
		return nil, err
	}
	data, err := p.res.ReadOutput()
	if err != nil {
		return nil, err
	}
	out := resource.Deinterleave(data, p.res.Channels(), len(c.Planes))
	if c.ColorTransform {
		resource.InverseRCTPlanes(out)
	}

	img := &Image{Width: c.Width, Height: c.Height, Precision: c.Precision, Components: make([][]int32, len(out))}
	offset := float64(int32(1) << (c.Precision - 1))
	maxVal := int32(1)<<c.Precision - 1
	for i, plane := range out {
		comp := make([]int32, len(plane))
		for j, v := range plane {
			comp[j] = clamp(int32(math.Round(float64(v)+offset)), maxVal)
		}
		img.Components[i] = comp
	}
	slog.DebugContext(ctx, "decoded",
		slog.Int("width", c.Width),
		slog.Int("height", c.Height),
		slog.Int("components", len(c.Planes)),
		slog.Bool("lossy", c.Lossy))
	return img, nil
}

// Close releases every device object.
func (d *Decoder) Close() error {
	var errs []error
	for _, p := range d.paths {
		errs = append(errs, p.res.Close(), p.rev.Close())
	}
	d.paths = map[bool]*reversePath{}
	return errors.Join(errs...)
}

// Dequantize maps quantization indices back to coefficient values at the
// midpoint of their interval. Every band of every level is scaled by its
// step; LL only on the last level.
func Dequantize(c *Coefficients) ([][]float32, error) {
	out := make([][]float32, len(c.Planes))
	for i, p := range c.Planes {
		out[i] = append([]float32(nil), p...)
	}
	for level := 0; level < c.Levels; level++ {
		bands := []dwt.Band{dwt.BandLH, dwt.BandHL, dwt.BandHH}
		if level == c.Levels-1 {
			bands = append(bands, dwt.BandLL)
		}
		for _, band := range bands {
			step, err := dwt.Step(c.Levels, level, band, c.Precision, c.StepMode)
			if err != nil {
				return nil, err
			}
			b := dwt.BandBounds(c.Width, c.Height, level, band)
			for _, plane := range out {
				for y := b.Y0; y < b.Y1; y++ {
					row := plane[y*c.Width : (y+1)*c.Width]
					for x := b.X0; x < b.X1; x++ {
						row[x] = dequantize(row[x], step)
					}
				}
			}
		}
	}
	return out, nil
}

func dequantize(q float32, step float64) float32 {
	switch {
	case q > 0:
		return float32((float64(q) + 0.5) * step)
	case q < 0:
		return float32((float64(q) - 0.5) * step)
	}
	return 0
}
