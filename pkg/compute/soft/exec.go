package soft

import (
	"errors"
	"fmt"
	"math"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

var (
	errUncovered = errors.New("index space does not cover the image")
	errOverlap   = errors.New("boundary offset smaller than filter support")
	errTile      = errors.New("local size does not match the compiled window")
	errMismatch  = errors.New("argument images disagree")
)

// call is one validated submission handed to an executor.
type call struct {
	kernel  *kernel
	nd      compute.NDRange
	args    map[int]any
	workers int
}

func (c *call) image(i int) *image {
	img, _ := c.args[i].(*image)
	return img
}

func (c *call) uint(i int) int {
	switch v := c.args[i].(type) {
	case uint32:
		return int(v)
	case int32:
		return int(v)
	}
	return 0
}

func (c *call) float(i int) float64 {
	v, _ := c.args[i].(float32)
	return float64(v)
}

type executor struct {
	required int
	prepare  func(c *call) (func() error, error)
}

func executorFor(program, entry string) (executor, error) {
	switch program {
	case compute.ProgramForward53:
		return executor{required: compute.ArgFwdLevels + 1, prepare: forward(false, false)}, nil
	case compute.ProgramForward97:
		if entry == compute.EntryRunQuantization {
			return executor{required: compute.ArgFwdQuantHH + 1, prepare: forward(true, true)}, nil
		}
		return executor{required: compute.ArgFwdLevels + 1, prepare: forward(true, false)}, nil
	case compute.ProgramReverse53:
		return executor{required: compute.ArgRevLevel + 1, prepare: reverse(false)}, nil
	case compute.ProgramReverse97:
		return executor{required: compute.ArgRevLevel + 1, prepare: reverse(true)}, nil
	case compute.ProgramPlanar:
		return executor{required: compute.ArgPlanarChannel0 + 1, prepare: planar}, nil
	case compute.ProgramBPC:
		return executor{required: compute.ArgBPCBlocks + 1, prepare: bitplanes}, nil
	}
	return executor{}, fmt.Errorf("%w: %s", compute.ErrUnknownKernel, program)
}

func overlap(lossy bool) int {
	if lossy {
		return 4
	}
	return 2
}

func lineOp(lossy, inverse bool) lineFunc {
	if lossy {
		return line97(inverse)
	}
	return line53(inverse)
}

func fits(img *image, w, h int) bool {
	return img != nil && w > 0 && h > 0 && w <= img.width && h <= img.height
}

// forward lifts one level of in into combined (all four bands) and, when
// out differs from combined, copies the LL band into out for the next level.
func forward(lossy, quant bool) func(c *call) (func() error, error) {
	return func(c *call) (func() error, error) {
		in, out, comb := c.image(compute.ArgFwdIn), c.image(compute.ArgFwdOut), c.image(compute.ArgFwdCombined)
		w, h := c.uint(compute.ArgFwdWidth), c.uint(compute.ArgFwdHeight)
		steps := c.uint(compute.ArgFwdSteps)
		level, levels := c.uint(compute.ArgFwdLevel), c.uint(compute.ArgFwdLevels)
		lw, lh := (w+1)/2, (h+1)/2
		if !fits(in, w, h) || !fits(comb, w, h) || !fits(out, lw, lh) {
			return nil, fmt.Errorf("%w: %dx%d level %d", errMismatch, w, h, level)
		}
		if in.format.Channels != comb.format.Channels || in.format.Channels != out.format.Channels {
			return nil, fmt.Errorf("%w: channel counts %d/%d/%d", errMismatch, in.format.Channels, out.format.Channels, comb.format.Channels)
		}
		nd, k := c.nd, c.kernel
		if k.tileY > 0 && nd.Local[1] != k.tileY {
			return nil, fmt.Errorf("%w: local y %d window %d", errTile, nd.Local[1], k.tileY)
		}
		if k.tileX > 0 && nd.Global[0]*k.tileX*max(steps, 1) < w {
			return nil, fmt.Errorf("%w: x %d*%d*%d < %d", errUncovered, nd.Global[0], k.tileX, steps, w)
		}
		if nd.End()[1] < h {
			return nil, fmt.Errorf("%w: y end %d < %d", errUncovered, nd.End()[1], h)
		}
		if -nd.Offset[1] < overlap(lossy) {
			return nil, fmt.Errorf("%w: y offset %d", errOverlap, nd.Offset[1])
		}
		qLL, qLH, qHH := c.float(compute.ArgFwdQuantLL), c.float(compute.ArgFwdQuantLH), c.float(compute.ArgFwdQuantHH)
		final := level >= levels-1
		fn := lineOp(lossy, false)
		return func() error {
			for ch := 0; ch < in.format.Channels; ch++ {
				p := in.plane(ch, w, h)
				if err := transform2D(p, w, h, c.workers, fn, false); err != nil {
					return err
				}
				var ll []float64
				if out != comb {
					ll = region(p, w, 0, 0, lw, lh)
				}
				if quant {
					scaleBands(p, w, h, final, qLL, qLH, qHH)
				}
				comb.setPlane(ch, w, h, p)
				if ll != nil {
					out.setPlane(ch, lw, lh, ll)
				}
			}
			return nil
		}, nil
	}
}

// scaleBands multiplies each band by its reciprocal step and rounds. LL is
// only quantized on the last level; earlier LL bands feed the next level.
func scaleBands(p []float64, w, h int, final bool, qLL, qLH, qHH float64) {
	lw, lh := (w+1)/2, (h+1)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var q float64
			switch {
			case x < lw && y < lh:
				if !final {
					continue
				}
				q = qLL
			case x >= lw && y >= lh:
				q = qHH
			default:
				q = qLH
			}
			v := p[y*w+x] * q
			p[y*w+x] = math.Copysign(math.Floor(math.Abs(v)), v)
		}
	}
}

func region(p []float64, stride, x0, y0, w, h int) []float64 {
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], p[(y0+y)*stride+x0:(y0+y)*stride+x0+w])
	}
	return out
}

// reverse rebuilds one level: the LL quadrant comes from ll (the previous,
// coarser reconstruction) and the detail bands from coeffs.
func reverse(lossy bool) func(c *call) (func() error, error) {
	return func(c *call) (func() error, error) {
		coeffs, ll, out := c.image(compute.ArgRevCoeffs), c.image(compute.ArgRevLL), c.image(compute.ArgRevOut)
		w, h := c.uint(compute.ArgRevWidth), c.uint(compute.ArgRevHeight)
		steps := c.uint(compute.ArgRevSteps)
		lw, lh := (w+1)/2, (h+1)/2
		if !fits(coeffs, w, h) || !fits(out, w, h) || !fits(ll, lw, lh) {
			return nil, fmt.Errorf("%w: %dx%d", errMismatch, w, h)
		}
		if coeffs.format.Channels != out.format.Channels || ll.format.Channels != out.format.Channels {
			return nil, fmt.Errorf("%w: channel counts", errMismatch)
		}
		nd, k := c.nd, c.kernel
		if k.tileX > 0 && nd.Local[0] != k.tileX {
			return nil, fmt.Errorf("%w: local x %d window %d", errTile, nd.Local[0], k.tileX)
		}
		if k.tileY > 0 && nd.Global[1]*k.tileY*max(steps, 1) < h {
			return nil, fmt.Errorf("%w: y %d*%d*%d < %d", errUncovered, nd.Global[1], k.tileY, steps, h)
		}
		if nd.End()[0] < w {
			return nil, fmt.Errorf("%w: x end %d < %d", errUncovered, nd.End()[0], w)
		}
		if -nd.Offset[0] < overlap(lossy) {
			return nil, fmt.Errorf("%w: x offset %d", errOverlap, nd.Offset[0])
		}
		fn := lineOp(lossy, true)
		return func() error {
			for ch := 0; ch < out.format.Channels; ch++ {
				p := coeffs.plane(ch, w, h)
				if ll != coeffs {
					low := ll.plane(ch, lw, lh)
					for y := 0; y < lh; y++ {
						copy(p[y*w:y*w+lw], low[y*lw:(y+1)*lw])
					}
				}
				if err := transform2D(p, w, h, c.workers, fn, true); err != nil {
					return err
				}
				out.setPlane(ch, w, h, p)
			}
			return nil
		}, nil
	}
}

// planar splits the interleaved combined output into single channel images.
func planar(c *call) (func() error, error) {
	comb := c.image(compute.ArgPlanarCombined)
	w, h := c.uint(compute.ArgPlanarWidth), c.uint(compute.ArgPlanarHeight)
	if !fits(comb, w, h) {
		return nil, fmt.Errorf("%w: combined %dx%d", errMismatch, w, h)
	}
	var outs []*image
	for i := compute.ArgPlanarChannel0; i < compute.ArgPlanarChannel0+4; i++ {
		img := c.image(i)
		if img == nil {
			break
		}
		if !fits(img, w, h) || img.format.Channels != 1 {
			return nil, fmt.Errorf("%w: channel %d", errMismatch, i-compute.ArgPlanarChannel0)
		}
		outs = append(outs, img)
	}
	if len(outs) > comb.format.Channels {
		return nil, fmt.Errorf("%w: %d outputs for %d channels", errMismatch, len(outs), comb.format.Channels)
	}
	if c.nd.Global[0] < w || c.nd.Global[1] < h {
		return nil, fmt.Errorf("%w: %v", errUncovered, c.nd.Global)
	}
	return func() error {
		for i, img := range outs {
			img.setPlane(0, w, h, comb.plane(i, w, h))
		}
		return nil
	}, nil
}

// bitplanes records, per code-block, how many magnitude bit-planes the
// block needs. The code-block is (local x, 4*local y) samples.
func bitplanes(c *call) (func() error, error) {
	src, blocks := c.image(compute.ArgBPCChannel), c.image(compute.ArgBPCBlocks)
	if src == nil || blocks == nil {
		return nil, fmt.Errorf("%w: missing images", errMismatch)
	}
	cbX, cbY := c.nd.Local[0], c.nd.Local[1]*4
	w, h := src.width, src.height
	if c.nd.Global[0] < w || c.nd.Global[1]*4 < h {
		return nil, fmt.Errorf("%w: %v for %dx%d", errUncovered, c.nd.Global, w, h)
	}
	bw, bh := compute.DivRoundUp(w, cbX), compute.DivRoundUp(h, cbY)
	if blocks.width < bw || blocks.height < bh {
		return nil, fmt.Errorf("%w: block map %dx%d need %dx%d", errMismatch, blocks.width, blocks.height, bw, bh)
	}
	return func() error {
		p := src.plane(0, w, h)
		counts := make([]float64, bw*bh)
		for by := 0; by < bh; by++ {
			for bx := 0; bx < bw; bx++ {
				maxVal := 0
				for y := by * cbY; y < min((by+1)*cbY, h); y++ {
					for x := bx * cbX; x < min((bx+1)*cbX, w); x++ {
						v := int(math.Abs(math.Round(p[y*w+x])))
						maxVal = max(maxVal, v)
					}
				}
				n := 0
				for maxVal > 0 {
					n++
					maxVal >>= 1
				}
				counts[by*bw+bx] = float64(n)
			}
		}
		blocks.setPlane(0, bw, bh, counts)
		return nil
	}, nil
}
