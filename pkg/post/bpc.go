package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

// BitPlaneCoder dispatches per code-block bit-plane coding once per channel.
// Each work item covers a column of four samples, so a work group is
// cbW x cbH/4 items. Results land in one block map per channel, holding the
// number of magnitude bit-planes of every code-block.
type BitPlaneCoder struct {
	dev        compute.Device
	kernel     compute.Kernel
	cbW, cbH   int
	width      int
	height     int
	blockMaps  []compute.Buffer
	blocksWide int
	blocksHigh int
}

// NewBitPlaneCoder compiles the coder for cbW x cbH code-blocks.
func NewBitPlaneCoder(dev compute.Device, cbW, cbH int) (*BitPlaneCoder, error) {
	if cbW <= 0 || cbH <= 0 || cbH%4 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrCodeBlock, cbW, cbH)
	}
	k, err := dev.NewKernel(compute.ProgramBPC, compute.EntryRun, "")
	if err != nil {
		return nil, compute.Wrap("build", compute.ProgramBPC, err)
	}
	return &BitPlaneCoder{dev: dev, kernel: k, cbW: cbW, cbH: cbH}, nil
}

// CodeBlockSize returns the configured code-block dimensions.
func (b *BitPlaneCoder) CodeBlockSize() (int, int) { return b.cbW, b.cbH }

// Blocks lists the code-blocks of the last run in raster order.
func (b *BitPlaneCoder) Blocks() []CodeBlock {
	return Partition(b.width, b.height, b.cbW, b.cbH)
}

// Range is the dispatch geometry for a width x height channel.
func (b *BitPlaneCoder) Range(width, height int) compute.NDRange {
	groupY := b.cbH / 4
	return compute.NewNDRange2D([2]int{},
		[2]int{roundUp(width, b.cbW), roundUp(compute.DivRoundUp(height, 4), groupY)},
		[2]int{b.cbW, groupY})
}

// Run enqueues one dispatch per channel of src. Multi-component sources
// must have been planarized first.
func (b *BitPlaneCoder) Run(ctx context.Context, src Source) ([]compute.NDRange, error) {
	chans := src.OutputChannels()
	if len(chans) == 0 {
		chans = []compute.Buffer{src.Output()}
	}
	if err := b.ensureMaps(src.Width(), src.Height(), len(chans)); err != nil {
		return nil, err
	}
	nd := b.Range(src.Width(), src.Height())
	out := make([]compute.NDRange, 0, len(chans))
	for i, c := range chans {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := b.kernel.SetArg(compute.ArgBPCChannel, c); err != nil {
			return out, b.fail(ctx, "set-arg", i, err)
		}
		if err := b.kernel.SetArg(compute.ArgBPCBlocks, b.blockMaps[i]); err != nil {
			return out, b.fail(ctx, "set-arg", i, err)
		}
		if err := b.kernel.Enqueue(nd); err != nil {
			return out, b.fail(ctx, "enqueue", i, err)
		}
		out = append(out, nd)
	}
	return out, nil
}

func (b *BitPlaneCoder) fail(ctx context.Context, op string, channel int, err error) error {
	err = compute.Wrap(op, b.kernel.Name(), err)
	slog.ErrorContext(ctx, "bit-plane dispatch failed", slog.Int("channel", channel), slog.Any("error", err))
	return err
}

// ensureMaps keeps one block map per channel sized for the current image.
func (b *BitPlaneCoder) ensureMaps(width, height, channels int) error {
	bw, bh := compute.DivRoundUp(width, b.cbW), compute.DivRoundUp(height, b.cbH)
	if bw == b.blocksWide && bh == b.blocksHigh && len(b.blockMaps) == channels {
		b.width, b.height = width, height
		return nil
	}
	if err := b.releaseMaps(); err != nil {
		return err
	}
	for i := 0; i < channels; i++ {
		m, err := b.dev.NewImage(bw, bh, compute.Format{Channels: 1, Type: compute.Int16})
		if err != nil {
			return errors.Join(compute.Wrap("alloc", b.kernel.Name(), err), b.releaseMaps())
		}
		b.blockMaps = append(b.blockMaps, m)
	}
	b.blocksWide, b.blocksHigh = bw, bh
	b.width, b.height = width, height
	return nil
}

func (b *BitPlaneCoder) releaseMaps() error {
	var errs []error
	for _, m := range b.blockMaps {
		errs = append(errs, m.Release())
	}
	b.blockMaps = nil
	b.blocksWide, b.blocksHigh = 0, 0
	return errors.Join(errs...)
}

// BlockInfo is the coding result of one code-block.
type BlockInfo struct {
	CodeBlock
	Planes int // significant magnitude bit-planes
}

// Results reads the per code-block results of channel in raster order. It
// waits for queued work.
func (b *BitPlaneCoder) Results(channel int) ([]BlockInfo, error) {
	if channel < 0 || channel >= len(b.blockMaps) {
		return nil, fmt.Errorf("channel %d of %d", channel, len(b.blockMaps))
	}
	raw := make([]float32, b.blocksWide*b.blocksHigh)
	if err := b.dev.Read(b.blockMaps[channel], compute.Full(b.blocksWide, b.blocksHigh), raw); err != nil {
		return nil, compute.Wrap("read", b.kernel.Name(), err)
	}
	blocks := b.Blocks()
	out := make([]BlockInfo, len(blocks))
	for i, cb := range blocks {
		out[i] = BlockInfo{CodeBlock: cb, Planes: int(raw[i])}
	}
	return out, nil
}

// Channels is the number of channels the last run coded.
func (b *BitPlaneCoder) Channels() int { return len(b.blockMaps) }

// Close releases the block maps and the kernel.
func (b *BitPlaneCoder) Close() error {
	return errors.Join(b.releaseMaps(), b.kernel.Release())
}
