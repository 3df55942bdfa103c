package dwt

import (
	"context"
	"errors"
	"testing"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/jpfielding/dwtgpu.go/pkg/compute/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBuffers is a minimal single channel pyramid over a soft device.
type testBuffers struct {
	w, h, levels, precision int
	in                      []compute.Buffer
	out                     compute.Buffer
}

func newTestBuffers(t *testing.T, dev compute.Device, cfg Config, w, h, levels int) *testBuffers {
	t.Helper()
	b := &testBuffers{w: w, h: h, levels: levels, precision: 8}
	for _, d := range LevelDims(w, h, levels) {
		img, err := dev.NewImage(d.Width, d.Height, cfg.Format(1))
		require.NoError(t, err)
		b.in = append(b.in, img)
	}
	out, err := dev.NewImage(w, h, cfg.OutputFormat(1))
	require.NoError(t, err)
	b.out = out
	return b
}

func (b *testBuffers) Width() int     { return b.w }
func (b *testBuffers) Height() int    { return b.h }
func (b *testBuffers) Levels() int    { return b.levels }
func (b *testBuffers) Precision() int { return b.precision }
func (b *testBuffers) Input(level int) (compute.Buffer, error) {
	if level < 0 || level >= len(b.in) {
		return nil, ErrLevel
	}
	return b.in[level], nil
}
func (b *testBuffers) Output() compute.Buffer          { return b.out }
func (b *testBuffers) Ready(ctx context.Context) error { return ctx.Err() }

func ramp(w, h int) []float32 {
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float32((x*7 + y*13 + (x*y)%11) % 256)
		}
	}
	return out
}

func TestForwardLevels(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()
	cfg := DefaultConfig()
	bufs := newTestBuffers(t, dev, cfg, 64, 64, 3)

	fwd, err := NewForward(dev, cfg)
	require.NoError(t, err)
	defer fwd.Close()

	trace, err := fwd.Run(ctx, bufs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, trace.Levels())
	var dims []Dims
	for _, p := range trace {
		dims = append(dims, Dims{p.Width, p.Height})
		assert.Nil(t, p.Quant)
		assert.Equal(t, [3]int{0, -2, 0}, p.Range.Offset)
	}
	assert.Equal(t, []Dims{{64, 64}, {32, 32}, {16, 16}}, dims)

	ds := dev.Dispatches()
	require.Len(t, ds, 3)
	for i, d := range ds {
		assert.Equal(t, i, d.Uint(compute.ArgFwdLevel))
		assert.Equal(t, 3, d.Uint(compute.ArgFwdLevels))
		assert.Equal(t, bufs.in[i].ID(), d.BufferID(compute.ArgFwdIn))
		assert.Equal(t, bufs.out.ID(), d.BufferID(compute.ArgFwdCombined))
	}
	// LL feedback: each level writes the next pyramid buffer, the last the output
	assert.Equal(t, bufs.in[1].ID(), ds[0].BufferID(compute.ArgFwdOut))
	assert.Equal(t, bufs.in[2].ID(), ds[1].BufferID(compute.ArgFwdOut))
	assert.Equal(t, bufs.out.ID(), ds[2].BufferID(compute.ArgFwdOut))

	// nothing executed until the queue is finished
	assert.Equal(t, 3, dev.Pending())
	require.NoError(t, dev.Finish())
	assert.Equal(t, 0, dev.Pending())
}

func TestForwardQuantizedBindsScalars(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()
	cfg := DefaultConfig()
	cfg.Lossy = true
	bufs := newTestBuffers(t, dev, cfg, 40, 24, 2)

	fwd, err := NewForward(dev, cfg)
	require.NoError(t, err)
	trace, err := fwd.Run(ctx, bufs)
	require.NoError(t, err)
	require.Len(t, trace, 2)

	ds := dev.Dispatches()
	for i, p := range trace {
		require.NotNil(t, p.Quant)
		assert.Equal(t, [3]int{0, -4, 0}, p.Range.Offset)
		assert.Equal(t, p.Quant.LL, ds[i].Float(compute.ArgFwdQuantLL))
		assert.Equal(t, p.Quant.LH, ds[i].Float(compute.ArgFwdQuantLH))
		assert.Equal(t, p.Quant.HH, ds[i].Float(compute.ArgFwdQuantHH))
		q, err := QuantizersFor(2, i, 8, StepDerived)
		require.NoError(t, err)
		assert.Equal(t, q, *p.Quant)
	}
	require.NoError(t, dev.Finish())
}

func roundTrip(t *testing.T, cfg Config, w, h, levels int) (src, got []float32) {
	t.Helper()
	ctx := context.Background()
	dev := soft.New(soft.WithWorkers(3))
	src = ramp(w, h)

	fbufs := newTestBuffers(t, dev, cfg, w, h, levels)
	require.NoError(t, dev.Write(fbufs.in[0], compute.Full(w, h), src, true))
	fwd, err := NewForward(dev, cfg)
	require.NoError(t, err)
	_, err = fwd.Run(ctx, fbufs)
	require.NoError(t, err)
	coeffs := make([]float32, w*h)
	require.NoError(t, dev.Read(fbufs.out, compute.Full(w, h), coeffs))

	rbufs := newTestBuffers(t, dev, cfg, w, h, levels)
	require.NoError(t, dev.Write(rbufs.in[0], compute.Full(w, h), coeffs, true))
	rev, err := NewReverse(dev, cfg)
	require.NoError(t, err)
	trace, err := rev.Run(ctx, rbufs)
	require.NoError(t, err)

	want := make([]int, levels)
	for i := range want {
		want[i] = levels - 1 - i
	}
	assert.Equal(t, want, trace.Levels())

	got = make([]float32, w*h)
	require.NoError(t, dev.Read(rbufs.out, compute.Full(w, h), got))
	return src, got
}

func TestRoundTripLossless(t *testing.T) {
	for _, tc := range []struct{ w, h, levels int }{
		{64, 64, 3}, {37, 21, 4}, {1, 9, 2}, {130, 3, 1},
	} {
		src, got := roundTrip(t, DefaultConfig(), tc.w, tc.h, tc.levels)
		assert.Equal(t, src, got, "%dx%d levels %d", tc.w, tc.h, tc.levels)
	}
}

func TestRoundTripLossyUnquantized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lossy = true
	cfg.OnlyDWTOut = true
	src, got := roundTrip(t, cfg, 48, 33, 3)
	for i := range src {
		assert.InDelta(t, src[i], got[i], 1, "sample %d", i)
	}
}

func TestForwardDeviceFailureStopsChain(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()
	cfg := DefaultConfig()
	bufs := newTestBuffers(t, dev, cfg, 64, 64, 4)
	fwd, err := NewForward(dev, cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	dev.InjectFault("enqueue", 1, boom)
	trace, err := fwd.Run(ctx, bufs)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, compute.IsDeviceError(err))
	assert.False(t, errors.Is(err, ErrConfig))
	assert.Len(t, trace, 1)
	assert.Len(t, dev.Dispatches(), 1)
}

func TestRunNotConfigured(t *testing.T) {
	dev := soft.New()
	fwd, err := NewForward(dev, DefaultConfig())
	require.NoError(t, err)
	_, err = fwd.Run(context.Background(), &testBuffers{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	rev, err := NewReverse(dev, DefaultConfig())
	require.NoError(t, err)
	_, err = rev.Run(context.Background(), &testBuffers{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRunCancelled(t *testing.T) {
	dev := soft.New()
	cfg := DefaultConfig()
	bufs := newTestBuffers(t, dev, cfg, 16, 16, 2)
	fwd, err := NewForward(dev, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trace, err := fwd.Run(ctx, bufs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, trace)
	assert.Empty(t, dev.Dispatches())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.TileY = 0
	assert.ErrorIs(t, cfg.Validate(), ErrTileSize)
	_, err := NewForward(soft.New(), cfg)
	assert.ErrorIs(t, err, ErrConfig)
}
