package soft

import (
	"errors"
	"math"
	"math/rand"
	"runtime"
	"strings"
	"testing"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifting53RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{2, 3, 4, 9, 16, 33} {
		signal := make([]int, n)
		for i := range signal {
			signal[i] = rng.Intn(512) - 256
		}
		orig := append([]int(nil), signal...)
		low, high := make([]int, n), make([]int, n)
		analyze53(signal, low, high)
		synthesize53(signal, low, high)
		assert.Equal(t, orig, signal, "n=%d", n)
	}
}

func TestLifting53Constant(t *testing.T) {
	signal := []int{10, 10, 10, 10, 10, 10}
	low, high := make([]int, 6), make([]int, 6)
	analyze53(signal, low, high)
	assert.Equal(t, []int{10, 10, 10, 0, 0, 0}, signal)
}

func TestLifting97RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for _, n := range []int{2, 5, 8, 31} {
		x := make([]float64, n)
		for i := range x {
			x[i] = rng.Float64()*200 - 100
		}
		orig := append([]float64(nil), x...)
		tmp := make([]float64, n)
		analyze97(x, tmp)
		synthesize97(x, tmp)
		assert.InDeltaSlice(t, orig, x, 1e-9, "n=%d", n)
	}
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, -2, floorDiv(-3, 2))
	assert.Equal(t, 1, floorDiv(3, 2))
	assert.Equal(t, -1, floorDiv(-1, 4))
	assert.Equal(t, 0, floorDiv(0, 4))
}

func TestMirror(t *testing.T) {
	assert.Equal(t, 1, mirror(-1, 5))
	assert.Equal(t, 3, mirror(5, 5))
	assert.Equal(t, 0, mirror(2, 2))
}

func TestTransform2DWorkers(t *testing.T) {
	w, h := 23, 17
	p := make([]float64, w*h)
	for i := range p {
		p[i] = float64(i % 37)
	}
	serial := append([]float64(nil), p...)
	require.NoError(t, transform2D(serial, w, h, 1, line53(false), false))
	parallel := append([]float64(nil), p...)
	require.NoError(t, transform2D(parallel, w, h, 5, line53(false), false))
	assert.Equal(t, serial, parallel)

	require.NoError(t, transform2D(parallel, w, h, 4, line53(true), true))
	assert.Equal(t, p, parallel)
}

func TestDeviceName(t *testing.T) {
	parts := strings.Split(New(WithWorkers(3)).Name(), "/")
	require.GreaterOrEqual(t, len(parts), 3)
	assert.Equal(t, []string{"soft", runtime.GOARCH, "3"}, parts[:3])
	if len(parts) > 3 {
		require.Len(t, parts, 4)
		assert.Contains(t, []string{"avx512", "avx2", "sve", "neon"}, parts[3])
	}
}

func TestImageLifecycle(t *testing.T) {
	dev := New()
	img, err := dev.NewImage(4, 2, compute.Format{Channels: 1, Type: compute.Int16})
	require.NoError(t, err)
	assert.Equal(t, Stats{Allocs: 1, Live: 1}, dev.Stats())

	require.NoError(t, dev.Write(img, compute.Full(4, 2), []float32{1.4, 2.6, -40000, 40000, 5, 6, 7, 8}, true))
	got := make([]float32, 8)
	require.NoError(t, dev.Read(img, compute.Full(4, 2), got))
	assert.Equal(t, []float32{1, 3, math.MinInt16, math.MaxInt16, 5, 6, 7, 8}, got)

	sub := make([]float32, 2)
	require.NoError(t, dev.Read(img, compute.Region{X: 2, Y: 1, Width: 2, Height: 1}, sub))
	assert.Equal(t, []float32{7, 8}, sub)

	require.NoError(t, img.Release())
	assert.ErrorIs(t, img.Release(), compute.ErrReleased)
	err = dev.Read(img, compute.Full(4, 2), got)
	assert.ErrorIs(t, err, compute.ErrReleased)
	assert.True(t, compute.IsDeviceError(err))

	s := dev.Stats()
	assert.Equal(t, 0, s.Live)
	assert.Equal(t, 1, s.Releases)
}

func TestImageErrors(t *testing.T) {
	dev := New(WithMaxLive(1))
	_, err := dev.NewImage(0, 2, compute.Format{Channels: 1})
	assert.ErrorIs(t, err, compute.ErrRegion)
	_, err = dev.NewImage(2, 2, compute.Format{Channels: 3})
	assert.Error(t, err)

	img, err := dev.NewImage(2, 2, compute.Format{Channels: 4, Type: compute.Float32})
	require.NoError(t, err)
	_, err = dev.NewImage(2, 2, compute.Format{Channels: 1})
	assert.ErrorIs(t, err, compute.ErrOutOfResources)

	err = dev.Write(img, compute.Full(2, 2), make([]float32, 15), false)
	assert.ErrorIs(t, err, compute.ErrShortBuffer)
	err = dev.Write(img, compute.Full(3, 2), make([]float32, 24), false)
	assert.ErrorIs(t, err, compute.ErrRegion)

	other := New()
	err = other.Write(img, compute.Full(2, 2), make([]float32, 16), true)
	assert.ErrorIs(t, err, compute.ErrForeignBuffer)
}

func TestDeferredExecution(t *testing.T) {
	dev := New()
	img, err := dev.NewImage(2, 1, compute.Format{Channels: 1, Type: compute.Float32})
	require.NoError(t, err)
	require.NoError(t, dev.Write(img, compute.Full(2, 1), []float32{1, 2}, false))
	require.NoError(t, dev.Write(img, compute.Full(2, 1), []float32{3, 4}, false))
	assert.Equal(t, 2, dev.Pending())
	assert.Equal(t, 2, dev.Stats().AsyncWrites)

	// reads observe the queue in submission order
	got := make([]float32, 2)
	require.NoError(t, dev.Read(img, compute.Full(2, 1), got))
	assert.Equal(t, []float32{3, 4}, got)
	assert.Equal(t, 0, dev.Pending())
}

func TestInjectFault(t *testing.T) {
	dev := New()
	boom := errors.New("boom")
	dev.InjectFault("alloc", 1, boom)
	_, err := dev.NewImage(1, 1, compute.Format{Channels: 1})
	require.NoError(t, err)
	_, err = dev.NewImage(1, 1, compute.Format{Channels: 1})
	require.ErrorIs(t, err, boom)
	var de *compute.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "alloc", de.Op)
	// the fault fires once
	_, err = dev.NewImage(1, 1, compute.Format{Channels: 1})
	require.NoError(t, err)

	dev.InjectFault("write", 0, boom)
	dev.ClearFaults()
	img, err := dev.NewImage(1, 1, compute.Format{Channels: 1})
	require.NoError(t, err)
	require.NoError(t, dev.Write(img, compute.Full(1, 1), []float32{1}, true))
}

func TestKernelArgs(t *testing.T) {
	dev := New()
	k, err := dev.NewKernel(compute.ProgramForward53, compute.EntryRun, compute.TileOptions(16, 4))
	require.NoError(t, err)
	assert.Equal(t, "dwt53.cl:run", k.Name())

	assert.ErrorIs(t, k.SetArg(8, uint32(1)), compute.ErrArgIndex)
	assert.ErrorIs(t, k.SetArg(3, 1.5), compute.ErrArgType)
	other := New()
	foreign, err := other.NewImage(1, 1, compute.Format{Channels: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, k.SetArg(0, foreign), compute.ErrForeignBuffer)

	nd := compute.NewNDRange2D([2]int{0, -2}, [2]int{1, 16}, [2]int{1, 4})
	err = k.Enqueue(nd)
	assert.ErrorIs(t, err, compute.ErrMissingArg)

	_, err = dev.NewKernel("nope.cl", compute.EntryRun, "")
	assert.ErrorIs(t, err, compute.ErrUnknownKernel)
}

func TestForwardRejectsBadGeometry(t *testing.T) {
	dev := New()
	f := compute.Format{Channels: 1, Type: compute.Int16}
	in, _ := dev.NewImage(32, 16, f)
	ll, _ := dev.NewImage(16, 8, f)
	comb, _ := dev.NewImage(32, 16, f)
	k, err := dev.NewKernel(compute.ProgramForward53, compute.EntryRun, compute.TileOptions(16, 4))
	require.NoError(t, err)
	for i, v := range []any{in, ll, comb, uint32(32), uint32(16), uint32(1), uint32(0), uint32(2)} {
		require.NoError(t, k.SetArg(i, v))
	}
	// local y does not match the compiled window
	err = k.Enqueue(compute.NewNDRange2D([2]int{0, -2}, [2]int{2, 24}, [2]int{1, 8}))
	assert.ErrorIs(t, err, errTile)
	// missing boundary overlap
	err = k.Enqueue(compute.NewNDRange2D([2]int{0, 0}, [2]int{2, 20}, [2]int{1, 4}))
	assert.ErrorIs(t, err, errOverlap)
	// too few columns
	err = k.Enqueue(compute.NewNDRange2D([2]int{0, -2}, [2]int{1, 20}, [2]int{1, 4}))
	assert.ErrorIs(t, err, errUncovered)
	// good
	require.NoError(t, k.Enqueue(compute.NewNDRange2D([2]int{0, -2}, [2]int{2, 20}, [2]int{1, 4})))
	assert.Equal(t, 1, dev.Stats().Dispatches)
	require.NoError(t, dev.Finish())
}

func TestPlanarAndBitplanes(t *testing.T) {
	dev := New()
	comb, err := dev.NewImage(4, 4, compute.Format{Channels: 4, Type: compute.Int16})
	require.NoError(t, err)
	src := make([]float32, 4*4*4)
	for i := range src {
		src[i] = float32(i % 4 * (i / 4))
	}
	require.NoError(t, dev.Write(comb, compute.Full(4, 4), src, true))

	var chans []compute.Buffer
	pk, err := dev.NewKernel(compute.ProgramPlanar, compute.EntryRun, "")
	require.NoError(t, err)
	require.NoError(t, pk.SetArg(compute.ArgPlanarCombined, comb))
	require.NoError(t, pk.SetArg(compute.ArgPlanarWidth, uint32(4)))
	require.NoError(t, pk.SetArg(compute.ArgPlanarHeight, uint32(4)))
	for c := 0; c < 4; c++ {
		img, err := dev.NewImage(4, 4, compute.Format{Channels: 1, Type: compute.Int16})
		require.NoError(t, err)
		require.NoError(t, pk.SetArg(compute.ArgPlanarChannel0+c, img))
		chans = append(chans, img)
	}
	require.NoError(t, pk.Enqueue(compute.NewNDRange2D([2]int{}, [2]int{16, 16}, [2]int{16, 16})))

	got := make([]float32, 16)
	require.NoError(t, dev.Read(chans[3], compute.Full(4, 4), got))
	for i, v := range got {
		assert.Equal(t, float32(3*i), v)
	}

	// two 2x4 code-blocks: magnitudes up to 3 need 2 planes, 100 needs 7
	plane, err := dev.NewImage(4, 4, compute.Format{Channels: 1, Type: compute.Float32})
	require.NoError(t, err)
	vals := make([]float32, 16)
	for i := range vals {
		vals[i] = -3
		if i%4 >= 2 {
			vals[i] = float32(i * 6)
		}
	}
	require.NoError(t, dev.Write(plane, compute.Full(4, 4), vals, false))
	blocks, err := dev.NewImage(2, 1, compute.Format{Channels: 1, Type: compute.Int16})
	require.NoError(t, err)
	bk, err := dev.NewKernel(compute.ProgramBPC, compute.EntryRun, "")
	require.NoError(t, err)
	require.NoError(t, bk.SetArg(compute.ArgBPCChannel, plane))
	require.NoError(t, bk.SetArg(compute.ArgBPCBlocks, blocks))
	require.NoError(t, bk.Enqueue(compute.NewNDRange2D([2]int{}, [2]int{4, 1}, [2]int{2, 1})))
	counts := make([]float32, 2)
	require.NoError(t, dev.Read(blocks, compute.Full(2, 1), counts))
	assert.Equal(t, []float32{2, 7}, counts)
}
