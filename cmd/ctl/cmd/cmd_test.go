package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 23, 17))
	for y := 0; y < 17; y++ {
		for x := 0; x < 23; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 9), G: uint8(y * 13), B: uint8(x * y), A: 0xff})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return img
}

func run(t *testing.T, args ...string) error {
	_, err := runOutput(t, args...)
	return err
}

func runOutput(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRoot(context.Background(), "test")
	root.SetArgs(args)
	root.SetOut(&out)
	err := root.Execute()
	return out.String(), err
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	coeffs := filepath.Join(dir, "in.dwtz")
	dst := filepath.Join(dir, "out.png")
	want := writePNG(t, src)

	require.NoError(t, run(t, "encode", "--log-level", "error", "-i", src, "-o", coeffs, "--levels", "3", "--bpc", "--cb", "8"))
	require.NoError(t, run(t, "decode", "--log-level", "error", "-i", coeffs, "-o", dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, want.Bounds(), got.Bounds())
	for y := 0; y < 17; y++ {
		for x := 0; x < 23; x++ {
			require.Equal(t, want.At(x, y), color.NRGBAModel.Convert(got.At(x, y)), "%d,%d", x, y)
		}
	}
}

func TestEncodeFlagErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	writePNG(t, src)
	out := filepath.Join(dir, "x.dwtz")
	assert.Error(t, run(t, "encode", "-i", src, "-o", out, "--only-dwt"))
	assert.Error(t, run(t, "encode", "-i", src, "-o", out, "--step-mode", "guess"))
	assert.Error(t, run(t, "encode", "-i", filepath.Join(dir, "missing.png"), "-o", out))
	assert.Error(t, run(t, "decode", "-i", src, "-o", filepath.Join(dir, "y.png")))
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	coeffs := filepath.Join(dir, "in.dwtz")
	writePNG(t, src)
	require.NoError(t, run(t, "encode", "--log-level", "error", "-i", src, "-o", coeffs, "--levels", "2", "--lossy"))
	require.NoError(t, run(t, "inspect", coeffs))

	dump := filepath.Join(dir, "hh.txt")
	require.NoError(t, run(t, "inspect", "-f", coeffs, "--dump-band", "HH", "--dump-level", "1", "--out", dump))
	assert.FileExists(t, dump)
	assert.Error(t, run(t, "inspect", "-f", coeffs, "--dump-band", "XX"))
}

func TestBench(t *testing.T) {
	out, err := runOutput(t, "bench", "--log-level", "error", "--iterations", "3", "--width", "32", "--height", "32", "--levels", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "3 x 32x32x1 in ")
	// one allocation, then the same buffers for every later encode
	assert.Contains(t, out, "buffers: allocs=3 reallocs=1 reuses=2 uploads=3")
	assert.Contains(t, out, "device: soft/")

	assert.Error(t, run(t, "bench", "--log-level", "error", "--components", "2", "--width", "8", "--height", "8"))
}

func TestStatsOf(t *testing.T) {
	s := statsOf([]float32{0, -3, 4, 0})
	assert.Equal(t, float32(-3), s.Min)
	assert.Equal(t, float32(4), s.Max)
	assert.Equal(t, 2, s.Zeros)
	assert.InDelta(t, 2.5, s.Energy, 1e-9)
}
