package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/jpfielding/dwtgpu.go/pkg/compute/soft"
	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h, comps, precision int) *Image {
	img := &Image{Width: w, Height: h, Precision: precision}
	maxVal := 1<<precision - 1
	for c := 0; c < comps; c++ {
		p := make([]int32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p[y*w+x] = int32((x*3 + y*5 + c*40 + (x*y)%7) % (maxVal + 1))
			}
		}
		img.Components = append(img.Components, p)
	}
	return img
}

func smoothImage(w, h, comps int) *Image {
	img := &Image{Width: w, Height: h, Precision: 8}
	for c := 0; c < comps; c++ {
		p := make([]int32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p[y*w+x] = int32(60 + x + y + c*10)
			}
		}
		img.Components = append(img.Components, p)
	}
	return img
}

func TestLosslessRoundTrip(t *testing.T) {
	tests := []struct {
		name           string
		w, h, comps    int
		levels         int
		precision      int
		colorTransform bool
		async          bool
	}{
		{"gray", 64, 48, 1, 3, 8, false, false},
		{"odd gray 12-bit", 37, 29, 1, 4, 12, false, false},
		{"rgb rct", 40, 24, 3, 2, 8, true, false},
		{"rgba rct async", 33, 17, 4, 3, 8, true, true},
		{"rgb plain", 16, 16, 3, 5, 8, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dev := soft.New()
			opts := DefaultOptions()
			opts.Levels = tt.levels
			opts.ColorTransform = tt.colorTransform
			opts.Async = tt.async
			enc, err := NewEncoder(dev, opts)
			require.NoError(t, err)
			defer enc.Close()

			img := testImage(tt.w, tt.h, tt.comps, tt.precision)
			trace, err := enc.Encode(ctx, img)
			require.NoError(t, err)
			assert.Len(t, trace, tt.levels)
			coeffs, err := enc.Output()
			require.NoError(t, err)
			assert.False(t, coeffs.Quantized)
			assert.Equal(t, tt.colorTransform && tt.comps >= 3, coeffs.ColorTransform)

			dec, err := NewDecoder(dev, dwt.DefaultConfig())
			require.NoError(t, err)
			defer dec.Close()
			got, err := dec.Decode(ctx, coeffs)
			require.NoError(t, err)
			assert.Equal(t, img.Components, got.Components)
		})
	}
}

func TestLossyRoundTrip(t *testing.T) {
	for _, only := range []bool{false, true} {
		ctx := context.Background()
		dev := soft.New()
		opts := DefaultOptions()
		opts.Config.Lossy = true
		opts.Config.OnlyDWTOut = only
		opts.Levels = 3
		enc, err := NewEncoder(dev, opts)
		require.NoError(t, err)

		img := smoothImage(64, 64, 3)
		_, err = enc.Encode(ctx, img)
		require.NoError(t, err)
		coeffs, err := enc.Output()
		require.NoError(t, err)
		assert.Equal(t, !only, coeffs.Quantized)
		assert.False(t, coeffs.ColorTransform)

		dec, err := NewDecoder(dev, dwt.DefaultConfig())
		require.NoError(t, err)
		got, err := dec.Decode(ctx, coeffs)
		require.NoError(t, err)

		var sum float64
		n := 0
		for c := range img.Components {
			for i, v := range img.Components[c] {
				sum += math.Abs(float64(v - got.Components[c][i]))
				n++
			}
		}
		limit := 4.0
		if only {
			limit = 0.5
		}
		assert.Less(t, sum/float64(n), limit, "only dwt out %v", only)
		require.NoError(t, dec.Close())
		require.NoError(t, enc.Close())
		assert.Equal(t, 0, dev.Stats().Live)
	}
}

func TestEncoderReusesBuffers(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()
	opts := DefaultOptions()
	opts.Levels = 2
	enc, err := NewEncoder(dev, opts)
	require.NoError(t, err)
	defer enc.Close()
	assert.NotEmpty(t, enc.RunID())

	for i := 0; i < 3; i++ {
		_, err := enc.Encode(ctx, testImage(32, 32, 1, 8))
		require.NoError(t, err)
	}
	require.NoError(t, enc.Finish())
	st := enc.Resources().Stats()
	assert.Equal(t, 1, st.Reallocs)
	assert.Equal(t, 2, st.Reuses)

	_, err = enc.Encode(ctx, testImage(16, 32, 1, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, enc.Resources().Stats().Reallocs)
}

func TestEncoderBitPlanes(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()
	opts := DefaultOptions()
	opts.Levels = 2
	opts.BitPlaneCoding = true
	opts.CodeBlockW, opts.CodeBlockH = 16, 16
	enc, err := NewEncoder(dev, opts)
	require.NoError(t, err)
	defer enc.Close()

	_, err = enc.Encode(ctx, testImage(40, 24, 3, 8))
	require.NoError(t, err)
	blocks, err := enc.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	coeffs, err := enc.Output()
	require.NoError(t, err)
	for c, res := range blocks {
		require.Len(t, res, 3*2)
		for _, b := range res {
			maxVal := 0.0
			for y := b.Y; y < b.Y+b.Height; y++ {
				for x := b.X; x < b.X+b.Width; x++ {
					maxVal = math.Max(maxVal, math.Abs(float64(coeffs.Planes[c][y*40+x])))
				}
			}
			planes := 0
			for v := int(maxVal); v > 0; v >>= 1 {
				planes++
			}
			assert.Equal(t, planes, b.Planes)
		}
	}

	plain, err := NewEncoder(dev, DefaultOptions())
	require.NoError(t, err)
	_, err = plain.Blocks()
	assert.ErrorIs(t, err, dwt.ErrConfig)
	require.NoError(t, plain.Close())
}

func TestEncoderErrors(t *testing.T) {
	ctx := context.Background()
	dev := soft.New()

	opts := DefaultOptions()
	opts.Levels = 0
	_, err := NewEncoder(dev, opts)
	assert.ErrorIs(t, err, dwt.ErrLevel)

	opts = DefaultOptions()
	opts.BitPlaneCoding = true
	opts.CodeBlockH = 6
	_, err = NewEncoder(dev, opts)
	assert.ErrorIs(t, err, dwt.ErrConfig)

	enc, err := NewEncoder(dev, DefaultOptions())
	require.NoError(t, err)
	defer enc.Close()
	_, err = enc.Output()
	assert.ErrorIs(t, err, dwt.ErrNotConfigured)

	_, err = enc.Encode(ctx, &Image{Width: 4, Height: 4, Precision: 8, Components: [][]int32{make([]int32, 3)}})
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = enc.Encode(ctx, testImage(8, 8, 2, 8))
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = enc.Encode(ctx, testImage(8, 8, 1, 14))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDequantize(t *testing.T) {
	c := &Coefficients{Width: 4, Height: 4, Levels: 1, Precision: 8, Lossy: true, Quantized: true,
		Planes: [][]float32{{
			2, 0, -1, 3,
			0, 1, 0, 0,
			0, 0, 2, 0,
			-3, 0, 0, 1,
		}}}
	out, err := Dequantize(c)
	require.NoError(t, err)
	ll, err := dwt.Step(1, 0, dwt.BandLL, 8, dwt.StepDerived)
	require.NoError(t, err)
	hl, err := dwt.Step(1, 0, dwt.BandHL, 8, dwt.StepDerived)
	require.NoError(t, err)
	hh, err := dwt.Step(1, 0, dwt.BandHH, 8, dwt.StepDerived)
	require.NoError(t, err)
	assert.InDelta(t, 2.5*ll, out[0][0], 1e-5)
	assert.Zero(t, out[0][1])
	assert.InDelta(t, -1.5*hl, out[0][2], 1e-5)
	assert.InDelta(t, 2.5*hh, out[0][10], 1e-5)
	assert.InDelta(t, -3.5*hl, out[0][12], 1e-5)
	// input untouched
	assert.Equal(t, float32(2), c.Planes[0][0])
}

func TestContainerRoundTrip(t *testing.T) {
	c := &Coefficients{Width: 5, Height: 3, Levels: 2, Precision: 8, Lossy: true, Quantized: true,
		StepMode: dwt.StepLiteral, Planes: [][]float32{make([]float32, 15), make([]float32, 15), make([]float32, 15)}}
	for p := range c.Planes {
		for i := range c.Planes[p] {
			c.Planes[p][i] = float32(i*p) - 7.25
		}
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCoefficients(&buf, c))
	got, err := ReadCoefficients(&buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestContainerErrors(t *testing.T) {
	_, err := ReadCoefficients(bytes.NewReader([]byte("not zstd at all")))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	c := &Coefficients{Width: 2, Height: 2, Levels: 1, Precision: 8, Planes: [][]float32{make([]float32, 4)}}
	var buf bytes.Buffer
	require.NoError(t, WriteCoefficients(&buf, c))
	data := buf.Bytes()
	_, err = ReadCoefficients(bytes.NewReader(data[:len(data)/2]))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	c.Planes = nil
	assert.ErrorIs(t, WriteCoefficients(&buf, c), ErrInvalidImage)
}

// rawContainer compresses a magic, version and header with no sample data.
func rawContainer(t *testing.T, h header) []byte {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, binary.Write(zw, binary.LittleEndian, containerMagic))
	require.NoError(t, binary.Write(zw, binary.LittleEndian, uint16(containerVersion)))
	require.NoError(t, binary.Write(zw, binary.LittleEndian, h))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestContainerRejectsOversizedHeader(t *testing.T) {
	for _, h := range []header{
		{Width: 0xffffffff, Height: 0xffffffff, Planes: 1, Levels: 1, Precision: 8},
		{Width: 1<<32 - 1, Height: 1, Planes: 1, Levels: 1, Precision: 8},
		{Width: maxSide + 1, Height: 1, Planes: 1, Levels: 1, Precision: 8},
		{Width: 1 << 15, Height: 1 << 15, Planes: 1, Levels: 1, Precision: 8},
		{Width: 0, Height: 4, Planes: 1, Levels: 1, Precision: 8},
	} {
		_, err := ReadCoefficients(bytes.NewReader(rawContainer(t, h)))
		assert.ErrorIs(t, err, ErrInvalidFormat, "%dx%d", h.Width, h.Height)
	}

	// a sane header still needs its samples
	_, err := ReadCoefficients(bytes.NewReader(rawContainer(t, header{Width: 4, Height: 4, Planes: 1, Levels: 1, Precision: 8})))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestImageConversion(t *testing.T) {
	gray := image.NewGray(image.Rect(2, 3, 6, 5))
	gray.SetGray(3, 4, color.Gray{Y: 200})
	img, err := FromImage(gray)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 2, img.Height)
	require.Len(t, img.Components, 1)
	assert.Equal(t, int32(200), img.Components[0][1*4+1])

	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range rgba.Pix {
		rgba.Pix[i] = 0xff
	}
	rgba.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff})
	img, err = FromImage(rgba)
	require.NoError(t, err)
	require.Len(t, img.Components, 3)
	assert.Equal(t, []int32{255, 255, 255, 10}, img.Components[0])

	rgba.SetNRGBA(0, 0, color.NRGBA{A: 0x80})
	img, err = FromImage(rgba)
	require.NoError(t, err)
	require.Len(t, img.Components, 4)

	back, err := img.ToImage()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff}, back.At(1, 1))
	assert.Equal(t, color.NRGBA{A: 0x80}, back.At(0, 0))

	twelve := &Image{Width: 1, Height: 2, Precision: 12, Components: [][]int32{{4095, -3}}}
	out, err := twelve.ToImage()
	require.NoError(t, err)
	assert.Equal(t, color.Gray16{Y: 0xffff}, out.At(0, 0))
	assert.Equal(t, color.Gray16{Y: 0}, out.At(0, 1))
}

func TestReducePrecision(t *testing.T) {
	img := &Image{Width: 2, Height: 1, Precision: 16, Components: [][]int32{{0xffff, 0x0100}}}
	require.NoError(t, img.ReducePrecision(8))
	assert.Equal(t, 8, img.Precision)
	assert.Equal(t, []int32{0xff, 0x01}, img.Components[0])
	assert.Error(t, img.ReducePrecision(12))
}
