package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jpfielding/dwtgpu.go/pkg/dwt"
	"github.com/klauspost/compress/zstd"
)

// Container layout, little-endian, zstd compressed as a whole:
//
//	magic "DWTZ" | version u16 | header | planes x width x height float32
const containerVersion = 1

// Bounds on the dimensions a container header may declare.
const (
	maxSide    = 1 << 16
	maxSamples = 1 << 28
)

var (
	containerMagic = [4]byte{'D', 'W', 'T', 'Z'}

	ErrInvalidFormat = errors.New("invalid coefficient container")
)

const (
	flagLossy = 1 << iota
	flagQuantized
	flagColorTransform
)

type header struct {
	Width     uint32
	Height    uint32
	Planes    uint8
	Levels    uint8
	Precision uint8
	Flags     uint8
	StepMode  uint8
	_         [3]byte
}

// WriteCoefficients stores c in the compressed container format.
func WriteCoefficients(w io.Writer, c *Coefficients) error {
	if err := c.Validate(); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(zw)
	h := header{
		Width:     uint32(c.Width),
		Height:    uint32(c.Height),
		Planes:    uint8(len(c.Planes)),
		Levels:    uint8(c.Levels),
		Precision: uint8(c.Precision),
		StepMode:  uint8(c.StepMode),
	}
	if c.Lossy {
		h.Flags |= flagLossy
	}
	if c.Quantized {
		h.Flags |= flagQuantized
	}
	if c.ColorTransform {
		h.Flags |= flagColorTransform
	}
	err = errors.Join(
		binary.Write(bw, binary.LittleEndian, containerMagic),
		binary.Write(bw, binary.LittleEndian, uint16(containerVersion)),
		binary.Write(bw, binary.LittleEndian, h),
	)
	if err != nil {
		zw.Close()
		return err
	}
	buf := make([]byte, 4*c.Width)
	for _, p := range c.Planes {
		for y := 0; y < c.Height; y++ {
			for x, v := range p[y*c.Width : (y+1)*c.Width] {
				binary.LittleEndian.PutUint32(buf[4*x:], math.Float32bits(v))
			}
			if _, err := bw.Write(buf); err != nil {
				zw.Close()
				return err
			}
		}
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadCoefficients parses a container written by WriteCoefficients.
func ReadCoefficients(r io.Reader) (*Coefficients, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	defer zr.Close()

	var magic [4]byte
	if err := binary.Read(zr, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if magic != containerMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrInvalidFormat, magic[:])
	}
	var version uint16
	if err := binary.Read(zr, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if version != containerVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidFormat, version)
	}
	var h header
	if err := binary.Read(zr, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	// checked before anything is sized from the header
	if h.Width == 0 || h.Height == 0 || h.Width > maxSide || h.Height > maxSide ||
		uint64(h.Width)*uint64(h.Height) > maxSamples {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidFormat, h.Width, h.Height)
	}
	c := &Coefficients{
		Width:          int(h.Width),
		Height:         int(h.Height),
		Levels:         int(h.Levels),
		Precision:      int(h.Precision),
		Lossy:          h.Flags&flagLossy != 0,
		Quantized:      h.Flags&flagQuantized != 0,
		ColorTransform: h.Flags&flagColorTransform != 0,
		StepMode:       dwt.StepMode(h.StepMode),
		Planes:         make([][]float32, h.Planes),
	}
	if h.Planes == 0 || h.Planes > 4 {
		return nil, fmt.Errorf("%w: %d planes", ErrInvalidFormat, h.Planes)
	}

	buf := make([]byte, 4*c.Width)
	for i := range c.Planes {
		p := make([]float32, c.Width*c.Height)
		for y := 0; y < c.Height; y++ {
			if _, err := io.ReadFull(zr, buf); err != nil {
				return nil, fmt.Errorf("%w: plane %d row %d: %w", ErrInvalidFormat, i, y, err)
			}
			for x := 0; x < c.Width; x++ {
				p[y*c.Width+x] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*x:]))
			}
		}
		c.Planes[i] = p
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return c, nil
}
